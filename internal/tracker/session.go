package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/activity_tracker/internal/sensors"
)

// readingsBuffer bounds the hand-off between a source and the poller.
const readingsBuffer = 64

var (
	// ErrSourceClosed is returned when a source stops on its own.
	ErrSourceClosed = errors.New("sensor source closed")

	// ErrSessionStarted is returned by Start on a session that already ran.
	ErrSessionStarted = errors.New("session already started")
)

// Session is one tracking session: the sensor subscription, the sampling
// loop and the prediction tick share one lifetime and stop together.
type Session struct {
	id      string
	source  sensors.Source
	poller  *sensors.Poller
	tracker *Tracker
	logger  *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	startedAt time.Time
}

// SessionOption configures a Session.
type SessionOption func(s *Session)

// WithSessionLogger sets the session logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession wires a source, a poller and a tracker into a session.
func NewSession(source sensors.Source, poller *sensors.Poller, tracker *Tracker, options ...SessionOption) (*Session, error) {
	if source == nil || poller == nil || tracker == nil {
		return nil, fmt.Errorf("session: source, poller and tracker are required")
	}

	s := &Session{
		id:      uuid.NewString(),
		source:  source,
		poller:  poller,
		tracker: tracker,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(s)
	}
	s.logger = s.logger.With(slog.String("session", s.id), slog.String("source", source.Name()))
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// StartedAt returns when Start was called.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Start begins streaming, sampling and classifying. The window starts empty.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return ErrSessionStarted
	}

	s.poller.Reset()

	ctx, s.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	readings := make(chan sensors.Reading, readingsBuffer)

	g.Go(func() error {
		err := s.source.Stream(gctx, readings)
		if err != nil {
			return fmt.Errorf("source %s: %w", s.source.Name(), err)
		}
		if gctx.Err() == nil {
			return ErrSourceClosed
		}
		return nil
	})
	g.Go(func() error {
		return s.poller.Run(gctx, readings)
	})
	g.Go(func() error {
		return s.tracker.Run(gctx)
	})

	done := make(chan struct{})
	s.done = done
	s.startedAt = time.Now()
	s.logger.Info("session started")

	go func() {
		err := g.Wait()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(done)
	}()
	return nil
}

// Done is closed once every session goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop cancels the sensor subscription and the tick together and waits for
// both to exit. No activity event is published after Stop returns.
func (s *Session) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	<-done

	s.logger.Info("session stopped", slog.String("label", s.tracker.Label().String()))
	return s.Err()
}
