// Package tracker runs the periodic prediction cycle and keeps the current
// activity label.
//
// Each tick takes a snapshot of the sample window, extracts features,
// classifies them and updates the label. A label transition emits one
// ChangeEvent, and every completed cycle emits one UpdateEvent. Failed cycles
// keep the previous label and emit nothing unless degraded updates are
// enabled, in which case an explicit Unknown update is published.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/activity_tracker/internal/activity"
	"github.com/relabs-tech/activity_tracker/internal/classifier"
	"github.com/relabs-tech/activity_tracker/internal/features"
	"github.com/relabs-tech/activity_tracker/internal/imu"
	"github.com/relabs-tech/activity_tracker/internal/window"
)

// DefaultPeriod is the prediction cadence.
const DefaultPeriod = time.Second

var (
	// ErrCycleInFlight is returned when a cycle is requested while another
	// one is still running.
	ErrCycleInFlight = errors.New("prediction cycle already in flight")

	// ErrWarmingUp is returned while the window has not yet reached capacity
	// under the rolling policy.
	ErrWarmingUp = errors.New("window not full yet")

	// ErrAlreadyRunning is returned by Start on a running tracker.
	ErrAlreadyRunning = errors.New("tracker already running")
)

// Classifier labels a raw feature vector.
type Classifier interface {
	Classify(features.Vector) (classifier.Result, error)
}

// Policy selects how the window is turned into features.
type Policy int

const (
	// PolicyRolling evaluates the full window once it has filled, then
	// re-evaluates the last N samples on every tick.
	PolicyRolling Policy = iota

	// PolicyLatest evaluates the newest sample only.
	//
	// Deprecated: a single sample has no temporal signal; use PolicyRolling.
	PolicyLatest
)

func (p Policy) String() string {
	switch p {
	case PolicyRolling:
		return "rolling"
	case PolicyLatest:
		return "latest"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy is the inverse of String.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "rolling", "":
		return PolicyRolling, nil
	case "latest":
		return PolicyLatest, nil
	default:
		return PolicyRolling, fmt.Errorf("unknown buffer policy %q", s)
	}
}

// Ticker delivers cycle triggers.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.Ticker.C }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

// Option configures a Tracker.
type Option func(t *Tracker)

// WithPeriod sets the tick period.
func WithPeriod(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.period = d
		}
	}
}

// WithPolicy sets the buffering policy.
func WithPolicy(p Policy) Option {
	return func(t *Tracker) {
		t.policy = p
	}
}

// WithLogger sets the logger for the tracker.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger.With(slog.String("component", "tracker"))
	}
}

// WithClock sets the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithTicker replaces the wall-clock ticker, e.g. with a virtual one.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(t *Tracker) {
		t.newTicker = newTicker
	}
}

// WithDegradedUpdates makes failed cycles publish an explicit Unknown update
// instead of staying silent.
func WithDegradedUpdates(enabled bool) Option {
	return func(t *Tracker) {
		t.degraded = enabled
	}
}

// Tracker is the activity state machine.
type Tracker struct {
	buffer     *window.Buffer
	classifier Classifier
	bus        *activity.Bus

	period    time.Duration
	policy    Policy
	degraded  bool
	logger    *slog.Logger
	now       func() time.Time
	newTicker func(time.Duration) Ticker

	mu    sync.Mutex
	label activity.Label

	inFlight atomic.Bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a tracker in the Idle state.
func New(buffer *window.Buffer, clf Classifier, bus *activity.Bus, options ...Option) (*Tracker, error) {
	if buffer == nil || clf == nil || bus == nil {
		return nil, fmt.Errorf("tracker: buffer, classifier and bus are required")
	}

	t := &Tracker{
		buffer:     buffer,
		classifier: clf,
		bus:        bus,
		period:     DefaultPeriod,
		policy:     PolicyRolling,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        time.Now,
		newTicker:  newTimeTicker,
		label:      activity.Idle,
	}
	for _, option := range options {
		option(t)
	}

	if t.policy == PolicyLatest {
		t.logger.Warn("single-sample buffer policy is deprecated, std and magnitude features carry no signal")
	}
	return t, nil
}

// Label returns the current activity.
func (t *Tracker) Label() activity.Label {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.label
}

// Period returns the tick period.
func (t *Tracker) Period() time.Duration {
	return t.period
}

// Reset returns the label to Idle without emitting events.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.label = activity.Idle
}

// Cycle runs one prediction cycle. Only one cycle runs at a time; a
// concurrent call returns ErrCycleInFlight immediately.
func (t *Tracker) Cycle(ctx context.Context) error {
	if !t.inFlight.CompareAndSwap(false, true) {
		return ErrCycleInFlight
	}
	defer t.inFlight.Store(false)

	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := t.predict()
	now := t.now()
	if err != nil {
		if errors.Is(err, ErrWarmingUp) {
			t.logger.Debug("waiting for full window", slog.Int("samples", t.buffer.Len()), slog.Int("capacity", t.buffer.Cap()))
			return err
		}

		t.logger.Warn("prediction cycle skipped", slog.String("error", err.Error()), slog.String("label", t.Label().String()))
		if t.degraded && ctx.Err() == nil {
			t.bus.PublishUpdate(activity.UpdateEvent{Label: activity.Unknown, Degraded: true, Err: err, Time: now})
		}
		return err
	}

	t.mu.Lock()
	old := t.label
	t.label = res.Label
	t.mu.Unlock()

	if old != res.Label {
		t.logger.Info("activity changed",
			slog.String("from", old.String()),
			slog.String("to", res.Label.String()),
			slog.Float64("confidence", res.Confidence))
		t.bus.PublishChange(activity.ChangeEvent{Old: old, New: res.Label, Confidence: res.Confidence, Time: now})
	}
	t.bus.PublishUpdate(activity.UpdateEvent{Label: res.Label, Score: res.Score, Time: now})
	return nil
}

// predict runs extract, normalize and score on a window snapshot.
func (t *Tracker) predict() (res classifier.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("prediction panic: %v", r)
		}
	}()

	var v features.Vector
	switch t.policy {
	case PolicyLatest:
		latest, ok := t.buffer.Latest()
		if !ok {
			return res, ErrWarmingUp
		}
		v, err = features.ExtractLatest([]imu.Sample{latest})
	default:
		snapshot := t.buffer.Snapshot()
		if len(snapshot) < t.buffer.Cap() {
			return res, ErrWarmingUp
		}
		v, err = features.Extract(snapshot)
	}
	if err != nil {
		return res, fmt.Errorf("extract: %w", err)
	}

	return t.classifier.Classify(v)
}

// Run triggers a cycle on every tick until ctx is cancelled. Ticks that
// arrive while a cycle is running are dropped, never queued.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := t.newTicker(t.period)
	defer ticker.Stop()

	t.logger.Info("tracker started", slog.Duration("period", t.period), slog.String("policy", t.policy.String()))
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("tracker stopped", slog.String("label", t.Label().String()))
			return nil
		case <-ticker.C():
			if ctx.Err() != nil {
				continue
			}
			if err := t.Cycle(ctx); errors.Is(err, ErrCycleInFlight) {
				t.logger.Debug("tick dropped, cycle in flight")
			}
		}
	}
}

// Start runs the tick loop in the background.
func (t *Tracker) Start(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.done != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel, t.done = cancel, done

	go func() {
		defer close(done)
		_ = t.Run(ctx)
	}()
	return nil
}

// Stop halts the tick loop and waits for it to exit, so no event is
// published after Stop returns. The label is kept.
func (t *Tracker) Stop() {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.done == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel, t.done = nil, nil
}
