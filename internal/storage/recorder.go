package storage

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/relabs-tech/activity_tracker/internal/activity"
)

// writeTimeout bounds one transition insert so a slow disk cannot stall the
// prediction tick for long.
const writeTimeout = 2 * time.Second

// Recorder is an activity.Observer that persists every change event of one
// session. Write failures are logged and dropped.
type Recorder struct {
	store     *SqliteStore
	sessionID string
	logger    *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(r *Recorder)

// WithLogger sets the recorder logger.
func WithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// NewRecorder creates a recorder writing into sessionID.
func NewRecorder(store *SqliteStore, sessionID string, options ...RecorderOption) *Recorder {
	r := &Recorder{
		store:     store,
		sessionID: sessionID,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(r)
	}
	r.logger = r.logger.With(slog.String("component", "recorder"), slog.String("session", sessionID))
	return r
}

// OnActivityChanged implements activity.Observer.
func (r *Recorder) OnActivityChanged(ev activity.ChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := r.store.InsertTransition(ctx, r.sessionID, ev); err != nil {
		r.logger.Error("failed to record transition",
			slog.String("error", err.Error()),
			slog.String("from", ev.Old.String()),
			slog.String("to", ev.New.String()))
	}
}

// OnActivityUpdate implements activity.Observer. Updates are not persisted.
func (r *Recorder) OnActivityUpdate(activity.UpdateEvent) {}
