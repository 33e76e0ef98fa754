package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/activity_tracker/internal/activity"
	"github.com/relabs-tech/activity_tracker/internal/classifier"
	"github.com/relabs-tech/activity_tracker/internal/sensors"
	"github.com/relabs-tech/activity_tracker/internal/window"
)

type funcSource struct {
	stream func(ctx context.Context, out chan<- sensors.Reading) error
}

func (f funcSource) Name() string { return "func" }
func (f funcSource) Stream(ctx context.Context, out chan<- sensors.Reading) error {
	return f.stream(ctx, out)
}

func newTestSession(t *testing.T, src sensors.Source, capacity int) (*Session, *Tracker, *window.Buffer, *manualTicker, *events) {
	t.Helper()
	b := window.New(capacity)
	poller, err := sensors.NewPoller(b, time.Millisecond)
	require.NoError(t, err)

	ticker := newManualTicker()
	clf := &scripted{results: []classifier.Result{result(activity.Running, 0.75)}}
	tr, ev := newTestTracker(t, b, clf, WithTicker(ticker.factory))

	s, err := NewSession(src, poller, tr)
	require.NoError(t, err)
	return s, tr, b, ticker, ev
}

func TestNewSession_Invalid(t *testing.T) {
	_, err := NewSession(nil, nil, nil)
	assert.Error(t, err)
}

func TestSession_MockLifecycle(t *testing.T) {
	src, err := sensors.NewMockSource(time.Millisecond, activity.Running)
	require.NoError(t, err)
	s, tr, b, ticker, ev := newTestSession(t, src, 10)
	assert.NotEmpty(t, s.ID())

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrSessionStarted)
	assert.False(t, s.StartedAt().IsZero())

	require.Eventually(t, b.IsFull, 2*time.Second, time.Millisecond)
	ticker.ch <- time.Now()
	require.Eventually(t, func() bool {
		_, updates := ev.counts()
		return updates == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	select {
	case <-s.Done():
	default:
		t.Fatal("session still running after stop")
	}
	assert.Equal(t, activity.Running, tr.Label())

	changes, _ := ev.counts()
	assert.Equal(t, 1, changes)
}

func TestSession_SourceClosed(t *testing.T) {
	src := funcSource{stream: func(context.Context, chan<- sensors.Reading) error { return nil }}
	s, _, _, _, _ := newTestSession(t, src, 4)

	require.NoError(t, s.Start(context.Background()))
	<-s.Done()
	assert.ErrorIs(t, s.Err(), ErrSourceClosed)
	assert.ErrorIs(t, s.Stop(), ErrSourceClosed)
}

func TestSession_SourceError(t *testing.T) {
	boom := errors.New("bus fault")
	src := funcSource{stream: func(context.Context, chan<- sensors.Reading) error { return boom }}
	s, _, _, _, _ := newTestSession(t, src, 4)

	require.NoError(t, s.Start(context.Background()))
	<-s.Done()
	assert.ErrorIs(t, s.Err(), boom)
	assert.ErrorContains(t, s.Err(), "source func")
}

func TestSession_StopBeforeStart(t *testing.T) {
	src := funcSource{stream: func(ctx context.Context, _ chan<- sensors.Reading) error {
		<-ctx.Done()
		return nil
	}}
	s, _, _, _, _ := newTestSession(t, src, 4)
	assert.NoError(t, s.Stop())
}
