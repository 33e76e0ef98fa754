package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/activity_tracker/internal/activity"
	"github.com/relabs-tech/activity_tracker/internal/classifier"
	"github.com/relabs-tech/activity_tracker/internal/features"
	"github.com/relabs-tech/activity_tracker/internal/imu"
	"github.com/relabs-tech/activity_tracker/internal/scaler"
	"github.com/relabs-tech/activity_tracker/internal/window"
)

var epoch = time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC)

type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { close(m.stopped) }
func (m *manualTicker) factory(time.Duration) Ticker {
	return m
}

// scripted returns results in order, repeating the last one.
type scripted struct {
	mu      sync.Mutex
	results []classifier.Result
	errs    []error
	calls   int
	seen    features.Vector
	block   chan struct{}
	entered chan struct{}
}

func (s *scripted) Classify(v features.Vector) (classifier.Result, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.results)-1)
	s.calls++
	s.seen = v

	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.results[i], err
}

func result(label activity.Label, score float64) classifier.Result {
	conf := score
	if label == activity.Walking {
		conf = 1 - score
	}
	return classifier.Result{Label: label, Score: score, Confidence: conf}
}

type events struct {
	mu      sync.Mutex
	changes []activity.ChangeEvent
	updates []activity.UpdateEvent
}

func (e *events) OnActivityChanged(c activity.ChangeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changes = append(e.changes, c)
}

func (e *events) OnActivityUpdate(u activity.UpdateEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updates = append(e.updates, u)
}

func (e *events) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.changes), len(e.updates)
}

func fullBuffer(capacity int, s imu.Sample) *window.Buffer {
	b := window.New(capacity)
	for i := 0; i < capacity; i++ {
		b.Push(s)
	}
	return b
}

func newTestTracker(t *testing.T, b *window.Buffer, clf Classifier, opts ...Option) (*Tracker, *events) {
	t.Helper()
	bus := activity.NewBus()
	ev := &events{}
	bus.Subscribe(ev)

	opts = append([]Option{WithClock(func() time.Time { return epoch })}, opts...)
	tr, err := New(b, clf, bus, opts...)
	require.NoError(t, err)
	return tr, ev
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, &scripted{}, activity.NewBus())
	assert.Error(t, err)
	_, err = New(window.New(1), nil, activity.NewBus())
	assert.Error(t, err)
	_, err = New(window.New(1), &scripted{}, nil)
	assert.Error(t, err)
}

func TestTracker_InitialState(t *testing.T) {
	tr, _ := newTestTracker(t, window.New(10), &scripted{})
	assert.Equal(t, activity.Idle, tr.Label())
	assert.Equal(t, DefaultPeriod, tr.Period())
}

func TestTracker_WarmingUp(t *testing.T) {
	b := window.New(10)
	b.Push(imu.Sample{Ax: 1})
	clf := &scripted{results: []classifier.Result{result(activity.Running, 0.9)}}
	tr, ev := newTestTracker(t, b, clf)

	err := tr.Cycle(context.Background())

	assert.ErrorIs(t, err, ErrWarmingUp)
	assert.Equal(t, activity.Idle, tr.Label())
	assert.Zero(t, clf.calls)
	changes, updates := ev.counts()
	assert.Zero(t, changes)
	assert.Zero(t, updates)
}

func TestTracker_Transitions(t *testing.T) {
	clf := &scripted{results: []classifier.Result{
		result(activity.Walking, 0.2),
		result(activity.Walking, 0.5),
		result(activity.Running, 0.8),
		result(activity.Running, 0.9),
		result(activity.Walking, 0.1),
	}}
	tr, ev := newTestTracker(t, fullBuffer(10, imu.Sample{}), clf)

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Cycle(context.Background()))
	}

	require.Len(t, ev.updates, 5)
	require.Len(t, ev.changes, 3)

	assert.Equal(t, activity.Idle, ev.changes[0].Old)
	assert.Equal(t, activity.Walking, ev.changes[0].New)
	assert.InDelta(t, 0.8, ev.changes[0].Confidence, 1e-12)
	assert.Equal(t, epoch, ev.changes[0].Time)
	assert.Equal(t, activity.Walking, ev.changes[1].Old)
	assert.Equal(t, activity.Running, ev.changes[1].New)
	assert.InDelta(t, 0.8, ev.changes[1].Confidence, 1e-12)
	assert.Equal(t, activity.Running, ev.changes[2].Old)
	assert.Equal(t, activity.Walking, ev.changes[2].New)

	for _, u := range ev.updates {
		assert.False(t, u.Degraded)
		assert.Equal(t, epoch, u.Time)
	}
	assert.Equal(t, activity.Running, ev.updates[3].Label)
	assert.Equal(t, 0.9, ev.updates[3].Score)
	assert.Equal(t, activity.Walking, tr.Label())
}

func TestTracker_FailedCycleKeepsLabel(t *testing.T) {
	boom := errors.New("inference failed")
	clf := &scripted{
		results: []classifier.Result{result(activity.Running, 0.9), {}},
		errs:    []error{nil, boom},
	}
	tr, ev := newTestTracker(t, fullBuffer(4, imu.Sample{}), clf)

	require.NoError(t, tr.Cycle(context.Background()))
	err := tr.Cycle(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, activity.Running, tr.Label())
	changes, updates := ev.counts()
	assert.Equal(t, 1, changes)
	assert.Equal(t, 1, updates)
}

func TestTracker_DegradedUpdates(t *testing.T) {
	clf := &scripted{
		results: []classifier.Result{result(activity.Walking, 0.3), {}},
		errs:    []error{nil, classifier.ErrNotInitialized},
	}
	tr, ev := newTestTracker(t, fullBuffer(4, imu.Sample{}), clf, WithDegradedUpdates(true))

	require.NoError(t, tr.Cycle(context.Background()))
	require.ErrorIs(t, tr.Cycle(context.Background()), classifier.ErrNotInitialized)

	require.Len(t, ev.changes, 1)
	require.Len(t, ev.updates, 2)
	degraded := ev.updates[1]
	assert.True(t, degraded.Degraded)
	assert.Equal(t, activity.Unknown, degraded.Label)
	assert.ErrorIs(t, degraded.Err, classifier.ErrNotInitialized)
	assert.Equal(t, activity.Walking, tr.Label())
}

func TestTracker_UninitializedClassifier(t *testing.T) {
	tr, ev := newTestTracker(t, fullBuffer(4, imu.Sample{}), classifier.New())

	err := tr.Cycle(context.Background())

	assert.ErrorIs(t, err, classifier.ErrNotInitialized)
	assert.Equal(t, activity.Idle, tr.Label())
	changes, updates := ev.counts()
	assert.Zero(t, changes+updates)
}

type panicky struct{}

func (panicky) Classify(features.Vector) (classifier.Result, error) { panic("bad sample") }

func TestTracker_RecoversPanics(t *testing.T) {
	tr, _ := newTestTracker(t, fullBuffer(4, imu.Sample{}), panicky{})

	var err error
	require.NotPanics(t, func() { err = tr.Cycle(context.Background()) })
	assert.ErrorContains(t, err, "prediction panic")
}

func TestTracker_SingleCycleInFlight(t *testing.T) {
	clf := &scripted{
		results: []classifier.Result{result(activity.Running, 0.7)},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	tr, ev := newTestTracker(t, fullBuffer(4, imu.Sample{}), clf)

	first := make(chan error, 1)
	go func() { first <- tr.Cycle(context.Background()) }()
	<-clf.entered

	assert.ErrorIs(t, tr.Cycle(context.Background()), ErrCycleInFlight)

	close(clf.block)
	require.NoError(t, <-first)
	assert.Equal(t, 1, clf.calls)
	_, updates := ev.counts()
	assert.Equal(t, 1, updates)
}

func TestTracker_CancelledContext(t *testing.T) {
	tr, _ := newTestTracker(t, fullBuffer(4, imu.Sample{}), &scripted{results: []classifier.Result{result(activity.Running, 1)}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, tr.Cycle(ctx), context.Canceled)
	assert.Equal(t, activity.Idle, tr.Label())
}

func TestTracker_LatestPolicy(t *testing.T) {
	b := window.New(100)
	b.Push(imu.Sample{Ax: 2})
	b.Push(imu.Sample{Ax: 6, Gz: 1})
	clf := &scripted{results: []classifier.Result{result(activity.Walking, 0.1)}}
	tr, ev := newTestTracker(t, b, clf, WithPolicy(PolicyLatest))

	require.NoError(t, tr.Cycle(context.Background()))
	_, updates := ev.counts()
	assert.Equal(t, 1, updates)

	// only the newest sample reaches the classifier
	require.Len(t, clf.seen, features.Count)
	assert.Equal(t, 6.0, clf.seen[0])
	assert.Equal(t, 1.0, clf.seen[5])
	assert.Zero(t, clf.seen[6], "no spread from a single sample")

	b.Reset()
	assert.ErrorIs(t, tr.Cycle(context.Background()), ErrWarmingUp)
}

func TestTracker_StartStop(t *testing.T) {
	ticker := newManualTicker()
	clf := &scripted{results: []classifier.Result{
		result(activity.Walking, 0.4),
		result(activity.Running, 0.6),
	}}
	tr, ev := newTestTracker(t, fullBuffer(4, imu.Sample{}), clf,
		WithTicker(ticker.factory), WithPeriod(250*time.Millisecond))
	assert.Equal(t, 250*time.Millisecond, tr.Period())

	require.NoError(t, tr.Start(context.Background()))
	assert.ErrorIs(t, tr.Start(context.Background()), ErrAlreadyRunning)

	ticker.ch <- epoch
	ticker.ch <- epoch.Add(time.Second)
	require.Eventually(t, func() bool {
		_, updates := ev.counts()
		return updates == 2
	}, time.Second, time.Millisecond)

	tr.Stop()
	changes, updates := ev.counts()
	assert.Equal(t, 2, changes)
	assert.Equal(t, 2, updates)
	assert.Equal(t, activity.Running, tr.Label(), "stop keeps the label")

	select {
	case <-ticker.stopped:
	default:
		t.Fatal("ticker not stopped")
	}

	// no more callbacks once Stop has returned
	select {
	case ticker.ch <- epoch.Add(3 * time.Second):
		t.Fatal("tick accepted after stop")
	case <-time.After(20 * time.Millisecond):
	}
	_, after := ev.counts()
	assert.Equal(t, 2, after)

	tr.Stop()
	tr.Reset()
	assert.Equal(t, activity.Idle, tr.Label())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("latest")
	require.NoError(t, err)
	assert.Equal(t, PolicyLatest, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyRolling, p)

	_, err = ParsePolicy("batch")
	assert.Error(t, err)
	assert.Equal(t, "rolling", PolicyRolling.String())
}

func TestTracker_EndToEnd(t *testing.T) {
	mean := make([]float64, features.Count)
	scale := make([]float64, features.Count)
	for i := range scale {
		scale[i] = 1
	}
	normalizer, err := scaler.NewNormalizer(&scaler.Params{Mean: mean, Scale: scale})
	require.NoError(t, err)

	// running when the accelerometer magnitude spread is large
	weights := make([]float64, features.Count)
	weights[13] = 4
	model := &classifier.LogisticModel{Weights: weights, Bias: -2}

	adapter := classifier.New()
	require.NoError(t, adapter.Init(model, normalizer))

	b := fullBuffer(100, imu.Sample{Ax: 1})
	tr, ev := newTestTracker(t, b, adapter)

	require.NoError(t, tr.Cycle(context.Background()))
	assert.Equal(t, activity.Walking, tr.Label())

	for i := 0; i < 100; i++ {
		b.Push(imu.Sample{Ax: float64(i%2) * 4})
	}
	require.NoError(t, tr.Cycle(context.Background()))
	assert.Equal(t, activity.Running, tr.Label())

	changes, updates := ev.counts()
	assert.Equal(t, 2, changes)
	assert.Equal(t, 2, updates)
}
