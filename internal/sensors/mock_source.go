// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/activity_tracker/internal/activity"
	"github.com/relabs-tech/activity_tracker/internal/imu"
)

// gait describes the synthetic motion for one activity.
type gait struct {
	stepHz    float64 // cadence
	accelAmp  float64 // m/s²
	gyroAmp   float64 // rad/s
	bounceAmp float64 // vertical m/s²
}

var gaits = map[activity.Label]gait{
	activity.Walking: {stepHz: 1.8, accelAmp: 1.5, gyroAmp: 0.8, bounceAmp: 2.0},
	activity.Running: {stepHz: 2.8, accelAmp: 6.0, gyroAmp: 2.5, bounceAmp: 9.0},
}

// MockSource generates smooth periodic gait signals so the pipeline can run
// without hardware.
type MockSource struct {
	interval time.Duration
	mode     atomic.Int32
	opts     options
}

// NewMockSource creates a mock source emitting one accel and one gyro
// reading every interval, starting in the given mode.
func NewMockSource(interval time.Duration, mode activity.Label, opts ...Option) (*MockSource, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("mock source: interval must be positive, got %s", interval)
	}
	m := &MockSource{interval: interval, opts: buildOptions("mock", opts)}
	if err := m.SetMode(mode); err != nil {
		return nil, err
	}
	return m, nil
}

// SetMode switches the generated gait between walking and running.
func (m *MockSource) SetMode(mode activity.Label) error {
	if _, ok := gaits[mode]; !ok {
		return fmt.Errorf("mock source: unsupported mode %s", mode)
	}
	m.mode.Store(int32(mode))
	return nil
}

// Mode returns the current gait.
func (m *MockSource) Mode() activity.Label {
	return activity.Label(m.mode.Load())
}

func (m *MockSource) Name() string { return "mock" }

// At returns the synthetic sample elapsed into the recording.
func (m *MockSource) At(elapsed time.Duration) imu.Sample {
	g := gaits[m.Mode()]
	phase := 2 * math.Pi * g.stepHz * elapsed.Seconds()

	return imu.Sample{
		Ax: g.accelAmp * math.Sin(phase),
		Ay: 0.4 * g.accelAmp * math.Cos(phase*0.5),
		Az: g.bounceAmp * math.Sin(2*phase),
		Gx: g.gyroAmp * math.Cos(phase),
		Gy: 0.5 * g.gyroAmp * math.Sin(phase),
		Gz: 0.2 * g.gyroAmp * math.Sin(0.5*phase),
	}
}

// Stream implements Source.
func (m *MockSource) Stream(ctx context.Context, out chan<- Reading) error {
	start := time.Now()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.opts.logger.Info("mock source started", slog.String("mode", m.Mode().String()), slog.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			if !emit(ctx, out, m.At(t.Sub(start)), t) {
				return nil
			}
		}
	}
}
