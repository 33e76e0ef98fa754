// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/activity_tracker/internal/imu"
	"github.com/relabs-tech/activity_tracker/internal/window"
)

// Poller resamples two asynchronous channels into the window: it remembers
// the latest accel and gyro vectors and pushes their combination every
// interval, independently of the rate the source delivers at.
type Poller struct {
	buffer   *window.Buffer
	interval time.Duration
	opts     options

	mu       sync.Mutex
	accel    imu.Vec3
	gyro     imu.Vec3
	haveAcc  bool
	haveGyro bool

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewPoller creates a poller writing into buffer every interval.
func NewPoller(buffer *window.Buffer, interval time.Duration, opts ...Option) (*Poller, error) {
	if buffer == nil {
		return nil, fmt.Errorf("poller: nil buffer")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("poller: interval must be positive, got %s", interval)
	}
	return &Poller{buffer: buffer, interval: interval, opts: buildOptions("poller", opts)}, nil
}

// Offer records r as the latest value of its channel.
func (p *Poller) Offer(r Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.Channel {
	case Accel:
		p.accel, p.haveAcc = r.Vec, true
	case Gyro:
		p.gyro, p.haveGyro = r.Vec, true
	}
}

// Current combines the latest readings. It returns false until both
// channels have reported at least once.
func (p *Poller) Current() (imu.Sample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.haveAcc || !p.haveGyro {
		return imu.Sample{}, false
	}
	return imu.NewSample(p.accel, p.gyro), true
}

// Poll pushes the current sample into the window. Samples with non-finite
// values are dropped so one bad reading cannot poison the window.
func (p *Poller) Poll() bool {
	s, ok := p.Current()
	if !ok {
		return false
	}
	if !s.IsFinite() {
		p.dropped.Add(1)
		p.opts.logger.Warn("dropping non-finite sample")
		return false
	}
	p.buffer.Push(s)
	p.pushed.Add(1)
	return true
}

// Stats returns how many samples were pushed and dropped.
func (p *Poller) Stats() (pushed, dropped uint64) {
	return p.pushed.Load(), p.dropped.Load()
}

// Run drains readings and polls every interval until ctx is done.
func (p *Poller) Run(ctx context.Context, readings <-chan Reading) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.opts.logger.Info("poller started", slog.Duration("interval", p.interval), slog.Int("window", p.buffer.Cap()))
	for {
		select {
		case <-ctx.Done():
			pushed, dropped := p.Stats()
			p.opts.logger.Info("poller stopped", slog.Uint64("pushed", pushed), slog.Uint64("dropped", dropped))
			return nil
		case r := <-readings:
			p.Offer(r)
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Reset forgets the latest readings and empties the window.
func (p *Poller) Reset() {
	p.mu.Lock()
	p.haveAcc, p.haveGyro = false, false
	p.mu.Unlock()

	p.buffer.Reset()
}
