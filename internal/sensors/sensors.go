// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors provides the motion sources feeding the activity tracker
// and the poller that resamples them into the sample window.
//
// Sources deliver accelerometer and gyroscope readings as two independent
// channels at whatever rate the hardware or transport provides. The Poller
// keeps the latest value of each channel and samples them at its own fixed
// cadence.
package sensors

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/relabs-tech/activity_tracker/internal/imu"
)

// ParseErrorsThreshold is the number of consecutive undecodable messages a
// source tolerates before giving up.
const ParseErrorsThreshold = 20

// ErrTooManyParseErrors is returned when a source keeps receiving garbage.
var ErrTooManyParseErrors = errors.New("too many consecutive parse errors")

// Channel identifies the sensor a reading comes from.
type Channel uint8

const (
	Accel Channel = iota // linear acceleration, m/s²
	Gyro                 // angular velocity, rad/s
)

func (c Channel) String() string {
	switch c {
	case Accel:
		return "accel"
	case Gyro:
		return "gyro"
	default:
		return "unknown"
	}
}

// Reading is one {x,y,z} triple from one channel.
type Reading struct {
	Channel Channel
	Vec     imu.Vec3
	Time    time.Time
}

// Source streams readings into out until ctx is cancelled or the source
// fails. Stream must not close out.
type Source interface {
	Stream(ctx context.Context, out chan<- Reading) error
	Name() string
}

// Option configures a source or poller.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(slog.String("component", component))
	return o
}

// emit sends both halves of a six-axis sample, giving up when ctx is done.
func emit(ctx context.Context, out chan<- Reading, s imu.Sample, t time.Time) bool {
	for _, r := range [...]Reading{
		{Channel: Accel, Vec: s.Accel(), Time: t},
		{Channel: Gyro, Vec: s.Gyro(), Time: t},
	} {
		select {
		case out <- r:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
