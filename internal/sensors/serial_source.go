// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/activity_tracker/internal/imu"
)

// SerialSource reads "ax,ay,az,gx,gy,gz" text lines in physical units from
// a serial port, e.g. a microcontroller streaming a phone-style IMU.
type SerialSource struct {
	serialOpts serial.OpenOptions
	open       func(serial.OpenOptions) (io.ReadWriteCloser, error)
	opts       options
}

// NewSerialSource creates a source for the given port and baud rate.
func NewSerialSource(port string, baudRate int, opts ...Option) (*SerialSource, error) {
	if port == "" {
		return nil, fmt.Errorf("serial source: empty port name")
	}
	if baudRate <= 0 {
		return nil, fmt.Errorf("serial source: invalid baud rate %d", baudRate)
	}
	return &SerialSource{
		serialOpts: serial.OpenOptions{
			PortName:              port,
			BaudRate:              uint(baudRate),
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
		},
		open: serial.Open,
		opts: buildOptions("serial", opts),
	}, nil
}

func (s *SerialSource) Name() string { return "serial" }

// Stream implements Source.
func (s *SerialSource) Stream(ctx context.Context, out chan<- Reading) error {
	port, err := s.open(s.serialOpts)
	if err != nil {
		return fmt.Errorf("serial source: open %s: %w", s.serialOpts.PortName, err)
	}
	s.opts.logger.Info("serial port opened", slog.String("port", s.serialOpts.PortName), slog.Uint64("baud", uint64(s.serialOpts.BaudRate)))

	// closing the port is the only way to unblock a pending read
	stop := context.AfterFunc(ctx, func() { _ = port.Close() })
	defer func() {
		if stop() {
			_ = port.Close()
		}
	}()

	return s.scan(ctx, port, out)
}

func (s *SerialSource) scan(ctx context.Context, r io.Reader, out chan<- Reading) error {
	var parseErrors int

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		sample, err := parseLine(line)
		if err != nil {
			parseErrors++
			s.opts.logger.Warn("error parsing line", slog.String("error", err.Error()), slog.String("line", line))
			if parseErrors >= ParseErrorsThreshold {
				return ErrTooManyParseErrors
			}
			continue
		}
		parseErrors = 0

		if !emit(ctx, out, sample, time.Now()) {
			return nil
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		return fmt.Errorf("serial source: read: %w", err)
	}
	return nil
}

// parseLine decodes six comma-separated floats.
func parseLine(line string) (imu.Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 6 {
		return imu.Sample{}, fmt.Errorf("expected 6 fields, got %d", len(fields))
	}

	var v [6]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return imu.Sample{}, fmt.Errorf("field %d: %w", i, err)
		}
		v[i] = x
	}

	s := imu.Sample{Ax: v[0], Ay: v[1], Az: v[2], Gx: v[3], Gy: v[4], Gz: v[5]}
	if !s.IsFinite() {
		return imu.Sample{}, fmt.Errorf("non-finite value")
	}
	return s, nil
}
