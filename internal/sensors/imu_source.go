// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/activity_tracker/internal/imu"
)

// IMURawReader reads one raw sample from an IMU.
type IMURawReader interface {
	ReadRaw() (imu.IMURaw, error)
}

// MPU9250Source polls an MPU9250 over SPI.
type MPU9250Source struct {
	reader   IMURawReader
	ranges   imu.Ranges
	interval time.Duration
	opts     options
}

// NewMPU9250Source initializes the MPU9250 on spiDev with chip select csPin
// and applies the configured ranges.
func NewMPU9250Source(spiDev, csPin string, ranges imu.Ranges, interval time.Duration, opts ...Option) (*MPU9250Source, error) {
	if err := ranges.Validate(); err != nil {
		return nil, fmt.Errorf("mpu9250: %w", err)
	}
	o := buildOptions("mpu9250", opts)

	reader, err := openReader(spiDev, csPin, ranges, o.logger)
	if err != nil {
		return nil, err
	}
	return newPolledSource(reader, ranges, interval, o)
}

// NewIMURawReader initializes the MPU9250 and returns a reader of raw counts,
// for publishing IMURaw samples without converting them.
func NewIMURawReader(spiDev, csPin string, ranges imu.Ranges, opts ...Option) (IMURawReader, error) {
	if err := ranges.Validate(); err != nil {
		return nil, fmt.Errorf("mpu9250: %w", err)
	}
	return openReader(spiDev, csPin, ranges, buildOptions("mpu9250", opts).logger)
}

func newPolledSource(reader IMURawReader, ranges imu.Ranges, interval time.Duration, o options) (*MPU9250Source, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("mpu9250: interval must be positive, got %s", interval)
	}
	return &MPU9250Source{reader: reader, ranges: ranges, interval: interval, opts: o}, nil
}

func openReader(spiDev, csPin string, ranges imu.Ranges, logger *slog.Logger) (*mpuReader, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("mpu9250: CS pin %q not found", csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: SPI transport (%s): %w", spiDev, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: initialization: %w", err)
	}

	if err := dev.SetAccelRange(ranges.Accel); err != nil {
		return nil, fmt.Errorf("mpu9250: set accel range: %w", err)
	}
	if err := dev.SetGyroRange(ranges.Gyro); err != nil {
		return nil, fmt.Errorf("mpu9250: set gyro range: %w", err)
	}
	logger.Info("ranges configured",
		slog.Int("accel_g", []int{2, 4, 8, 16}[ranges.Accel]),
		slog.Int("gyro_dps", []int{250, 500, 1000, 2000}[ranges.Gyro]))

	if err := dev.Calibrate(); err != nil {
		logger.Warn("calibration failed", slog.String("error", err.Error()))
	} else {
		logger.Info("calibration complete")
	}
	return &mpuReader{imu: dev}, nil
}

func (s *MPU9250Source) Name() string { return "mpu9250" }

// Stream implements Source.
func (s *MPU9250Source) Stream(ctx context.Context, out chan<- Reading) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var readErrors int
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			raw, err := s.reader.ReadRaw()
			if err != nil {
				readErrors++
				s.opts.logger.Warn("read failed", slog.String("error", err.Error()))
				if readErrors >= ParseErrorsThreshold {
					return fmt.Errorf("mpu9250: %w: last: %w", ErrTooManyParseErrors, err)
				}
				continue
			}
			readErrors = 0

			if !emit(ctx, out, raw.ToSample(s.ranges), t) {
				return nil
			}
		}
	}
}

type mpuReader struct {
	imu *mpu9250.MPU9250
}

// ReadRaw reads accelerometer and gyroscope counts.
func (r *mpuReader) ReadRaw() (imu.IMURaw, error) {
	ax, err := r.imu.GetAccelerationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("accel X: %w", err)
	}
	ay, err := r.imu.GetAccelerationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("accel Y: %w", err)
	}
	az, err := r.imu.GetAccelerationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("accel Z: %w", err)
	}

	gx, err := r.imu.GetRotationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("gyro X: %w", err)
	}
	gy, err := r.imu.GetRotationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("gyro Y: %w", err)
	}
	gz, err := r.imu.GetRotationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("gyro Z: %w", err)
	}

	return imu.IMURaw{
		Source: "mpu9250",
		Ax:     ax,
		Ay:     ay,
		Az:     az,
		Gx:     gx,
		Gy:     gy,
		Gz:     gz,
	}, nil
}
