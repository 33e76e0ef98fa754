// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"fmt"
	"math"
)

// StandardGravity in m/s².
const StandardGravity = 9.80665

// Full-scale sensitivities of the MPU9250, indexed by the range setting.
var (
	accelLSBPerG   = [4]float64{16384, 8192, 4096, 2048} // ±2g, ±4g, ±8g, ±16g
	gyroLSBPerDegS = [4]float64{131, 65.5, 32.8, 16.4}   // ±250, ±500, ±1000, ±2000 °/s
)

// IMURaw represents a single raw IMU+mag sample as published on MQTT.
type IMURaw struct {
	Source string `json:"source"`

	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`

	Mx int16 `json:"mx"` // magnetometer, unused by the classifier
	My int16 `json:"my"`
	Mz int16 `json:"mz"`
}

// Ranges holds the accelerometer and gyroscope full-scale settings (0-3)
// the raw counts were recorded with.
type Ranges struct {
	Accel byte
	Gyro  byte
}

// Validate reports whether both settings are in 0-3.
func (r Ranges) Validate() error {
	if r.Accel > 3 {
		return fmt.Errorf("accel range must be 0-3, got %d", r.Accel)
	}
	if r.Gyro > 3 {
		return fmt.Errorf("gyro range must be 0-3, got %d", r.Gyro)
	}
	return nil
}

// Accel3 converts raw accelerometer counts to m/s².
func (r Ranges) Accel3(x, y, z int16) Vec3 {
	k := StandardGravity / accelLSBPerG[r.Accel&3]
	return Vec3{X: float64(x) * k, Y: float64(y) * k, Z: float64(z) * k}
}

// Gyro3 converts raw gyroscope counts to rad/s.
func (r Ranges) Gyro3(x, y, z int16) Vec3 {
	k := (math.Pi / 180) / gyroLSBPerDegS[r.Gyro&3]
	return Vec3{X: float64(x) * k, Y: float64(y) * k, Z: float64(z) * k}
}

// ToSample converts raw counts to a Sample in physical units.
func (raw IMURaw) ToSample(r Ranges) Sample {
	return NewSample(r.Accel3(raw.Ax, raw.Ay, raw.Az), r.Gyro3(raw.Gx, raw.Gy, raw.Gz))
}
