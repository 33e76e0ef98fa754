package imu

import "math"

// Vec3 is one {x,y,z} reading from a single sensor channel.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Norm returns the Euclidean magnitude of v without intermediate overflow.
func (v Vec3) Norm() float64 {
	return math.Hypot(math.Hypot(v.X, v.Y), v.Z)
}

// Sample is one six-axis motion sample: linear acceleration (m/s²) and
// angular velocity (rad/s). Samples are ordered by arrival and never mutated
// after being recorded.
type Sample struct {
	Ax float64 `json:"ax"`
	Ay float64 `json:"ay"`
	Az float64 `json:"az"`

	Gx float64 `json:"gx"`
	Gy float64 `json:"gy"`
	Gz float64 `json:"gz"`
}

// NewSample combines an accelerometer and a gyroscope reading.
func NewSample(accel, gyro Vec3) Sample {
	return Sample{
		Ax: accel.X, Ay: accel.Y, Az: accel.Z,
		Gx: gyro.X, Gy: gyro.Y, Gz: gyro.Z,
	}
}

// Accel returns the accelerometer part of s.
func (s Sample) Accel() Vec3 { return Vec3{X: s.Ax, Y: s.Ay, Z: s.Az} }

// Gyro returns the gyroscope part of s.
func (s Sample) Gyro() Vec3 { return Vec3{X: s.Gx, Y: s.Gy, Z: s.Gz} }

// IsFinite reports whether every axis holds a finite value.
func (s Sample) IsFinite() bool {
	for _, v := range [...]float64{s.Ax, s.Ay, s.Az, s.Gx, s.Gy, s.Gz} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
