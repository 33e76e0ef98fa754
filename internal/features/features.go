// Package features turns a window of six-axis motion samples into the
// fixed-order statistical feature vector consumed by the classifier.
//
// The order of Names is a contract with the persisted scaler parameters and
// must never be permuted:
//
//	[0:3]   accel mean x,y,z
//	[3:6]   gyro mean x,y,z
//	[6:9]   accel std x,y,z
//	[9:12]  gyro std x,y,z
//	[12:14] accel magnitude mean, std
//	[14:16] gyro magnitude mean, std
//	[16:18] accel, gyro signal magnitude area
package features

import (
	"errors"
	"math"

	"github.com/viterin/vek"

	"github.com/relabs-tech/activity_tracker/internal/imu"
)

// Count is the length of every feature vector.
const Count = 18

// ErrInsufficientData is returned when there is no sample to extract from.
var ErrInsufficientData = errors.New("insufficient data: empty window")

// Names are the canonical feature names in vector order.
var Names = [Count]string{
	"accel_x_mean", "accel_y_mean", "accel_z_mean",
	"gyro_x_mean", "gyro_y_mean", "gyro_z_mean",
	"accel_x_std", "accel_y_std", "accel_z_std",
	"gyro_x_std", "gyro_y_std", "gyro_z_std",
	"accel_mag_mean", "accel_mag_std",
	"gyro_mag_mean", "gyro_mag_std",
	"accel_sma", "gyro_sma",
}

// Vector is an ordered feature vector of Count values.
type Vector []float64

// Extract computes the feature vector over every sample of window, which may
// be shorter than the buffer capacity but not empty.
func Extract(window []imu.Sample) (Vector, error) {
	if len(window) == 0 {
		return nil, ErrInsufficientData
	}

	cols := columns(window)
	accelMag := Magnitudes(cols[0], cols[1], cols[2])
	gyroMag := Magnitudes(cols[3], cols[4], cols[5])

	v := make(Vector, 0, Count)
	for _, c := range cols {
		v = append(v, Mean(c))
	}
	for _, c := range cols {
		v = append(v, Std(c))
	}
	v = append(v,
		Mean(accelMag), Std(accelMag),
		Mean(gyroMag), Std(gyroMag),
		SignalMagnitudeArea(cols[0], cols[1], cols[2]),
		SignalMagnitudeArea(cols[3], cols[4], cols[5]),
	)
	saturate(v)
	return v, nil
}

// ExtractLatest builds a vector from the newest sample only. Every standard
// deviation is zero because a single reading carries no temporal signal.
//
// Deprecated: kept for the single-sample buffering policy; use Extract.
func ExtractLatest(window []imu.Sample) (Vector, error) {
	if len(window) == 0 {
		return nil, ErrInsufficientData
	}
	return Extract(window[len(window)-1:])
}

// Mean returns the arithmetic mean of values, 0 for an empty slice.
// The mean is taken relative to the first value, so a constant series
// yields that constant exactly.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	shift := values[0]
	m := shift + vek.Mean(vek.SubNumber(values, shift))
	if math.IsInf(m, 0) || math.IsNaN(m) {
		// the differences overflowed; x/n summed stays within max|x|
		m = vek.Sum(vek.DivNumber(values, float64(len(values))))
	}
	return m
}

// Std returns the population standard deviation of values.
func Std(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	// Scale into [-2, 2] by a power of two so squaring cannot overflow and
	// the rescaling is exact.
	s := 1.0
	if peak := vek.Max(vek.Abs(values)); peak == 0 {
		return 0
	} else if !math.IsInf(peak, 0) && !math.IsNaN(peak) {
		_, exp := math.Frexp(peak)
		s = math.Ldexp(1, exp-1)
	}

	y := vek.DivNumber(values, s)
	d := vek.SubNumber(y, Mean(y))
	variance := vek.Mean(vek.Mul(d, d))
	if variance < 0 || math.IsNaN(variance) {
		variance = 0
	}
	return s * math.Sqrt(variance)
}

// Magnitudes returns the element-wise Euclidean norm sqrt(x²+y²+z²).
func Magnitudes(x, y, z []float64) []float64 {
	if len(x) == 0 {
		return nil
	}
	out := make([]float64, len(x))
	for i := range x {
		out[i] = imu.Vec3{X: x[i], Y: y[i], Z: z[i]}.Norm()
	}
	return out
}

// SignalMagnitudeArea returns mean(|x|+|y|+|z|) over the series.
func SignalMagnitudeArea(x, y, z []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return Mean(vek.Abs(x)) + Mean(vek.Abs(y)) + Mean(vek.Abs(z))
}

// saturate clamps infinities to the largest finite value of the same sign.
func saturate(v Vector) {
	for i, f := range v {
		switch {
		case math.IsInf(f, 1):
			v[i] = math.MaxFloat64
		case math.IsInf(f, -1):
			v[i] = -math.MaxFloat64
		}
	}
}

// columns splits the window into six per-axis series
// (ax, ay, az, gx, gy, gz).
func columns(window []imu.Sample) [6][]float64 {
	var cols [6][]float64
	for i := range cols {
		cols[i] = make([]float64, len(window))
	}
	for i, s := range window {
		cols[0][i] = s.Ax
		cols[1][i] = s.Ay
		cols[2][i] = s.Az
		cols[3][i] = s.Gx
		cols[4][i] = s.Gy
		cols[5][i] = s.Gz
	}
	return cols
}
