// Package scaler applies the persisted per-feature linear scaling that was
// fitted alongside the classifier.
package scaler

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/viterin/vek"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNotLoaded is returned when normalizing without scaler parameters.
	ErrNotLoaded = errors.New("scaler parameters not loaded")

	// ErrDimensionMismatch is returned when a vector and the parameters disagree in length.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidScale is returned for a zero or non-finite scale entry.
	ErrInvalidScale = errors.New("invalid scale")

	// ErrAssetLoad is returned when a persisted asset is missing or corrupt.
	ErrAssetLoad = errors.New("asset load failed")
)

// Params are the persisted scaler parameters. Mean and Scale are indexed in
// feature-vector order.
type Params struct {
	Mean         []float64 `yaml:"mean" json:"mean"`
	Scale        []float64 `yaml:"scale" json:"scale"`
	FeatureNames []string  `yaml:"feature_names,omitempty" json:"feature_names,omitempty"`
	NFeatures    int       `yaml:"n_features,omitempty" json:"n_features,omitempty"`
}

// Load reads scaler parameters from a JSON or YAML document.
func Load(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: scaler: %w", ErrAssetLoad, err)
	}
	return Parse(data)
}

// Parse decodes and validates scaler parameters.
func Parse(data []byte) (*Params, error) {
	var p Params
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: scaler: decoding: %w", ErrAssetLoad, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: scaler: %w", ErrAssetLoad, err)
	}
	return &p, nil
}

// Len returns the number of features the parameters describe.
func (p *Params) Len() int {
	return len(p.Mean)
}

// Validate checks the parameters are internally consistent.
func (p *Params) Validate() error {
	if len(p.Mean) == 0 {
		return fmt.Errorf("%w: empty mean", ErrDimensionMismatch)
	}
	if len(p.Scale) != len(p.Mean) {
		return fmt.Errorf("%w: %d means, %d scales", ErrDimensionMismatch, len(p.Mean), len(p.Scale))
	}
	if p.NFeatures != 0 && p.NFeatures != len(p.Mean) {
		return fmt.Errorf("%w: n_features=%d, got %d values", ErrDimensionMismatch, p.NFeatures, len(p.Mean))
	}
	if len(p.FeatureNames) != 0 && len(p.FeatureNames) != len(p.Mean) {
		return fmt.Errorf("%w: %d feature names, %d values", ErrDimensionMismatch, len(p.FeatureNames), len(p.Mean))
	}
	for i, m := range p.Mean {
		if math.IsNaN(m) || math.IsInf(m, 0) {
			return fmt.Errorf("mean[%d] is not finite", i)
		}
	}
	for i, s := range p.Scale {
		if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: scale[%d]=%v", ErrInvalidScale, i, s)
		}
	}
	return nil
}

// CheckNames verifies the persisted feature names, when present, match
// expected position by position.
func (p *Params) CheckNames(expected []string) error {
	if len(p.FeatureNames) == 0 {
		return nil
	}
	if len(p.FeatureNames) != len(expected) {
		return fmt.Errorf("%w: %d feature names, want %d", ErrDimensionMismatch, len(p.FeatureNames), len(expected))
	}
	for i, name := range expected {
		if p.FeatureNames[i] != name {
			return fmt.Errorf("feature %d is %q, want %q", i, p.FeatureNames[i], name)
		}
	}
	return nil
}

// Normalize computes (raw[i]-mean[i])/scale[i] for every feature.
func Normalize(raw []float64, p *Params) ([]float64, error) {
	if p == nil {
		return nil, ErrNotLoaded
	}
	if len(raw) != len(p.Mean) || len(p.Scale) != len(p.Mean) {
		return nil, fmt.Errorf("%w: vector has %d features, scaler has %d", ErrDimensionMismatch, len(raw), len(p.Mean))
	}
	for i, s := range p.Scale {
		if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: scale[%d]=%v", ErrInvalidScale, i, s)
		}
	}

	out := vek.Sub(raw, p.Mean)
	vek.Div_Inplace(out, p.Scale)
	return out, nil
}

// Normalizer owns one set of parameters for the process lifetime.
type Normalizer struct {
	params *Params
}

// NewNormalizer validates p and wraps it.
func NewNormalizer(p *Params) (*Normalizer, error) {
	if p == nil {
		return nil, ErrNotLoaded
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Normalizer{params: p}, nil
}

// Len returns the expected vector length.
func (n *Normalizer) Len() int {
	if n == nil || n.params == nil {
		return 0
	}
	return n.params.Len()
}

// Params returns the wrapped parameters.
func (n *Normalizer) Params() *Params {
	if n == nil {
		return nil
	}
	return n.params
}

// Normalize scales raw with the owned parameters.
func (n *Normalizer) Normalize(raw []float64) ([]float64, error) {
	if n == nil {
		return nil, ErrNotLoaded
	}
	return Normalize(raw, n.params)
}

// Denormalize maps a normalized vector back with x*scale[i]+mean[i].
func (n *Normalizer) Denormalize(normalized []float64) ([]float64, error) {
	if n == nil || n.params == nil {
		return nil, ErrNotLoaded
	}
	if len(normalized) != n.params.Len() {
		return nil, fmt.Errorf("%w: vector has %d features, scaler has %d", ErrDimensionMismatch, len(normalized), n.params.Len())
	}
	out := vek.Mul(normalized, n.params.Scale)
	vek.Add_Inplace(out, n.params.Mean)
	return out, nil
}
