// Package classifier wraps an externally trained binary walking/running model
// behind a scoring function with a fixed decision threshold.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/relabs-tech/activity_tracker/internal/activity"
	"github.com/relabs-tech/activity_tracker/internal/features"
	"github.com/relabs-tech/activity_tracker/internal/scaler"
)

// Threshold separates running from walking. A score equal to the threshold
// is walking.
const Threshold = 0.5

var (
	// ErrNotInitialized is returned when scoring before Init or Load.
	ErrNotInitialized = errors.New("classifier not initialized")

	// ErrAssetLoad is returned when the model or scaler asset cannot be loaded.
	ErrAssetLoad = scaler.ErrAssetLoad

	// ErrBadOutput is returned when the model output is not a single probability.
	ErrBadOutput = errors.New("invalid model output")
)

// Model is an opaque, externally trained binary classifier. It receives a
// batch of normalized feature vectors and returns one row per input; the
// first column of each row is the probability of running.
type Model interface {
	Predict(input [][]float64) ([][]float64, error)
}

// ModelFunc adapts a single-vector scoring function to Model.
type ModelFunc func(x []float64) (float64, error)

func (f ModelFunc) Predict(input [][]float64) ([][]float64, error) {
	out := make([][]float64, len(input))
	for i, x := range input {
		p, err := f(x)
		if err != nil {
			return nil, err
		}
		out[i] = []float64{p}
	}
	return out, nil
}

// Result is one classification.
type Result struct {
	Label      activity.Label
	Score      float64
	Confidence float64 // probability of Label
}

// Adapter holds the model and the scaler fitted with it. It is safe for
// concurrent use once initialized.
type Adapter struct {
	mu         sync.RWMutex
	model      Model
	normalizer *scaler.Normalizer
}

// New creates an uninitialized adapter.
func New() *Adapter {
	return &Adapter{}
}

// Init installs a model and the normalizer it was trained with. The scaler
// must describe exactly features.Count features, in features.Names order
// when names are present.
func (a *Adapter) Init(model Model, normalizer *scaler.Normalizer) error {
	if model == nil {
		return fmt.Errorf("%w: nil model", ErrAssetLoad)
	}
	if normalizer == nil {
		return fmt.Errorf("%w: %w", ErrAssetLoad, scaler.ErrNotLoaded)
	}
	if n := normalizer.Len(); n != features.Count {
		return fmt.Errorf("%w: %w: scaler has %d features, want %d", ErrAssetLoad, scaler.ErrDimensionMismatch, n, features.Count)
	}
	if err := normalizer.Params().CheckNames(features.Names[:]); err != nil {
		return fmt.Errorf("%w: %w", ErrAssetLoad, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = model
	a.normalizer = normalizer
	return nil
}

// Load reads both assets from disk and initializes the adapter.
func Load(modelPath, scalerPath string) (*Adapter, error) {
	model, err := LoadModel(modelPath)
	if err != nil {
		return nil, err
	}
	params, err := scaler.Load(scalerPath)
	if err != nil {
		return nil, err
	}
	normalizer, err := scaler.NewNormalizer(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssetLoad, err)
	}

	a := New()
	if err := a.Init(model, normalizer); err != nil {
		return nil, err
	}
	return a, nil
}

// Initialized reports whether both model and scaler are installed.
func (a *Adapter) Initialized() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model != nil && a.normalizer != nil
}

// Score runs the model on one normalized vector (batch size 1) and returns
// the probability of running.
func (a *Adapter) Score(normalized features.Vector) (score float64, err error) {
	a.mu.RLock()
	model := a.model
	a.mu.RUnlock()

	if model == nil {
		return 0, ErrNotInitialized
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panic: %v", r)
		}
	}()

	out, err := model.Predict([][]float64{normalized})
	if err != nil {
		return 0, fmt.Errorf("model predict: %w", err)
	}
	if len(out) != 1 || len(out[0]) != 1 {
		return 0, fmt.Errorf("%w: shape %s, want [1,1]", ErrBadOutput, shape(out))
	}

	score = out[0][0]
	if math.IsNaN(score) || score < 0 || score > 1 {
		return 0, fmt.Errorf("%w: score %v outside [0,1]", ErrBadOutput, score)
	}
	return score, nil
}

// Decide applies the fixed threshold.
func Decide(score float64) activity.Label {
	if score > Threshold {
		return activity.Running
	}
	return activity.Walking
}

// Classify normalizes a raw feature vector, scores it and labels it.
func (a *Adapter) Classify(raw features.Vector) (Result, error) {
	a.mu.RLock()
	normalizer := a.normalizer
	a.mu.RUnlock()

	if normalizer == nil {
		return Result{}, ErrNotInitialized
	}

	normalized, err := normalizer.Normalize(raw)
	if err != nil {
		return Result{}, fmt.Errorf("normalize: %w", err)
	}

	score, err := a.Score(normalized)
	if err != nil {
		return Result{}, err
	}

	label := Decide(score)
	confidence := score
	if label == activity.Walking {
		confidence = 1 - score
	}
	return Result{Label: label, Score: score, Confidence: confidence}, nil
}

func shape(out [][]float64) string {
	if len(out) == 0 {
		return "[0]"
	}
	return fmt.Sprintf("[%d,%d]", len(out), len(out[0]))
}
