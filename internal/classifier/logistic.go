package classifier

import (
	"fmt"
	"math"
	"os"

	"github.com/viterin/vek"
	"gopkg.in/yaml.v3"
)

// LogisticModel is the bundled model format: a linear layer followed by a
// sigmoid, exported from the training pipeline as a JSON or YAML document.
type LogisticModel struct {
	Weights   []float64 `yaml:"weights"`
	Bias      float64   `yaml:"bias"`
	NFeatures int       `yaml:"n_features,omitempty"`
}

// LoadModel reads a logistic model document.
func LoadModel(path string) (*LogisticModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: model: %w", ErrAssetLoad, err)
	}

	var m LogisticModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: model: decoding: %w", ErrAssetLoad, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: model: %w", ErrAssetLoad, err)
	}
	return &m, nil
}

func (m *LogisticModel) validate() error {
	if len(m.Weights) == 0 {
		return fmt.Errorf("no weights")
	}
	if m.NFeatures != 0 && m.NFeatures != len(m.Weights) {
		return fmt.Errorf("n_features=%d, got %d weights", m.NFeatures, len(m.Weights))
	}
	for i, w := range m.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("weight %d is not finite", i)
		}
	}
	if math.IsNaN(m.Bias) || math.IsInf(m.Bias, 0) {
		return fmt.Errorf("bias is not finite")
	}
	return nil
}

// Predict implements Model.
func (m *LogisticModel) Predict(input [][]float64) ([][]float64, error) {
	out := make([][]float64, len(input))
	for i, x := range input {
		if len(x) != len(m.Weights) {
			return nil, fmt.Errorf("input %d has %d features, model expects %d", i, len(x), len(m.Weights))
		}
		out[i] = []float64{sigmoid(vek.Dot(m.Weights, x) + m.Bias)}
	}
	return out, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
