package ml

import (
	"errors"
	"time"

	"edupredict/pipeline"
)

var (
	// ErrInvalidSpec is returned for empty or unknown feature/target selections.
	ErrInvalidSpec = errors.New("invalid training spec")
	// ErrModelNotFound is returned when no artifact exists for a model id.
	ErrModelNotFound = errors.New("no trained model found")
	// ErrOutOfRange is returned when inputs drive a prediction past float64 range.
	ErrOutOfRange = errors.New("prediction out of numeric range")
)

// TrainedModel is a fitted linear model plus everything needed to encode a
// new record the same way the training rows were encoded.
type TrainedModel struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Features  []string  `json:"features"`
	Target    string    `json:"target"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`

	// Scalers holds the training min-max map of every numeric feature and of
	// a numeric target.
	Scalers  map[string]pipeline.MinMax `json:"scalers"`
	Encoding pipeline.EncodingPolicy    `json:"encoding"`

	Rows      int       `json:"rows"`
	R2        float64   `json:"r2"`
	TrainedAt time.Time `json:"trained_at"`
}

// Evaluate returns intercept + sum(w_i * x_i) in model space.
func (m *TrainedModel) Evaluate(x []float64) (float64, error) {
	if len(x) != len(m.Weights) {
		return 0, errors.New("feature vector length mismatch")
	}
	y := m.Intercept
	for i, w := range m.Weights {
		y += w * x[i]
	}
	return y, nil
}

// Columns returns the features followed by the target, without repeats.
func (m *TrainedModel) Columns() []string {
	out := make([]string, 0, len(m.Features)+1)
	seen := make(map[string]bool, len(m.Features)+1)
	for _, name := range append(append([]string(nil), m.Features...), m.Target) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Categorical reports whether feature was label-encoded at training time.
func (m *TrainedModel) Categorical(feature string) bool {
	_, ok := m.Encoding[feature]
	return ok
}

// Field is one raw name/value pair from a form.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PredictionRequest is the raw input for one record.
type PredictionRequest struct {
	Fields []Field `json:"fields"`
}

// Get returns the raw value supplied for name.
func (r PredictionRequest) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// PredictionResult is a single prediction in raw target units.
type PredictionResult struct {
	ModelID string  `json:"model_id"`
	Target  string  `json:"target"`
	Value   float64 `json:"value"`
	Inputs  []Field `json:"inputs"`

	// Malformed lists features whose value was missing or unparseable and
	// was substituted with 0.
	Malformed []string `json:"malformed,omitempty"`
	// Unknown lists categorical features whose value was not seen in training.
	Unknown []string `json:"unknown,omitempty"`
}
