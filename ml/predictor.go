package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
)

// Predictor scores raw form input against the model saved under one id.
type Predictor struct {
	store   *ModelStore
	modelID string
	logger  *zap.Logger
}

func NewPredictor(store *ModelStore, modelID string, logger *zap.Logger) *Predictor {
	if modelID == "" {
		modelID = DefaultModelID
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{store: store, modelID: modelID, logger: logger}
}

// ModelID is the id predictions are served from.
func (p *Predictor) ModelID() string { return p.modelID }

// Model loads the current model, or ErrModelNotFound.
func (p *Predictor) Model(ctx context.Context) (*TrainedModel, error) {
	return p.store.Load(ctx, p.modelID)
}

// PredictRequest loads the current model and predicts req with it.
func (p *Predictor) PredictRequest(ctx context.Context, req PredictionRequest) (*PredictionResult, error) {
	m, err := p.Model(ctx)
	if err != nil {
		return nil, err
	}
	res, err := Predict(m, req)
	if err != nil {
		return nil, err
	}
	if len(res.Malformed) > 0 || len(res.Unknown) > 0 {
		p.logger.Warn("prediction input substituted",
			zap.String("model_id", m.ID),
			zap.Strings("malformed", res.Malformed),
			zap.Strings("unknown", res.Unknown),
		)
	}
	return res, nil
}

// Predict scores one record with m. Bad field values are substituted and
// reported on the result; only a prediction beyond float64 range fails with
// ErrOutOfRange.
func Predict(m *TrainedModel, req PredictionRequest) (*PredictionResult, error) {
	if m == nil {
		return nil, errors.New("model is nil")
	}
	if len(m.Weights) != len(m.Features) {
		return nil, fmt.Errorf("model %q has %d weights for %d features", m.ID, len(m.Weights), len(m.Features))
	}

	pre := NewInputPreprocessor(m)
	vector, malformed, unknown := pre.Transform(req)
	y, err := m.Evaluate(vector)
	if err != nil {
		return nil, err
	}

	value := pre.Output(y)
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("%w: check the submitted values", ErrOutOfRange)
	}

	inputs := make([]Field, len(m.Features))
	for i, name := range m.Features {
		raw, _ := req.Get(name)
		inputs[i] = Field{Name: name, Value: strings.TrimSpace(raw)}
	}
	return &PredictionResult{
		ModelID:   m.ID,
		Target:    m.Target,
		Value:     value,
		Inputs:    inputs,
		Malformed: malformed,
		Unknown:   unknown,
	}, nil
}
