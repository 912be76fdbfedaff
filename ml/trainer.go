package ml

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"edupredict/pipeline"
)

const (
	summaryHeadRows = 10
	summaryYValues  = 20
)

// TrainingSpec selects feature and target columns by name.
type TrainingSpec struct {
	Features []string `json:"features"`
	Target   string   `json:"target"`
}

// Validate checks the selection against t.
func (s TrainingSpec) Validate(t *pipeline.Table) error {
	if len(s.Features) == 0 {
		return fmt.Errorf("%w: no feature columns selected", ErrInvalidSpec)
	}
	if s.Target == "" {
		return fmt.Errorf("%w: no target column selected", ErrInvalidSpec)
	}
	if t == nil || t.NumRows() == 0 {
		return fmt.Errorf("%w: dataset has no rows", ErrInvalidSpec)
	}
	for _, name := range append(append([]string(nil), s.Features...), s.Target) {
		if _, ok := t.Column(name); !ok {
			return fmt.Errorf("%w: unknown column %q", ErrInvalidSpec, name)
		}
	}
	return nil
}

// CorrelationRow is one row of the Pearson correlation matrix. Pairs that
// are undefined (a constant column) are left out.
type CorrelationRow struct {
	Column string             `json:"column"`
	Values map[string]float64 `json:"values"`
}

// TargetCorrelation is the correlation of one column with the target.
type TargetCorrelation struct {
	Column      string  `json:"column"`
	Correlation float64 `json:"correlation"`
}

// TrainingSummary describes a finished training run.
type TrainingSummary struct {
	ModelID            string                  `json:"model_id"`
	RunID              string                  `json:"run_id"`
	Rows               int                     `json:"rows"`
	Cols               int                     `json:"cols"`
	Features           []string                `json:"features"`
	Target             string                  `json:"target"`
	XHead              [][]string              `json:"x_head"`
	YHead              []string                `json:"y_head"`
	Correlations       []CorrelationRow        `json:"correlations"`
	TargetCorrelations []TargetCorrelation     `json:"target_correlations"`
	YValues            []float64               `json:"y_values"`
	R2                 float64                 `json:"r2"`
	Issues             []pipeline.QualityIssue `json:"issues,omitempty"`
}

// Trainer fits TrainedModels from staged tables.
type Trainer struct {
	modelID string
	cleaner *pipeline.DataCleaner
	logger  *zap.Logger
}

// NewTrainer creates a trainer that stamps models with modelID.
func NewTrainer(modelID string, cleaner *pipeline.DataCleaner, logger *zap.Logger) *Trainer {
	if modelID == "" {
		modelID = DefaultModelID
	}
	if cleaner == nil {
		cleaner = pipeline.NewDataCleaner()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{modelID: modelID, cleaner: cleaner, logger: logger}
}

// Train fits a model on a copy of staged; staged itself is not modified.
func (tr *Trainer) Train(ctx context.Context, staged *pipeline.Table, spec TrainingSpec) (*TrainedModel, error) {
	model, _, err := tr.TrainWithSummary(ctx, staged, spec)
	return model, err
}

// TrainWithSummary is Train plus the data summary shown after processing.
func (tr *Trainer) TrainWithSummary(ctx context.Context, staged *pipeline.Table, spec TrainingSpec) (*TrainedModel, *TrainingSummary, error) {
	if err := spec.Validate(staged); err != nil {
		return nil, nil, err
	}

	t := staged.Clone()
	issues := tr.cleaner.Clean(t)
	policy := pipeline.Encode(t)

	features, labels, err := BuildTrainingSet(t, spec)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	lr, err := FitOLS(features, labels)
	if err != nil {
		return nil, nil, fmt.Errorf("fit model: %w", err)
	}

	model := &TrainedModel{
		ID:        tr.modelID,
		RunID:     uuid.NewString(),
		Features:  append([]string(nil), spec.Features...),
		Target:    spec.Target,
		Weights:   lr.Weights,
		Intercept: lr.Intercept,
		Scalers:   make(map[string]pipeline.MinMax),
		Encoding:  make(pipeline.EncodingPolicy),
		Rows:      len(labels),
		R2:        lr.R2(features, labels),
		TrainedAt: time.Now().UTC(),
	}
	for _, name := range model.Columns() {
		col, _ := t.Column(name)
		if col.Kind == pipeline.Categorical {
			model.Encoding[name] = policy[name]
			continue
		}
		scale := pipeline.MinMax{Min: 0, Max: 1}
		if col.Scale != nil {
			scale = *col.Scale
		}
		model.Scalers[name] = scale
	}

	tr.logger.Info("model trained",
		zap.String("model_id", model.ID),
		zap.String("run_id", model.RunID),
		zap.Strings("features", model.Features),
		zap.String("target", model.Target),
		zap.Int("rows", model.Rows),
		zap.Float64("r2", model.R2),
		zap.Duration("fit_duration", time.Since(start)),
	)

	summary, err := summarize(t, spec, labels)
	if err != nil {
		return nil, nil, err
	}
	summary.ModelID = model.ID
	summary.RunID = model.RunID
	summary.R2 = model.R2
	summary.Issues = issues
	return model, summary, nil
}

func summarize(t *pipeline.Table, spec TrainingSpec, labels []float64) (*TrainingSummary, error) {
	xHead, err := t.Head(summaryHeadRows, spec.Features...)
	if err != nil {
		return nil, err
	}
	yHead := make([]string, 0, summaryHeadRows)
	for i := 0; i < len(labels) && i < summaryHeadRows; i++ {
		yHead = append(yHead, strconv.FormatFloat(labels[i], 'g', -1, 64))
	}
	n := min(len(labels), summaryYValues)

	s := &TrainingSummary{
		Rows:     t.NumRows(),
		Cols:     t.NumCols(),
		Features: spec.Features,
		Target:   spec.Target,
		XHead:    xHead,
		YHead:    yHead,
		YValues:  append([]float64(nil), labels[:n]...),
	}

	cols := t.Columns()
	for _, a := range cols {
		row := CorrelationRow{Column: a.Name, Values: make(map[string]float64)}
		for _, b := range cols {
			if r, ok := correlation(a.Numbers, b.Numbers); ok {
				row.Values[b.Name] = r
			}
		}
		s.Correlations = append(s.Correlations, row)
	}

	target, _ := t.Column(spec.Target)
	for _, col := range cols {
		if r, ok := correlation(col.Numbers, target.Numbers); ok {
			s.TargetCorrelations = append(s.TargetCorrelations, TargetCorrelation{Column: col.Name, Correlation: r})
		}
	}
	sort.SliceStable(s.TargetCorrelations, func(i, j int) bool {
		return s.TargetCorrelations[i].Correlation > s.TargetCorrelations[j].Correlation
	})
	return s, nil
}

func correlation(a, b []float64) (float64, bool) {
	if len(a) < 2 || len(a) != len(b) {
		return 0, false
	}
	r := stat.Correlation(a, b, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return r, true
}
