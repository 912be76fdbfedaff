package ml

import (
	"fmt"

	"edupredict/pipeline"
)

// BuildTrainingSet extracts the feature matrix and target vector from a table
// whose categorical columns have already been encoded.
func BuildTrainingSet(t *pipeline.Table, spec TrainingSpec) (features [][]float64, labels []float64, err error) {
	if err := spec.Validate(t); err != nil {
		return nil, nil, err
	}

	cols := make([]*pipeline.Column, len(spec.Features))
	for j, name := range spec.Features {
		col, _ := t.Column(name)
		if col.Kind == pipeline.Categorical && !col.Encoded {
			return nil, nil, fmt.Errorf("column %q is not encoded", name)
		}
		cols[j] = col
	}
	target, _ := t.Column(spec.Target)
	if target.Kind == pipeline.Categorical && !target.Encoded {
		return nil, nil, fmt.Errorf("column %q is not encoded", spec.Target)
	}

	features = make([][]float64, t.NumRows())
	labels = make([]float64, t.NumRows())
	for i := range features {
		row := make([]float64, len(cols))
		for j, col := range cols {
			row[j] = col.Numbers[i]
		}
		features[i] = row
		labels[i] = target.Numbers[i]
	}
	return features, labels, nil
}
