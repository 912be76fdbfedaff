package ml

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"
)

func TestHoursScoreEndToEnd(t *testing.T) {
	table := stageCSV(t, "Hours,Score\n1,10\n2,20\n3,30\n4,40\n")
	store, err := NewModelStore(t.TempDir(), 2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	model, err := NewTrainer(DefaultModelID, nil, zap.NewNop()).Train(context.Background(), table, TrainingSpec{Features: []string{"Hours"}, Target: "Score"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Save(context.Background(), model); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	predictor := NewPredictor(store, DefaultModelID, nil)
	res, err := predictor.PredictRequest(context.Background(), PredictionRequest{Fields: []Field{{Name: "Hours", Value: "5"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(res.Value-50) > 1e-6 {
		t.Fatalf("expected 50, got %f", res.Value)
	}
	if res.Target != "Score" || len(res.Malformed) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPredictorWithoutModel(t *testing.T) {
	store, err := NewModelStore(t.TempDir(), 2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = NewPredictor(store, "", nil).PredictRequest(context.Background(), PredictionRequest{})
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
}

func TestPredictOutOfRange(t *testing.T) {
	m := sampleModel("latest")

	for _, hours := range []string{"1e308", "-1e308"} {
		res, err := Predict(m, PredictionRequest{Fields: []Field{
			{Name: "Hours", Value: hours},
			{Name: "School", Value: "public"},
		}})
		if !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("Hours=%s: expected ErrOutOfRange, got %v (%+v)", hours, err, res)
		}
	}
}

func TestPredictSubstitutesBadValues(t *testing.T) {
	m := sampleModel("latest")

	res, err := Predict(m, PredictionRequest{Fields: []Field{
		{Name: "Hours", Value: "lots"},
		{Name: "School", Value: "charter"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Malformed) != 1 || res.Malformed[0] != "Hours" {
		t.Fatalf("expected Hours malformed, got %v", res.Malformed)
	}
	if len(res.Unknown) != 1 || res.Unknown[0] != "School" {
		t.Fatalf("expected School unknown, got %v", res.Unknown)
	}

	// Hours 0 scales to (0-1)/8, School falls back to code 1
	y := 0.05 + 0.8*(-1.0/8) + 0.1*1
	want := 10 + y*80
	if math.Abs(res.Value-want) > 1e-9 {
		t.Fatalf("expected %f, got %f", want, res.Value)
	}
}

func TestPredictCategoryCaseInsensitive(t *testing.T) {
	m := sampleModel("latest")

	res, err := Predict(m, PredictionRequest{Fields: []Field{
		{Name: "Hours", Value: "5"},
		{Name: "School", Value: "PRIVATE"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Unknown) != 0 {
		t.Fatalf("expected case-insensitive match, got unknown %v", res.Unknown)
	}
	y := 0.05 + 0.8*0.5
	if want := 10 + y*80; math.Abs(res.Value-want) > 1e-9 {
		t.Fatalf("expected %f, got %f", want, res.Value)
	}
	if len(res.Inputs) != 2 || res.Inputs[1].Value != "PRIVATE" {
		t.Fatalf("unexpected inputs: %+v", res.Inputs)
	}
}

func TestPredictMissingField(t *testing.T) {
	m := sampleModel("latest")
	res, err := Predict(m, PredictionRequest{Fields: []Field{{Name: "School", Value: "public"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Malformed) != 1 || res.Malformed[0] != "Hours" {
		t.Fatalf("expected Hours reported missing, got %v", res.Malformed)
	}
}
