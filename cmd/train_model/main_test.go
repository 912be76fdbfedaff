package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"edupredict/config"
	"edupredict/ml"
)

func TestSplitList(t *testing.T) {
	got := splitList(" Hours, ,Sleep_Hours,")
	want := []string{"Hours", "Sleep_Hours"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitList = %v, want %v", got, want)
	}
}

func TestTrainWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "scores.csv")
	if err := os.WriteFile(data, []byte("Hours,School,Score\n1,public,10\n5,private,50\n9,public,90\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mc := config.ModelConfig{Dir: filepath.Join(dir, "models"), ID: "offline", CacheSize: 2}
	spec := ml.TrainingSpec{Features: []string{"Hours", "School"}, Target: "Score"}

	model, err := train(context.Background(), zap.NewNop(), data, "", mc, spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.ID != "offline" || model.Rows != 3 {
		t.Fatalf("unexpected model: %+v", model)
	}
	if _, ok := model.Encoding["School"]; !ok {
		t.Fatal("expected an encoding for School")
	}
	if _, err := os.Stat(filepath.Join(mc.Dir, "offline.json")); err != nil {
		t.Fatalf("expected artifact on disk: %v", err)
	}

	if _, err := train(context.Background(), zap.NewNop(), data, "", mc, ml.TrainingSpec{Target: "Score"}); err == nil {
		t.Fatal("expected an error without features")
	}
}
