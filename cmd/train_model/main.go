package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"edupredict/config"
	"edupredict/logger"
	"edupredict/ml"
	"edupredict/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	file := flag.String("file", "", "dataset to train on (.csv, .xlsx, .xls)")
	features := flag.String("features", "", "comma-separated feature columns")
	target := flag.String("target", "", "target column")
	modelDir := flag.String("model_dir", "", "model directory (default from config)")
	modelID := flag.String("id", "", "model id (default from config)")
	sheet := flag.String("sheet", "", "workbook sheet, empty for the first")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *modelDir != "" {
		cfg.Model.Dir = *modelDir
	}
	if *modelID != "" {
		cfg.Model.ID = *modelID
	}
	if *file == "" {
		log.Fatal("file is required")
	}

	spec := ml.TrainingSpec{Features: splitList(*features), Target: strings.TrimSpace(*target)}
	model, err := train(context.Background(), log, *file, *sheet, cfg.Model, spec)
	if err != nil {
		log.Fatal("training failed", zap.Error(err))
	}
	fmt.Printf("model %q saved to %s (rows=%d r2=%.4f)\n", model.ID, cfg.Model.Dir, model.Rows, model.R2)
}

func train(ctx context.Context, log *zap.Logger, path, sheet string, mc config.ModelConfig, spec ml.TrainingSpec) (*ml.TrainedModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	table, err := pipeline.NewDataIngester(pipeline.IngestionConfig{Sheet: sheet}).Ingest(f, path)
	if err != nil {
		return nil, err
	}
	cleaner := pipeline.NewDataCleaner()
	for _, issue := range cleaner.Clean(table) {
		log.Info("data quality", zap.String("column", issue.Column), zap.String("issue", issue.Message))
	}

	model, err := ml.NewTrainer(mc.ID, cleaner, log).Train(ctx, table, spec)
	if err != nil {
		return nil, err
	}
	store, err := ml.NewModelStore(mc.Dir, mc.CacheSize, log)
	if err != nil {
		return nil, err
	}
	if err := store.Save(ctx, model); err != nil {
		return nil, err
	}
	return model, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
