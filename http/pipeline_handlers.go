package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"edupredict/db"
	"edupredict/ml"
	"edupredict/monitoring"
	"edupredict/pipeline"
)

const (
	previewRows     = 10
	maxMemoryUpload = 32 << 20
)

func (a *API) registerPipelineRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/upload", a.handleUpload)
	mux.HandleFunc("POST /api/select-column", a.handleSelectColumn)
	mux.HandleFunc("POST /api/process-data", a.handleProcessData)
	mux.HandleFunc("GET /api/training/history", a.handleTrainingHistory)
	mux.HandleFunc("GET /api/pipeline/stats", a.handlePipelineStats)
}

type uploadResponse struct {
	Filename string                  `json:"filename"`
	Schema   pipeline.Schema         `json:"schema"`
	Preview  [][]string              `json:"preview"`
	Issues   []pipeline.QualityIssue `json:"issues,omitempty"`
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Get(w, r)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := r.ParseMultipartForm(maxMemoryUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			err = errBadRequest("invalid upload: %v", err)
		}
		a.writeError(w, r, err, screenUpload)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		a.writeError(w, r, errBadRequest("no file uploaded: %v", err), screenUpload)
		return
	}
	defer file.Close()

	// reject by extension before reading the body
	if _, err := pipeline.DetectFormat(header.Filename); err != nil {
		a.Metrics.RecordUpload(0, err)
		a.writeError(w, r, err, screenUpload)
		return
	}

	table, err := a.Ingester.Ingest(file, header.Filename)
	if err != nil {
		a.Metrics.RecordUpload(0, err)
		a.writeError(w, r, err, screenUpload)
		return
	}
	a.Metrics.RecordUpload(table.NumRows(), nil)
	issues := a.Cleaner.Clean(table)

	a.Staging.Stage(sess.ID, pipeline.StagedDataset{
		Filename: header.Filename,
		Table:    table,
		Issues:   issues,
	})

	preview, err := table.Head(previewRows)
	if err != nil {
		a.writeError(w, r, err, screenUpload)
		return
	}

	a.publish(monitoring.DatasetUploaded, map[string]any{
		"filename": header.Filename,
		"rows":     table.NumRows(),
		"cols":     table.NumCols(),
	})

	respondJSON(w, uploadResponse{
		Filename: header.Filename,
		Schema:   table.Schema(),
		Preview:  preview,
		Issues:   issues,
	})
}

func (a *API) handleSelectColumn(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Get(w, r)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		a.writeError(w, r, errBadRequest("invalid form: %v", err), screenSelectColumn)
		return
	}
	spec := ml.TrainingSpec{
		Features: formList(r, "features"),
		Target:   strings.TrimSpace(r.PostForm.Get("target")),
	}

	staged, err := a.Staging.Get(sess.ID)
	if err != nil {
		a.writeError(w, r, err, screenUpload)
		return
	}
	if err := spec.Validate(staged.Table); err != nil {
		a.writeError(w, r, err, screenSelectColumn)
		return
	}
	if err := a.Staging.Select(sess.ID, spec.Features, spec.Target); err != nil {
		a.writeError(w, r, err, screenUpload)
		return
	}

	a.publish(monitoring.ColumnsSelected, spec)
	respondJSON(w, map[string]any{
		"features": spec.Features,
		"target":   spec.Target,
	})
}

func (a *API) handleProcessData(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Get(w, r)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	staged, err := a.Staging.Get(sess.ID)
	if err != nil {
		a.writeError(w, r, err, screenUpload)
		return
	}
	if !staged.Selected() {
		a.writeError(w, r, fmt.Errorf("%w: select feature and target columns first", ml.ErrInvalidSpec), screenSelectColumn)
		return
	}
	spec := ml.TrainingSpec{Features: staged.Features, Target: staged.Target}

	a.publish(monitoring.TrainingStarted, map[string]any{
		"filename": staged.Filename,
		"features": spec.Features,
		"target":   spec.Target,
	})

	start := time.Now()
	model, summary, err := a.Trainer.TrainWithSummary(r.Context(), staged.Table, spec)
	if err == nil {
		err = a.Store.Save(r.Context(), model)
	}
	if err != nil {
		a.Metrics.RecordTraining(time.Since(start), 0, err)
		a.publish(monitoring.TrainingFailed, map[string]string{"error": err.Error()})
		a.writeError(w, r, err, screenSelectColumn)
		return
	}

	a.Metrics.RecordTraining(time.Since(start), model.R2, nil)

	entry := db.TrainingLog{
		ModelID:    model.ID,
		RunID:      model.RunID,
		Features:   model.Features,
		Target:     model.Target,
		R2:         model.R2,
		Filename:   staged.Filename,
		TrainedAt:  model.TrainedAt,
		DataPoints: model.Rows,
	}
	if err := db.SaveTrainingLog(entry); err != nil {
		// the model is saved; a missing history row is not worth failing for
		a.logger.Warn("save training log", zap.String("run_id", model.RunID), zap.Error(err))
	}

	a.publish(monitoring.TrainingCompleted, map[string]any{
		"model_id": model.ID,
		"run_id":   model.RunID,
		"rows":     model.Rows,
		"r2":       model.R2,
	})
	respondJSON(w, summary)
}

func (a *API) handleTrainingHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			a.writeError(w, r, errBadRequest("limit must be a non-negative integer"), "")
			return
		}
		limit = n
	}

	history, err := db.LoadTrainingLog(limit)
	if err != nil {
		a.writeError(w, r, err, "")
		return
	}
	respondJSON(w, map[string]any{
		"history": history,
		"count":   len(history),
	})
}

func (a *API) handlePipelineStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"ingestion":   a.Ingester.GetStats(),
		"cleaning":    a.Cleaner.GetStats(),
		"staged":      a.Staging.Len(),
		"sessions":    a.Sessions.Len(),
		"model_ready": a.Store.Exists(a.Predictor.ModelID()),
		"system":      a.Metrics.GetSystemStats(),
		"timestamp":   time.Now(),
	}
	if a.Hub != nil {
		stats["events"] = a.Hub.Stats()
	}
	respondJSON(w, stats)
}

// formList reads a repeated form field, dropping blank values.
func formList(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.PostForm[key] {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
