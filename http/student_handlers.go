package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"edupredict/ml"
	"edupredict/monitoring"
	"edupredict/report"
)

func (a *API) registerStudentRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/student/input", a.handleStudentForm)
	mux.HandleFunc("POST /api/student/input", a.handleStudentPredict)
	mux.HandleFunc("GET /api/student/download", a.handleStudentDownload)
}

// inputField describes one form field of the prediction screen.
type inputField struct {
	Name        string   `json:"name"`
	Label       string   `json:"label"`
	Categorical bool     `json:"categorical"`
	Options     []string `json:"options,omitempty"`
}

func (a *API) handleStudentForm(w http.ResponseWriter, r *http.Request) {
	m, err := a.Predictor.Model(r.Context())
	if err != nil {
		a.writeError(w, r, err, screenStudentDashboard)
		return
	}

	fields := make([]inputField, len(m.Features))
	for i, name := range m.Features {
		fields[i] = inputField{Name: name, Label: report.Label(name)}
		if enc, ok := m.Encoding[name]; ok {
			fields[i].Categorical = true
			fields[i].Options = enc.Categories
		}
	}
	respondJSON(w, map[string]any{
		"model_id":   m.ID,
		"target":     m.Target,
		"label":      report.Label(m.Target),
		"trained_at": m.TrainedAt,
		"fields":     fields,
	})
}

func (a *API) handleStudentPredict(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Get(w, r)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		a.writeError(w, r, errBadRequest("invalid form: %v", err), screenStudentDashboard)
		return
	}

	m, err := a.Predictor.Model(r.Context())
	if err != nil {
		a.writeError(w, r, err, screenStudentDashboard)
		return
	}

	var req ml.PredictionRequest
	for _, name := range m.Features {
		if values, ok := r.PostForm[name]; ok && len(values) > 0 {
			req.Fields = append(req.Fields, ml.Field{Name: name, Value: values[0]})
		}
	}

	res, err := a.Predictor.PredictRequest(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err, screenStudentDashboard)
		return
	}

	a.Metrics.RecordPrediction(len(res.Malformed) + len(res.Unknown))

	sess.StudentName = strings.TrimSpace(r.PostForm.Get("student_name"))
	sess.Prediction = res

	a.publish(monitoring.PredictionMade, map[string]any{
		"model_id": res.ModelID,
		"target":   res.Target,
		"value":    res.Value,
	})
	respondJSON(w, map[string]any{
		"student_name": sess.StudentName,
		"label":        "Predicted " + report.Label(res.Target),
		"prediction":   res,
	})
}

func (a *API) handleStudentDownload(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Get(w, r)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.Prediction == nil {
		a.writeError(w, r, errNoPrediction, screenStudentDashboard)
		return
	}

	var buf bytes.Buffer
	if err := report.WritePrediction(&buf, report.FromResult(sess.StudentName, sess.Prediction)); err != nil {
		a.writeError(w, r, err, screenStudentDashboard)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
