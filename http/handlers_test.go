package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap"

	"edupredict/db"
	"edupredict/ml"
	"edupredict/pipeline"
)

const scoresCSV = "Hours,Score\n1,10\n2,20\n3,30\n4,40\n5,50\n6,60\n7,70\n8,80\n9,90\n"

type testEnv struct {
	server *httptest.Server
	api    *API
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if err := db.InitDB(filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := ml.NewModelStore(t.TempDir(), 4, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cleaner := pipeline.NewDataCleaner()
	api := NewAPI(Services{
		Ingester:  pipeline.NewDataIngester(pipeline.IngestionConfig{}),
		Cleaner:   cleaner,
		Staging:   pipeline.NewStagingStore(pipeline.StagingConfig{}),
		Trainer:   ml.NewTrainer(ml.DefaultModelID, cleaner, nil),
		Store:     store,
		Predictor: ml.NewPredictor(store, ml.DefaultModelID, nil),
	})

	server := httptest.NewServer(Handler(DefaultServerConfig(), api))
	t.Cleanup(server.Close)
	return &testEnv{server: server, api: api}
}

// client returns a client with its own cookie jar, i.e. its own session.
func (e *testEnv) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &http.Client{Jar: jar}
}

func upload(t *testing.T, c *http.Client, base, filename, content string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	io.WriteString(fw, content)
	mw.Close()

	resp, err := c.Post(base+"/api/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func postForm(t *testing.T, c *http.Client, u string, form url.Values) *http.Response {
	t.Helper()
	resp, err := c.PostForm(u, form)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func get(t *testing.T, c *http.Client, u string) *http.Response {
	t.Helper()
	resp, err := c.Get(u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func do(t *testing.T, c *http.Client, method, u string, form url.Values) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, u, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, wantStatus int, v any) {
	t.Helper()
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("expected status %d, got %d: %s", wantStatus, resp.StatusCode, body)
	}
	if v == nil {
		return
	}
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("invalid json %q: %v", body, err)
	}
}

func expectError(t *testing.T, resp *http.Response, wantStatus int, wantCode string) apiError {
	t.Helper()
	var e apiError
	decode(t, resp, wantStatus, &e)
	if e.Code != wantCode {
		t.Fatalf("expected error code %q, got %q (%s)", wantCode, e.Code, e.Message)
	}
	return e
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)

	var body map[string]string
	decode(t, get(t, env.server.Client(), env.server.URL+"/api/health"), http.StatusOK, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestTrainPredictDownloadFlow(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	base := env.server.URL

	var up uploadResponse
	decode(t, upload(t, c, base, "scores.csv", scoresCSV), http.StatusOK, &up)
	if up.Schema.Rows != 9 || up.Schema.Cols != 2 {
		t.Fatalf("unexpected schema: %+v", up.Schema)
	}
	if len(up.Preview) != 9 {
		t.Fatalf("expected 9 preview rows, got %d", len(up.Preview))
	}

	// training before a selection is an invalid spec
	expectError(t, postForm(t, c, base+"/api/process-data", nil), http.StatusBadRequest, codeInvalidSpec)

	e := expectError(t, postForm(t, c, base+"/api/select-column", url.Values{
		"features": {"Hours"},
		"target":   {"Missing"},
	}), http.StatusBadRequest, codeInvalidSpec)
	if e.Redirect != screenSelectColumn {
		t.Fatalf("expected redirect to %q, got %q", screenSelectColumn, e.Redirect)
	}

	decode(t, postForm(t, c, base+"/api/select-column", url.Values{
		"features": {"Hours"},
		"target":   {"Score"},
	}), http.StatusOK, nil)

	var summary ml.TrainingSummary
	decode(t, postForm(t, c, base+"/api/process-data", nil), http.StatusOK, &summary)
	if summary.ModelID != ml.DefaultModelID || summary.Rows != 9 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if math.Abs(summary.R2-1) > 1e-9 {
		t.Fatalf("expected a perfect fit, got R2 %v", summary.R2)
	}

	var form struct {
		Target string       `json:"target"`
		Fields []inputField `json:"fields"`
	}
	decode(t, get(t, c, base+"/api/student/input"), http.StatusOK, &form)
	if form.Target != "Score" || len(form.Fields) != 1 || form.Fields[0].Name != "Hours" || form.Fields[0].Categorical {
		t.Fatalf("unexpected form: %+v", form)
	}

	expectError(t, get(t, c, base+"/api/student/download"), http.StatusNotFound, codeNoPrediction)

	e = expectError(t, postForm(t, c, base+"/api/student/input", url.Values{"Hours": {"1e308"}}), http.StatusUnprocessableEntity, codeOutOfRange)
	if e.Redirect != screenStudentDashboard {
		t.Fatalf("expected redirect %q, got %q", screenStudentDashboard, e.Redirect)
	}
	// an overflowing prediction is not kept for download
	expectError(t, get(t, c, base+"/api/student/download"), http.StatusNotFound, codeNoPrediction)

	var predicted struct {
		StudentName string              `json:"student_name"`
		Prediction  ml.PredictionResult `json:"prediction"`
	}
	decode(t, postForm(t, c, base+"/api/student/input", url.Values{
		"Hours":        {"5"},
		"student_name": {"Ana"},
	}), http.StatusOK, &predicted)
	if math.Abs(predicted.Prediction.Value-50) > 1e-6 {
		t.Fatalf("expected 50, got %v", predicted.Prediction.Value)
	}
	if predicted.StudentName != "Ana" {
		t.Fatalf("unexpected student name %q", predicted.StudentName)
	}

	resp := get(t, c, base+"/api/student/download")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "Predicted_Performance_Report.csv") {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	csvBody, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"Student Name,Ana", "Hours,5", "Predicted Score,50.00"} {
		if !strings.Contains(string(csvBody), want) {
			t.Fatalf("report is missing %q:\n%s", want, csvBody)
		}
	}

	resp = get(t, c, base+"/api/metrics")
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		`edupredict_uploads_total{outcome="ok"} 1`,
		`edupredict_training_runs_total{outcome="ok"} 1`,
		`edupredict_predictions_total 1`,
	} {
		if !strings.Contains(string(metrics), want) {
			t.Fatalf("metrics are missing %q:\n%s", want, metrics)
		}
	}

	var history struct {
		Count   int              `json:"count"`
		History []db.TrainingLog `json:"history"`
	}
	decode(t, get(t, c, base+"/api/training/history"), http.StatusOK, &history)
	if history.Count != 1 || history.History[0].Filename != "scores.csv" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestUploadErrors(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	e := expectError(t, upload(t, c, env.server.URL, "notes.txt", "a,b\n1,2\n"), http.StatusUnsupportedMediaType, codeUnsupportedFormat)
	if e.Redirect != screenUpload {
		t.Fatalf("expected redirect to %q, got %q", screenUpload, e.Redirect)
	}
	expectError(t, upload(t, c, env.server.URL, "empty.csv", ""), http.StatusUnprocessableEntity, codeNoData)
	expectError(t, upload(t, c, env.server.URL, "broken.xlsx", "not a zip archive"), http.StatusUnprocessableEntity, codeMalformedFile)
	expectError(t, postForm(t, c, env.server.URL+"/api/upload", url.Values{"x": {"1"}}), http.StatusBadRequest, codeBadRequest)
}

func TestStagingIsPerSession(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.client(t), env.client(t)
	base := env.server.URL

	decode(t, upload(t, a, base, "scores.csv", scoresCSV), http.StatusOK, nil)

	expectError(t, postForm(t, b, base+"/api/select-column", url.Values{
		"features": {"Hours"},
		"target":   {"Score"},
	}), http.StatusUnprocessableEntity, codeNoData)
	expectError(t, postForm(t, b, base+"/api/process-data", nil), http.StatusUnprocessableEntity, codeNoData)
}

func TestResetSessionDropsStagedData(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	base := env.server.URL

	decode(t, upload(t, c, base, "scores.csv", scoresCSV), http.StatusOK, nil)
	if n := env.api.Staging.Len(); n != 1 {
		t.Fatalf("expected 1 staged dataset, got %d", n)
	}

	decode(t, do(t, c, http.MethodDelete, base+"/api/session", nil), http.StatusNoContent, nil)
	if n := env.api.Staging.Len(); n != 0 {
		t.Fatalf("expected staging to be dropped, got %d", n)
	}
	expectError(t, postForm(t, c, base+"/api/process-data", nil), http.StatusUnprocessableEntity, codeNoData)
}

func TestStudentInputWithoutModel(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	expectError(t, get(t, c, env.server.URL+"/api/student/input"), http.StatusNotFound, codeModelNotFound)
	expectError(t, postForm(t, c, env.server.URL+"/api/student/input", url.Values{"Hours": {"5"}}), http.StatusNotFound, codeModelNotFound)
}

func TestStudentCRUD(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	base := env.server.URL + "/api/students"

	form := url.Values{
		"name":       {"Ana"},
		"email":      {"Ana@Example.com"},
		"password":   {"secret"},
		"class_name": {"10A"},
		"roll_no":    {"7"},
		"subject":    {"ignored for students"},
	}
	var created db.User
	decode(t, postForm(t, c, base, form), http.StatusCreated, &created)
	if created.ID == 0 || created.Email != "ana@example.com" || created.Subject != "" {
		t.Fatalf("unexpected user: %+v", created)
	}

	expectError(t, postForm(t, c, base, form), http.StatusConflict, codeDuplicateEmail)
	expectError(t, postForm(t, c, base, url.Values{"name": {"x"}}), http.StatusBadRequest, codeBadRequest)

	id := "/" + strconv.FormatInt(created.ID, 10)
	var got db.User
	decode(t, get(t, c, base+id), http.StatusOK, &got)
	if got.ClassName != "10A" {
		t.Fatalf("unexpected user: %+v", got)
	}
	// a student id is not a teacher
	expectError(t, get(t, c, env.server.URL+"/api/teachers"+id), http.StatusNotFound, codeNotFound)

	var updated db.User
	decode(t, do(t, c, http.MethodPut, base+id, url.Values{
		"name":       {"Ana Maria"},
		"email":      {"ana@example.com"},
		"class_name": {"11B"},
	}), http.StatusOK, &updated)
	if updated.Name != "Ana Maria" || updated.ClassName != "11B" {
		t.Fatalf("unexpected update: %+v", updated)
	}

	var list struct {
		Count int       `json:"count"`
		Users []db.User `json:"users"`
	}
	decode(t, get(t, c, base), http.StatusOK, &list)
	if list.Count != 1 {
		t.Fatalf("expected 1 student, got %+v", list)
	}

	decode(t, do(t, c, http.MethodDelete, base+id, nil), http.StatusNoContent, nil)
	expectError(t, do(t, c, http.MethodDelete, base+id, nil), http.StatusNotFound, codeNotFound)
	expectError(t, get(t, c, base+"/abc"), http.StatusBadRequest, codeBadRequest)
}

func TestDashboards(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	if _, err := db.SeedDefaultUsers(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decode(t, postForm(t, c, env.server.URL+"/api/teachers", url.Values{
		"name":     {"Bo"},
		"email":    {"bo@example.com"},
		"password": {"pw"},
		"subject":  {"Maths"},
	}), http.StatusCreated, nil)

	var admin struct {
		Students int `json:"students"`
		Teachers int `json:"teachers"`
	}
	decode(t, get(t, c, env.server.URL+"/api/dashboard/admin"), http.StatusOK, &admin)
	if admin.Students != 1 || admin.Teachers != 2 {
		t.Fatalf("unexpected counts: %+v", admin)
	}

	var teacher struct {
		Students int `json:"students"`
	}
	decode(t, get(t, c, env.server.URL+"/api/dashboard/teacher"), http.StatusOK, &teacher)
	if teacher.Students != 1 {
		t.Fatalf("unexpected counts: %+v", teacher)
	}
}

func TestFeedback(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	u := env.server.URL + "/api/feedback"

	expectError(t, postForm(t, c, u, url.Values{"user_id": {"42"}, "message": {"hi"}}), http.StatusNotFound, codeNotFound)
	expectError(t, postForm(t, c, u, url.Values{"user_id": {"x"}}), http.StatusBadRequest, codeBadRequest)

	user := &db.User{Name: "T", Email: "t@example.com", Role: db.RoleTeacher}
	if err := db.CreateUser(user, "pw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var f db.Feedback
	decode(t, postForm(t, c, u, url.Values{
		"user_id": {strconv.FormatInt(user.ID, 10)},
		"subject": {"ui"},
		"message": {"works"},
	}), http.StatusCreated, &f)
	if f.ID == 0 || f.UserID != user.ID {
		t.Fatalf("unexpected feedback: %+v", f)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var e apiError
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil || e.Code != codeInternal {
		t.Fatalf("unexpected body %q (%v)", rr.Body.String(), err)
	}
}

func TestClassifyWrappedErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{pipeline.ErrUnsupportedFormat, http.StatusUnsupportedMediaType, codeUnsupportedFormat},
		{pipeline.ErrNothingStaged, http.StatusUnprocessableEntity, codeNoData},
		{ml.ErrModelNotFound, http.StatusNotFound, codeModelNotFound},
		{ml.ErrOutOfRange, http.StatusUnprocessableEntity, codeOutOfRange},
		{pipeline.ErrMalformedFile, http.StatusUnprocessableEntity, codeMalformedFile},
		{db.ErrDuplicateEmail, http.StatusConflict, codeDuplicateEmail},
		{errBadRequest("bad %d", 1), http.StatusBadRequest, codeBadRequest},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge, codeTooLarge},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, codeInternal},
	}
	for _, tt := range tests {
		status, code := classify(fmt.Errorf("handler: %w", tt.err))
		if status != tt.status || code != tt.code {
			t.Errorf("classify(%v) = %d %q, want %d %q", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestWriteJSONUnencodableValue(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusOK, map[string]float64{"value": math.Inf(1)})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var e apiError
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil || e.Code != codeInternal {
		t.Fatalf("unexpected body %q (%v)", rr.Body.String(), err)
	}
}
