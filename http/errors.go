package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"edupredict/db"
	"edupredict/ml"
	"edupredict/pipeline"
)

const (
	codeUnsupportedFormat = "unsupported_format"
	codeInvalidSpec       = "invalid_spec"
	codeModelNotFound     = "model_not_found"
	codeNoData            = "no_data"
	codeMalformedFile     = "malformed_file"
	codeNoPrediction      = "no_prediction"
	codeOutOfRange        = "out_of_range"
	codeBadRequest        = "bad_request"
	codeNotFound          = "not_found"
	codeDuplicateEmail    = "duplicate_email"
	codeTooLarge          = "too_large"
	codeInternal          = "internal"
)

// Screens a client can fall back to after an error.
const (
	screenUpload           = "upload"
	screenSelectColumn     = "select-column"
	screenStudentDashboard = "student-dashboard"
	screenContact          = "contact"
)

var errNoPrediction = errors.New("no prediction found, submit your details first")

type apiError struct {
	Code     string `json:"error"`
	Message  string `json:"message"`
	Redirect string `json:"redirect,omitempty"`
}

// badRequest marks a client mistake that has no dedicated sentinel.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func errBadRequest(format string, args ...any) error {
	return badRequest{msg: fmt.Sprintf(format, args...)}
}

// writeJSON encodes data before touching the response so an unencodable
// value becomes a 500 instead of a status with an empty body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(apiError{Code: codeInternal, Message: "response could not be encoded"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

func respondJSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, data)
}

// classify maps an error to its HTTP status and error code.
func classify(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	var bad badRequest
	switch {
	case errors.Is(err, pipeline.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, codeUnsupportedFormat
	case errors.Is(err, pipeline.ErrEmptyDataset), errors.Is(err, pipeline.ErrNothingStaged):
		return http.StatusUnprocessableEntity, codeNoData
	case errors.Is(err, pipeline.ErrMalformedFile):
		return http.StatusUnprocessableEntity, codeMalformedFile
	case errors.Is(err, ml.ErrInvalidSpec):
		return http.StatusBadRequest, codeInvalidSpec
	case errors.Is(err, ml.ErrOutOfRange):
		return http.StatusUnprocessableEntity, codeOutOfRange
	case errors.Is(err, ml.ErrModelNotFound):
		return http.StatusNotFound, codeModelNotFound
	case errors.Is(err, errNoPrediction):
		return http.StatusNotFound, codeNoPrediction
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, db.ErrDuplicateEmail):
		return http.StatusConflict, codeDuplicateEmail
	case errors.Is(err, db.ErrInvalidRole), errors.As(err, &bad):
		return http.StatusBadRequest, codeBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, codeTooLarge
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// writeError renders err as JSON with a screen the client can return to.
// Internal errors are logged and their text is not exposed.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, redirect string) {
	status, code := classify(err)
	msg := err.Error()
	if code == codeInternal {
		a.logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	writeJSON(w, status, apiError{Code: code, Message: msg, Redirect: redirect})
}
