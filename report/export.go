// Package report renders prediction results as downloadable files.
package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"edupredict/ml"
)

// Filename is the attachment name used for downloads.
const Filename = "Predicted_Performance_Report.csv"

const (
	titleRule       = "===================== EDU PREDICT REPORT ====================="
	closingRule     = "=============================================================="
	footer          = "Generated by EduPredict AI Model"
	unknownStudent  = "Unknown Student"
	detailsHeading  = "--- Submitted Details ---"
	predictHeading  = "--- Prediction ---"
	predictedPrefix = "Predicted "
)

// Report is one student's submitted inputs and prediction.
type Report struct {
	StudentName string
	Inputs      []ml.Field
	Target      string
	Value       float64
}

// FromResult builds a Report for name from a prediction.
func FromResult(name string, res *ml.PredictionResult) Report {
	return Report{
		StudentName: name,
		Inputs:      res.Inputs,
		Target:      res.Target,
		Value:       res.Value,
	}
}

// Label turns a column name like "hours_studied" into "Hours Studied".
func Label(name string) string {
	return cases.Title(language.Und).String(strings.ReplaceAll(name, "_", " "))
}

// WritePrediction writes r as a two-column CSV. The output has no
// timestamps, so equal reports render to equal bytes.
func WritePrediction(w io.Writer, r Report) error {
	name := r.StudentName
	if strings.TrimSpace(name) == "" {
		name = unknownStudent
	}

	rows := [][]string{
		{titleRule},
		{},
		{"Student Name", name},
		{},
		{detailsHeading},
		{"Feature", "Value"},
	}
	for _, f := range r.Inputs {
		rows = append(rows, []string{Label(f.Name), f.Value})
	}
	rows = append(rows,
		[]string{},
		[]string{predictHeading},
		[]string{predictedPrefix + Label(r.Target), strconv.FormatFloat(r.Value, 'f', 2, 64)},
		[]string{},
		[]string{closingRule},
		[]string{footer},
	)

	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}
