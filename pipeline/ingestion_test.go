package pipeline

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		filename string
		want     Format
		wantErr  bool
	}{
		{"scores.csv", FormatCSV, false},
		{"SCORES.CSV", FormatCSV, false},
		{"book.xlsx", FormatXLSX, false},
		{"legacy.XLS", FormatXLS, false},
		{"notes.txt", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, err := DetectFormat(tt.filename)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestIngestCSVInfersKinds(t *testing.T) {
	data := "Name,Hours,School\nAna,1,public\nBo,NA,\nCy,3.5,private\n"
	table, err := Ingest(strings.NewReader(data), "students.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.NumRows() != 3 || table.NumCols() != 3 {
		t.Fatalf("unexpected shape %dx%d", table.NumRows(), table.NumCols())
	}

	hours, _ := table.Column("Hours")
	if hours.Kind != Numeric {
		t.Fatalf("expected Hours numeric, got %s", hours.Kind)
	}
	if !math.IsNaN(hours.Numbers[1]) || hours.Numbers[2] != 3.5 {
		t.Fatalf("unexpected Hours values: %v", hours.Numbers)
	}

	school, _ := table.Column("School")
	if school.Kind != Categorical {
		t.Fatalf("expected School categorical, got %s", school.Kind)
	}
	if !school.Missing(1) {
		t.Fatal("expected empty School cell to be missing")
	}
}

func TestIngestCSVWithBOMAndRaggedRows(t *testing.T) {
	data := "\ufeffA,B,C\n1,2\n\n,,\n3,4,5\n"
	table, err := Ingest(strings.NewReader(data), "data.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(table.Names(), ","); got != "A,B,C" {
		t.Fatalf("unexpected header %q", got)
	}
	if table.NumRows() != 2 {
		t.Fatalf("expected blank rows skipped, got %d rows", table.NumRows())
	}
	c, _ := table.Column("C")
	if !math.IsNaN(c.Numbers[0]) || c.Numbers[1] != 5 {
		t.Fatalf("expected padded cell to be missing: %v", c.Numbers)
	}
}

func TestIngestHeaderNames(t *testing.T) {
	tests := []struct {
		data string
		want string
	}{
		{"A,,A\n1,2,3\n", "A|Unnamed: 1|A.1"},
		{"a,a,a\n1,2,3\n", "a|a.1|a.2"},
		{"a,a,a.1\n1,2,3\n", "a|a.1|a.1.1"},
		{"a.1,a,a\n1,2,3\n", "a.1|a|a.1.1"},
	}
	for _, tt := range tests {
		table, err := Ingest(strings.NewReader(tt.data), "data.csv")
		if err != nil {
			t.Fatalf("Ingest(%q): unexpected error: %v", tt.data, err)
		}
		if got := strings.Join(table.Names(), "|"); got != tt.want {
			t.Errorf("Ingest(%q): expected names %q, got %q", tt.data, tt.want, got)
		}
	}
}

func TestIngestEmpty(t *testing.T) {
	for _, data := range []string{"", "A,B\n", "A,B\n,\n"} {
		if _, err := Ingest(strings.NewReader(data), "empty.csv"); !errors.Is(err, ErrEmptyDataset) {
			t.Errorf("Ingest(%q): expected ErrEmptyDataset, got %v", data, err)
		}
	}
}

func TestIngestXLSX(t *testing.T) {
	f := excelize.NewFile()
	rows := [][]interface{}{
		{"Hours", "Gender", "Score"},
		{1, "male", 10},
		{2, "female", 20},
		{3, "female", 30},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	table, err := Ingest(buf, "book.xlsx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.NumRows() != 3 {
		t.Fatalf("expected 3 rows, got %d", table.NumRows())
	}
	score, _ := table.Column("Score")
	if score.Kind != Numeric || score.Numbers[2] != 30 {
		t.Fatalf("unexpected Score column: %+v", score)
	}
	gender, _ := table.Column("Gender")
	if gender.Kind != Categorical || gender.Strings[0] != "male" {
		t.Fatalf("unexpected Gender column: %+v", gender)
	}
}

func TestIngestXLS(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "scores.xls"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	table, err := Ingest(bytes.NewReader(data), "scores.xls")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(table.Names(), ","); got != "Hours,Gender,Score" {
		t.Fatalf("unexpected header %q", got)
	}
	// the sheet has an empty row between the first and second record
	if table.NumRows() != 3 {
		t.Fatalf("expected 3 rows, got %d", table.NumRows())
	}
	hours, _ := table.Column("Hours")
	if hours.Kind != Numeric || hours.Numbers[0] != 1 || hours.Numbers[2] != 4 {
		t.Fatalf("unexpected Hours column: %+v", hours)
	}
	score, _ := table.Column("Score")
	if score.Kind != Numeric || score.Numbers[2] != 40.5 {
		t.Fatalf("unexpected Score column: %+v", score)
	}
	gender, _ := table.Column("Gender")
	if gender.Kind != Categorical || gender.Strings[1] != "female" {
		t.Fatalf("unexpected Gender column: %+v", gender)
	}
	if !gender.Missing(2) {
		t.Fatal("expected absent Gender cell to be missing")
	}
}

func TestIngestRejectsUnsupported(t *testing.T) {
	ingester := NewDataIngester(IngestionConfig{})
	if _, err := ingester.Ingest(strings.NewReader("a,b\n1,2\n"), "data.json"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := ingester.Ingest(strings.NewReader("a,b\n1,2\n"), "data.csv"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := ingester.GetStats()
	if stats.Files != 2 || stats.Rejected != 1 || stats.RowsIngested != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestIngestMaxRows(t *testing.T) {
	ingester := NewDataIngester(IngestionConfig{MaxRows: 2})
	table, err := ingester.Ingest(strings.NewReader("a\n1\n2\n3\n"), "data.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.NumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", table.NumRows())
	}
}

func TestIngestMalformedFile(t *testing.T) {
	tests := []struct {
		filename string
		data     string
	}{
		{"bad.csv", "a,b\n\"1,2\n"},
		{"bad.xlsx", "not a zip archive"},
		{"bad.xls", "not a compound document"},
	}
	for _, tt := range tests {
		_, err := Ingest(strings.NewReader(tt.data), tt.filename)
		if !errors.Is(err, ErrMalformedFile) {
			t.Errorf("Ingest(%s): expected ErrMalformedFile, got %v", tt.filename, err)
		}
	}
}
