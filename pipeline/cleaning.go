package pipeline

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MinMax is the affine map raw -> (raw-Min)/(Max-Min). A constant column
// (Max == Min) maps every value to 0.
type MinMax struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (m MinMax) Constant() bool { return m.Max == m.Min }

// Apply maps a raw value into normalized space.
func (m MinMax) Apply(x float64) float64 {
	if m.Constant() {
		return 0
	}
	return (x - m.Min) / (m.Max - m.Min)
}

// Invert maps a normalized value back to raw units.
func (m MinMax) Invert(v float64) float64 {
	if m.Constant() {
		return m.Min
	}
	return m.Min + v*(m.Max-m.Min)
}

// QualityIssue records something the cleaner changed or could not fix.
type QualityIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"` // low, medium, high
	Column   string `json:"column"`
	Message  string `json:"message"`
}

// CleaningStats counts cleaner activity.
type CleaningStats struct {
	TablesProcessed int64            `json:"tables_processed"`
	CellsFilled     int64            `json:"cells_filled"`
	Issues          map[string]int64 `json:"issues"`
	LastClean       time.Time        `json:"last_clean"`
}

// DataCleaner fills missing values and min-max normalizes numeric columns.
type DataCleaner struct {
	stats     CleaningStats
	statsLock sync.Mutex
}

// NewDataCleaner creates a cleaner.
func NewDataCleaner() *DataCleaner {
	return &DataCleaner{
		stats: CleaningStats{Issues: make(map[string]int64)},
	}
}

// Clean runs FillMissing then Normalize on t in place.
func (dc *DataCleaner) Clean(t *Table) []QualityIssue {
	issues := dc.FillMissing(t)
	issues = append(issues, dc.Normalize(t)...)

	dc.statsLock.Lock()
	dc.stats.TablesProcessed++
	dc.stats.LastClean = time.Now()
	for _, issue := range issues {
		dc.stats.Issues[issue.Type]++
	}
	dc.statsLock.Unlock()
	return issues
}

// FillMissing replaces numeric gaps with the column mean and categorical gaps
// with the column mode.
func (dc *DataCleaner) FillMissing(t *Table) []QualityIssue {
	var issues []QualityIssue
	var filled int64
	for _, col := range t.Columns() {
		if col.Kind == Categorical && !col.Encoded {
			n, mode := fillMode(col)
			filled += int64(n)
			if n > 0 {
				issues = append(issues, QualityIssue{
					Type:     "fill_mode",
					Severity: "low",
					Column:   col.Name,
					Message:  fmt.Sprintf("filled %d missing values with mode %q", n, mode),
				})
			}
			continue
		}
		n, ok := fillMean(col)
		filled += int64(n)
		switch {
		case !ok:
			issues = append(issues, QualityIssue{
				Type:     "empty_column",
				Severity: "medium",
				Column:   col.Name,
				Message:  "column has no values, filled with 0",
			})
		case n > 0:
			issues = append(issues, QualityIssue{
				Type:     "fill_mean",
				Severity: "low",
				Column:   col.Name,
				Message:  fmt.Sprintf("filled %d missing values with mean", n),
			})
		}
	}

	dc.statsLock.Lock()
	dc.stats.CellsFilled += filled
	dc.statsLock.Unlock()
	return issues
}

// Normalize min-max scales every numeric column in place. Re-running it on a
// normalized column is a no-op, and the column's Scale always describes the
// map from the originally ingested values.
func (dc *DataCleaner) Normalize(t *Table) []QualityIssue {
	var issues []QualityIssue
	for _, col := range t.ColumnsOf(Numeric) {
		if normalizeColumn(col) {
			issues = append(issues, QualityIssue{
				Type:     "constant_column",
				Severity: "medium",
				Column:   col.Name,
				Message:  "column is constant, normalized to 0",
			})
		}
	}
	return issues
}

// GetStats returns a snapshot of the counters.
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	out := dc.stats
	out.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		out.Issues[k] = v
	}
	return out
}

func fillMean(col *Column) (filled int, ok bool) {
	present := make([]float64, 0, len(col.Numbers))
	for _, v := range col.Numbers {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}
	fill := 0.0
	if len(present) > 0 {
		fill = stat.Mean(present, nil)
	}
	for i, v := range col.Numbers {
		if math.IsNaN(v) {
			col.Numbers[i] = fill
			filled++
		}
	}
	return filled, len(present) > 0
}

func fillMode(col *Column) (filled int, mode string) {
	mode, ok := Mode(col.Strings)
	if !ok {
		return 0, ""
	}
	for i, v := range col.Strings {
		if v == "" {
			col.Strings[i] = mode
			filled++
		}
	}
	return filled, mode
}

// Mode returns the most frequent non-empty value. Ties resolve to the
// lexically smallest candidate.
func Mode(values []string) (string, bool) {
	counts := make(map[string]int)
	for _, v := range values {
		if v != "" {
			counts[v]++
		}
	}
	if len(counts) == 0 {
		return "", false
	}
	candidates := make([]string, 0, len(counts))
	best := 0
	for v, n := range counts {
		switch {
		case n > best:
			best = n
			candidates = append(candidates[:0], v)
		case n == best:
			candidates = append(candidates, v)
		}
	}
	sort.Strings(candidates)
	return candidates[0], true
}

// normalizeColumn reports whether the column is constant.
func normalizeColumn(col *Column) bool {
	if len(col.Numbers) == 0 {
		return false
	}
	lo, hi := floats.Min(col.Numbers), floats.Max(col.Numbers)
	prev := MinMax{Min: 0, Max: 1}
	if col.Scale != nil {
		prev = *col.Scale
	}

	if lo == hi {
		for i := range col.Numbers {
			col.Numbers[i] = 0
		}
		if col.Scale == nil || !col.Scale.Constant() {
			raw := prev.Invert(lo)
			col.Scale = &MinMax{Min: raw, Max: raw}
		}
		return true
	}
	if lo == 0 && hi == 1 {
		if col.Scale == nil {
			col.Scale = &MinMax{Min: 0, Max: 1}
		}
		return false
	}

	step := MinMax{Min: lo, Max: hi}
	for i, v := range col.Numbers {
		col.Numbers[i] = step.Apply(v)
	}
	// compose: raw -> prev -> step
	span := prev.Max - prev.Min
	col.Scale = &MinMax{Min: prev.Min + lo*span, Max: prev.Min + hi*span}
	return false
}
