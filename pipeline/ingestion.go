package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	// ErrUnsupportedFormat is returned for uploads that are not CSV or Excel.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrEmptyDataset is returned when a file has no header or no data rows.
	ErrEmptyDataset = errors.New("dataset is empty")
	// ErrMalformedFile is returned when a file of a supported format cannot be parsed.
	ErrMalformedFile = errors.New("file could not be parsed")
)

// Format is a supported upload format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

// DetectFormat maps a declared filename to a Format by extension.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	default:
		return "", fmt.Errorf("%w: %q (only CSV and Excel files are supported)", ErrUnsupportedFormat, filename)
	}
}

// DefaultNAValues mirrors the markers pandas treats as missing on read.
var DefaultNAValues = []string{"", "NA", "N/A", "n/a", "NaN", "nan", "null", "NULL", "None", "#N/A", "<NA>"}

// IngestionConfig controls parsing.
type IngestionConfig struct {
	MaxRows  int      `yaml:"max_rows"`
	NAValues []string `yaml:"na_values"`
	// Sheet selects a workbook sheet by name; empty means the first sheet.
	Sheet string `yaml:"sheet"`
}

// IngestionStats counts ingested files.
type IngestionStats struct {
	Files         int64     `json:"files"`
	Rejected      int64     `json:"rejected"`
	RowsIngested  int64     `json:"rows_ingested"`
	LastIngestion time.Time `json:"last_ingestion"`
}

// DataIngester parses uploaded tabular files into Tables.
type DataIngester struct {
	config IngestionConfig
	na     map[string]struct{}

	stats     IngestionStats
	statsLock sync.RWMutex
}

// NewDataIngester creates an ingester, filling config defaults.
func NewDataIngester(config IngestionConfig) *DataIngester {
	if config.NAValues == nil {
		config.NAValues = DefaultNAValues
	}
	na := make(map[string]struct{}, len(config.NAValues))
	for _, v := range config.NAValues {
		na[v] = struct{}{}
	}
	return &DataIngester{config: config, na: na}
}

var defaultIngester = NewDataIngester(IngestionConfig{})

// Ingest parses r with the default ingester.
func Ingest(r io.Reader, filename string) (*Table, error) {
	return defaultIngester.Ingest(r, filename)
}

// Ingest parses r according to the extension of filename.
func (di *DataIngester) Ingest(r io.Reader, filename string) (*Table, error) {
	table, err := di.ingest(r, filename)

	di.statsLock.Lock()
	defer di.statsLock.Unlock()
	di.stats.Files++
	if err != nil {
		di.stats.Rejected++
		return nil, err
	}
	di.stats.RowsIngested += int64(table.NumRows())
	di.stats.LastIngestion = time.Now()
	return table, nil
}

func (di *DataIngester) ingest(r io.Reader, filename string) (*Table, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}

	var records [][]string
	switch format {
	case FormatCSV:
		records, err = readCSV(r)
	case FormatXLSX:
		records, err = readXLSX(r, di.config.Sheet)
	case FormatXLS:
		records, err = readXLS(r)
	}
	if errors.Is(err, ErrEmptyDataset) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFile, format, err)
	}
	return di.buildTable(records)
}

// GetStats returns a snapshot of the ingestion counters.
func (di *DataIngester) GetStats() IngestionStats {
	di.statsLock.RLock()
	defer di.statsLock.RUnlock()
	return di.stats
}

func readCSV(r io.Reader) ([][]string, error) {
	// Strips a UTF-8 BOM and decodes UTF-16 files that carry one.
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}

func readXLSX(r io.Reader, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrEmptyDataset
		}
		sheet = sheets[0]
	}
	return f.GetRows(sheet)
}

func readXLS(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, err
	}
	if wb == nil {
		return nil, errors.New("no workbook stream")
	}
	sheet := wb.GetSheet(0)
	if sheet == nil || sheet.MaxRow == 0 {
		return nil, ErrEmptyDataset
	}
	// WorkSheet.Row panics on rows with no cells; ReadAllCells leaves them nil.
	// Capping at the first sheet's row count keeps later sheets out.
	return wb.ReadAllCells(int(sheet.MaxRow) + 1), nil
}

func (di *DataIngester) buildTable(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}
	header := headerNames(records[0])
	if len(header) == 0 {
		return nil, ErrEmptyDataset
	}

	raw := make([][]string, len(header))
	rows := 0
	for _, record := range records[1:] {
		if blankRecord(record) {
			continue
		}
		if di.config.MaxRows > 0 && rows >= di.config.MaxRows {
			break
		}
		for j := range header {
			cell := ""
			if j < len(record) {
				cell = record[j]
			}
			raw[j] = append(raw[j], cell)
		}
		rows++
	}
	if rows == 0 {
		return nil, ErrEmptyDataset
	}

	columns := make([]*Column, len(header))
	for j, name := range header {
		columns[j] = di.inferColumn(name, raw[j])
	}
	table, err := NewTable(columns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	return table, nil
}

// inferColumn makes a column numeric when every present cell parses as a float.
func (di *DataIngester) inferColumn(name string, cells []string) *Column {
	numbers := make([]float64, len(cells))
	numeric := true
	for i, cell := range cells {
		if di.isNA(cell) {
			numbers[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil || math.IsInf(v, 0) {
			numeric = false
			break
		}
		numbers[i] = v
	}
	if numeric {
		return &Column{Name: name, Kind: Numeric, Numbers: numbers}
	}

	strs := make([]string, len(cells))
	for i, cell := range cells {
		if !di.isNA(cell) {
			strs[i] = cell
		}
	}
	return &Column{Name: name, Kind: Categorical, Strings: strs}
}

func (di *DataIngester) isNA(cell string) bool {
	_, ok := di.na[strings.TrimSpace(cell)]
	return ok
}

// headerNames trims trailing empty headers and names gaps the way pandas does.
func headerNames(record []string) []string {
	end := len(record)
	for end > 0 && strings.TrimSpace(record[end-1]) == "" {
		end--
	}
	names := make([]string, end)
	counts := make(map[string]int, end)
	for i := 0; i < end; i++ {
		name := strings.TrimSpace(record[i])
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		// a renamed duplicate may itself collide, so keep suffixing until unused
		for n := counts[name]; n > 0; n = counts[name] {
			counts[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n)
		}
		counts[name]++
		names[i] = name
	}
	return names
}

func blankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
