package analysis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Options controls how order files are read and scored.
type Options struct {
	// Delimiter for CSV. If 0, picks '\t' for .tsv files and ',' otherwise.
	Delimiter rune
	// Numeric parsing locale. If DecimalSeparator is 0, auto-detect per value.
	DecimalSeparator   rune
	ThousandsSeparator rune // optional; if 0, strip common separators (',' '.' space) other than the decimal one
	// AnomalyThreshold is the |z| above which order_amount is flagged. <= 0 means DefaultThreshold.
	AnomalyThreshold float64
	// XLSX sheet selection; SheetIndex is 1-based and used when SheetName is empty.
	SheetName  string
	SheetIndex int
}

// DefaultOptions returns the settings used by the dashboard.
func DefaultOptions() Options {
	return Options{
		DecimalSeparator: '.',
		AnomalyThreshold: DefaultThreshold,
	}
}

// Table is an in-memory order table. Missing cells hold the empty string.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row

	index map[string]int
}

// Row is one order record plus the values computed by Clean.
type Row struct {
	Cells   []string
	Amount  float64
	ZScore  float64
	Anomaly bool
}

// LoadError reports a file that could not be read as an order table.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load orders: %v", e.Err)
	}
	return fmt.Sprintf("load orders from %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ErrMissingColumn is wrapped when a required column is absent from the header.
var ErrMissingColumn = errors.New("missing required column")

// NewTable builds a table from a header and raw records. Short records are
// padded; NA tokens are normalized to the empty string.
func NewTable(name string, header []string, records [][]string) *Table {
	t := &Table{Name: name, Columns: make([]string, len(header))}
	for i, h := range header {
		t.Columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	t.reindex()
	t.Rows = make([]Row, 0, len(records))
	for _, rec := range records {
		cells := make([]string, len(t.Columns))
		for j := 0; j < len(cells) && j < len(rec); j++ {
			cells[j] = normalizeCell(rec[j])
		}
		t.Rows = append(t.Rows, Row{Cells: cells})
	}
	return t
}

// Col returns the index of the named column or -1.
func (t *Table) Col(name string) int {
	if t.index == nil {
		t.reindex()
	}
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// HasColumn reports whether the header contains name.
func (t *Table) HasColumn(name string) bool { return t.Col(name) >= 0 }

// Value returns the cell for column name in row i, or "" when the column is absent.
func (t *Table) Value(i int, name string) string {
	j := t.Col(name)
	if j < 0 || i < 0 || i >= len(t.Rows) {
		return ""
	}
	return t.Rows[i].Cells[j]
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		if _, dup := t.index[c]; !dup {
			t.index[c] = i
		}
	}
}

// clone deep-copies the table, leaving out the named column if present.
func (t *Table) clone(drop string) *Table {
	skip := t.Col(drop)
	out := &Table{Name: t.Name}
	for i, c := range t.Columns {
		if i != skip {
			out.Columns = append(out.Columns, c)
		}
	}
	out.reindex()
	out.Rows = make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		cells := make([]string, 0, len(out.Columns))
		for j, v := range r.Cells {
			if j != skip {
				cells = append(cells, v)
			}
		}
		out.Rows[i] = Row{Cells: cells, Amount: r.Amount, ZScore: r.ZScore, Anomaly: r.Anomaly}
	}
	return out
}

// LoadOrders reads a CSV/TSV or XLSX order file into a raw table.
func LoadOrders(path string, opt Options) (*Table, error) {
	var (
		t   *Table
		err error
	)
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		t, err = loadXLSX(path, opt)
	} else {
		t, err = loadCSV(path, opt)
	}
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return t, nil
}

func loadCSV(path string, opt Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	delim := opt.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(path)
	}
	return ReadCSV(f, filepath.Base(path), delim)
}

// ReadCSV parses delimited text into a raw table. Rows with more fields than
// the header are rejected; shorter rows are padded with missing cells.
func ReadCSV(r io.Reader, name string, delim rune) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	if delim != 0 {
		cr.Comma = delim
	}

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no columns to parse from file")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	var records [][]string
	line := 1
	for {
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", line+1, err)
		}
		line++
		if len(rec) > len(header) {
			return nil, fmt.Errorf("row %d: expected %d fields, saw %d", line, len(header), len(rec))
		}
		records = append(records, rec)
	}
	return NewTable(name, header, records), nil
}

func sniffDelimiter(path string) rune {
	name := strings.ToLower(path)
	if strings.HasSuffix(name, ".tsv") {
		return '\t'
	}
	return ','
}

// naTokens mirrors the spellings spreadsheet exports commonly use for "no value".
var naTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

func normalizeCell(v string) string {
	v = strings.TrimSpace(v)
	if _, ok := naTokens[v]; ok {
		return ""
	}
	return v
}

var dateLayouts = []string{
	time.RFC3339, "2006-01-02", "2006/01/02", "01/02/2006", "02/01/2006", "1/2/2006",
	"2006-01-02 15:04", "2006-01-02 15:04:05", "2006-01-02T15:04:05", "1/2/2006 15:04", "1/2/2006 15:04:05",
}

func parseTimeMaybe(s string) (time.Time, bool) {
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func formatDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:04:05")
}

func parseNumeric(s string, opt Options) (float64, bool) {
	raw := strings.TrimSpace(s)
	raw = strings.ReplaceAll(raw, "\u00A0", " ")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	dec := opt.DecimalSeparator
	thou := opt.ThousandsSeparator
	if dec == 0 {
		cpos := strings.LastIndex(raw, ",")
		dpos := strings.LastIndex(raw, ".")
		if cpos >= 0 && dpos >= 0 {
			if cpos > dpos {
				dec = ','
				thou = '.'
			} else {
				dec = '.'
				thou = ','
			}
		} else if cpos >= 0 {
			dec = ','
		} else {
			dec = '.'
		}
	}
	if thou == 0 {
		for _, sep := range []rune{',', '.', ' '} {
			if sep != dec {
				raw = strings.ReplaceAll(raw, string(sep), "")
			}
		}
	} else if thou != dec {
		raw = strings.ReplaceAll(raw, string(thou), "")
	}
	if dec != '.' {
		raw = strings.ReplaceAll(raw, string(dec), ".")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func formatAmount(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
