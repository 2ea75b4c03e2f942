package analysis

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Column names the pipeline depends on.
const (
	ColOrderDate     = "order_date"
	ColCustomerID    = "customer_id"
	ColPaymentMethod = "payment_method"
	ColOrderAmount   = "order_amount"
	ColAnomaly       = "anomaly"
)

// DefaultThreshold is the |z| above which an order amount counts as an anomaly.
const DefaultThreshold = 1.5

var requiredColumns = []string{ColOrderDate, ColCustomerID, ColPaymentMethod}

// AmountStats describes the order_amount column after imputation.
type AmountStats struct {
	Present bool
	// Observed counts the values that were present before imputation.
	Observed int
	Median   float64
	Mean     float64
	Std      float64
}

// Result is a cleaned table plus bookkeeping from each pipeline step.
type Result struct {
	Table *Table
	// Flags holds the anomaly flag of each row of Table, in order.
	Flags     []bool
	Amount    AmountStats
	Threshold float64

	InvalidDates int
	Dropped      int
	Imputed      int
	Duplicates   int
}

// LoadAndClean reads an order file and runs Clean over it.
func LoadAndClean(path string, opt Options) (*Result, error) {
	raw, err := LoadOrders(path, opt)
	if err != nil {
		return nil, err
	}
	res, err := Clean(raw, opt)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return res, nil
}

// Clean normalizes order dates, drops rows without a customer or payment
// method, imputes missing order amounts with the median, flags amounts whose
// z-score exceeds the threshold, and removes duplicate rows. The input table
// is left untouched. An anomaly column already present in raw is recomputed.
func Clean(raw *Table, opt Options) (*Result, error) {
	if raw == nil {
		return nil, errors.New("nil table")
	}
	for _, name := range requiredColumns {
		if !raw.HasColumn(name) {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	t := raw.clone(ColAnomaly)
	res := &Result{Table: t, Threshold: opt.AnomalyThreshold}
	if res.Threshold <= 0 {
		res.Threshold = DefaultThreshold
	}
	for i := range t.Rows {
		t.Rows[i].Amount, t.Rows[i].ZScore, t.Rows[i].Anomaly = 0, 0, false
	}

	res.InvalidDates = normalizeDates(t)
	res.Dropped = dropMissingRequired(t)
	if j := t.Col(ColOrderAmount); j >= 0 {
		res.Amount, res.Imputed = imputeAmounts(t, j, opt)
		scoreAmounts(t, &res.Amount, res.Threshold)
	}
	res.Duplicates = dropDuplicates(t)

	res.Flags = make([]bool, len(t.Rows))
	for i, r := range t.Rows {
		res.Flags[i] = r.Anomaly
	}
	return res, nil
}

// normalizeDates rewrites order_date in ISO form. Values that do not parse
// become missing; the count of such values is returned.
func normalizeDates(t *Table) int {
	j := t.Col(ColOrderDate)
	invalid := 0
	for i := range t.Rows {
		v := t.Rows[i].Cells[j]
		if v == "" {
			continue
		}
		ts, ok := parseTimeMaybe(v)
		if !ok {
			t.Rows[i].Cells[j] = ""
			invalid++
			continue
		}
		t.Rows[i].Cells[j] = formatDate(ts)
	}
	return invalid
}

func dropMissingRequired(t *Table) int {
	ci, pi := t.Col(ColCustomerID), t.Col(ColPaymentMethod)
	kept := t.Rows[:0]
	for _, r := range t.Rows {
		if r.Cells[ci] == "" || r.Cells[pi] == "" {
			continue
		}
		kept = append(kept, r)
	}
	dropped := len(t.Rows) - len(kept)
	t.Rows = kept
	return dropped
}

// imputeAmounts fills missing or unparsable amounts with the median of the
// values present beforehand. With no value present there is no median and
// the column is left as is.
func imputeAmounts(t *Table, j int, opt Options) (AmountStats, int) {
	stats := AmountStats{Present: true}
	have := make([]bool, len(t.Rows))
	observed := make([]float64, 0, len(t.Rows))
	for i := range t.Rows {
		x, ok := parseNumeric(t.Rows[i].Cells[j], opt)
		if !ok {
			continue
		}
		have[i] = true
		t.Rows[i].Amount = x
		t.Rows[i].Cells[j] = formatAmount(x)
		observed = append(observed, x)
	}
	stats.Observed = len(observed)
	if len(observed) == 0 {
		return stats, 0
	}
	stats.Median = median(observed)
	imputed := 0
	for i := range t.Rows {
		if have[i] {
			continue
		}
		t.Rows[i].Amount = stats.Median
		t.Rows[i].Cells[j] = formatAmount(stats.Median)
		imputed++
	}
	return stats, imputed
}

// scoreAmounts sets ZScore and Anomaly from the imputed amounts. Zero
// variance, fewer than two rows, or an all-missing column flag nothing.
func scoreAmounts(t *Table, stats *AmountStats, threshold float64) {
	if stats.Observed == 0 {
		return
	}
	vals := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		vals[i] = r.Amount
	}
	mean, std := meanStd(vals)
	stats.Mean, stats.Std = mean, std
	if len(t.Rows) < 2 || std == 0 || math.IsNaN(std) {
		return
	}
	for i := range t.Rows {
		z := math.Abs(t.Rows[i].Amount-mean) / std
		t.Rows[i].ZScore = z
		t.Rows[i].Anomaly = z > threshold
	}
}

// dropDuplicates keeps the first of every set of rows equal across all
// columns, the anomaly flag included.
func dropDuplicates(t *Table) int {
	seen := make(map[string]struct{}, len(t.Rows))
	kept := t.Rows[:0]
	for _, r := range t.Rows {
		key := rowKey(r)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, r)
	}
	removed := len(t.Rows) - len(kept)
	t.Rows = kept
	return removed
}

func rowKey(r Row) string {
	var b strings.Builder
	for _, c := range r.Cells {
		b.WriteString(strconv.Quote(c))
		b.WriteByte(',')
	}
	b.WriteString(strconv.FormatBool(r.Anomaly))
	return b.String()
}
