package analysis

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Summary is what the dashboard and the clean command show for one file.
type Summary struct {
	Name      string
	Total     int
	Anomalies int
	Threshold float64
	Columns   []string
	// AnomalyRows are the flagged rows, in table order.
	AnomalyRows []Row
	Amount      AmountStats
	// Amounts holds every imputed order amount, nil when the column is absent.
	Amounts []float64
	Box     *BoxSummary

	InvalidDates int
	Dropped      int
	Imputed      int
	Duplicates   int
}

// Summarize condenses a cleaning result for display.
func Summarize(res *Result) Summary {
	t := res.Table
	s := Summary{
		Name:         t.Name,
		Total:        t.Len(),
		Threshold:    res.Threshold,
		Columns:      append([]string(nil), t.Columns...),
		Amount:       res.Amount,
		InvalidDates: res.InvalidDates,
		Dropped:      res.Dropped,
		Imputed:      res.Imputed,
		Duplicates:   res.Duplicates,
	}
	for _, r := range t.Rows {
		if r.Anomaly {
			s.Anomalies++
			s.AnomalyRows = append(s.AnomalyRows, r)
		}
	}
	if res.Amount.Present && res.Amount.Observed > 0 {
		s.Amounts = make([]float64, 0, t.Len())
		for _, r := range t.Rows {
			s.Amounts = append(s.Amounts, r.Amount)
		}
		s.Box = NewBoxSummary(s.Amounts)
	}
	return s
}

// Markdown renders a compact report for terminals or standalone docs.
func (s Summary) Markdown(maxRows int) string {
	var b strings.Builder
	b.WriteString("[DATASET SUMMARY]\n")
	if s.Name != "" {
		b.WriteString(fmt.Sprintf("File: %s\n", s.Name))
	}
	b.WriteString(fmt.Sprintf("Total Records: %d\n", s.Total))
	b.WriteString(fmt.Sprintf("Anomalies Detected: %d\n", s.Anomalies))

	b.WriteString("\n[CLEANING]\n")
	b.WriteString(fmt.Sprintf("- unparsable order dates cleared: %d\n", s.InvalidDates))
	b.WriteString(fmt.Sprintf("- rows dropped for missing customer_id/payment_method: %d\n", s.Dropped))
	if s.Amount.Present {
		b.WriteString(fmt.Sprintf("- order amounts imputed with median %.4g: %d\n", s.Amount.Median, s.Imputed))
	} else {
		b.WriteString("- order_amount column absent: anomaly scoring skipped\n")
	}
	b.WriteString(fmt.Sprintf("- duplicate rows removed: %d\n", s.Duplicates))

	if s.Box != nil {
		b.WriteString("\n[ORDER AMOUNT]\n")
		b.WriteString(fmt.Sprintf("- mean %.4g, std %.4g, |z| threshold %.2g\n", s.Amount.Mean, s.Amount.Std, s.Threshold))
		b.WriteString(fmt.Sprintf("- min %.4g, q1 %.4g, median %.4g, q3 %.4g, max %.4g\n",
			s.Box.Min, s.Box.Q1, s.Box.Median, s.Box.Q3, s.Box.Max))
		b.WriteString(fmt.Sprintf("- whiskers %.4g .. %.4g; box-plot outliers: %d\n",
			s.Box.LowerWhisker, s.Box.UpperWhisker, len(s.Box.Outliers)))
	}

	if len(s.AnomalyRows) > 0 {
		b.WriteString("\n[DETECTED ANOMALIES]\n")
		b.WriteString("| ")
		for i, c := range s.Columns {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(safeName(c))
		}
		b.WriteString(" | z |\n|")
		for range s.Columns {
			b.WriteString(" --- |")
		}
		b.WriteString(" --- |\n")
		for i, r := range s.AnomalyRows {
			if maxRows > 0 && i >= maxRows {
				b.WriteString(fmt.Sprintf("\n(%d more not shown)\n", len(s.AnomalyRows)-maxRows))
				break
			}
			b.WriteString("| ")
			for j, v := range r.Cells {
				if j > 0 {
					b.WriteString(" | ")
				}
				b.WriteString(safeVal(truncate(v, 80)))
			}
			b.WriteString(fmt.Sprintf(" | %.2f |\n", r.ZScore))
		}
	}
	return b.String()
}

// WriteCSV writes the table with a trailing anomaly column.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append(append([]string(nil), t.Columns...), ColAnomaly)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rec := make([]string, len(header))
	for i, r := range t.Rows {
		copy(rec, r.Cells)
		rec[len(rec)-1] = strconv.FormatBool(r.Anomaly)
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return s
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
