package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KaramelBytes/dqmonitor/internal/analysis"
	"github.com/KaramelBytes/dqmonitor/internal/utils"
	"github.com/spf13/cobra"
)

var (
	clDelimiter  string
	clDecimal    string
	clThousands  string
	clThreshold  float64
	clSheetName  string
	clSheetIndex int
	clOutput     string
	clOutputDir  string
	clReport     string
	clMaxRows    int
	clQuiet      bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean [files...]",
	Short: "Clean order files, flag order_amount anomalies and print a summary",
	Long: `Clean one or more CSV/TSV/XLSX order files the way the dashboard does and
print a Markdown summary. Without arguments the configured data_file is located
like the dashboard locates it. Glob patterns are expanded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := resolveCleanInputs(args)
		if err != nil {
			return err
		}
		if clOutput != "" && len(files) > 1 {
			return fmt.Errorf("--output takes a single input file; use --output-dir for %d files", len(files))
		}
		if clReport != "" && len(files) > 1 {
			return fmt.Errorf("--report takes a single input file")
		}

		opt := analysis.DefaultOptions()
		if err := applySeparatorFlags(&opt, clDelimiter, clDecimal, clThousands); err != nil {
			return err
		}
		if clThreshold > 0 {
			opt.AnomalyThreshold = clThreshold
		} else if c, err := requireConfig(); err == nil && c.AnomalyThreshold > 0 {
			opt.AnomalyThreshold = c.AnomalyThreshold
		}
		opt.SheetName = clSheetName
		opt.SheetIndex = clSheetIndex

		if clOutputDir != "" {
			if err := utils.EnsureDir(clOutputDir); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
		}

		out := cmd.OutOrStdout()
		total := len(files)
		for i, path := range files {
			if !clQuiet && total > 1 {
				fmt.Fprintf(out, "[%d/%d] Processing %s...\n", i+1, total, filepath.Base(path))
			}
			res, err := analysis.LoadAndClean(path, opt)
			if err != nil {
				return err
			}
			md := analysis.Summarize(res).Markdown(clMaxRows)

			if clReport != "" {
				if err := os.WriteFile(clReport, []byte(md), 0o644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				if !clQuiet {
					fmt.Fprintf(out, "✓ Wrote summary to %s\n", clReport)
				}
			} else if !clQuiet {
				fmt.Fprintln(out, md)
			}

			dest := clOutput
			if clOutputDir != "" {
				dest = cleanedPath(clOutputDir, path)
			}
			if dest != "" {
				var buf bytes.Buffer
				if err := res.Table.WriteCSV(&buf); err != nil {
					return fmt.Errorf("encode cleaned table: %w", err)
				}
				if err := utils.SafeWriteFile(dest, buf.Bytes()); err != nil {
					return fmt.Errorf("write cleaned table: %w", err)
				}
				if !clQuiet {
					fmt.Fprintf(out, "✓ Wrote cleaned table to %s\n", dest)
				}
			}
		}
		return nil
	},
}

// resolveCleanInputs expands globs, drops duplicates and sorts. With no
// arguments the configured data file is located.
func resolveCleanInputs(args []string) ([]string, error) {
	if len(args) == 0 {
		c, err := requireConfig()
		if err != nil {
			return nil, err
		}
		cands := []string{c.DataFile}
		if !filepath.IsAbs(c.DataFile) {
			cands = utils.DataFileCandidates(c.DataFile)
		}
		p, err := utils.FindDataFile(c.DataFile, cands)
		if err != nil {
			return nil, err
		}
		return []string{p}, nil
	}
	var files []string
	seen := map[string]struct{}{}
	for _, arg := range args {
		matches, _ := filepath.Glob(arg)
		if len(matches) == 0 {
			// treat as literal path if exists
			if _, err := os.Stat(arg); err == nil {
				matches = []string{arg}
			}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files matched")
	}
	sort.Strings(files)
	return files, nil
}

// cleanedPath names the cleaned copy of src inside dir, adding a numeric
// suffix instead of overwriting an existing file.
func cleanedPath(dir, src string) string {
	base := filepath.Base(src)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	out := filepath.Join(dir, stem+".cleaned.csv")
	if _, err := os.Stat(out); err != nil {
		return out
	}
	for idx := 2; ; idx++ {
		cand := filepath.Join(dir, fmt.Sprintf("%s__%d.cleaned.csv", stem, idx))
		if _, err := os.Stat(cand); os.IsNotExist(err) {
			return cand
		}
	}
}

func applySeparatorFlags(opt *analysis.Options, delimiter, decimal, thousands string) error {
	if delimiter != "" {
		switch delimiter {
		case ",":
			opt.Delimiter = ','
		case "\t", "tab":
			opt.Delimiter = '\t'
		case ";":
			opt.Delimiter = ';'
		case "|", "pipe":
			opt.Delimiter = '|'
		default:
			return fmt.Errorf("unsupported --delimiter: %s", delimiter)
		}
	}
	switch strings.ToLower(strings.TrimSpace(decimal)) {
	case ",", "comma":
		opt.DecimalSeparator = ','
	case ".", "dot":
		opt.DecimalSeparator = '.'
	case "":
	default:
		return fmt.Errorf("unsupported --decimal: %s (use '.'|'comma')", decimal)
	}
	switch strings.ToLower(strings.TrimSpace(thousands)) {
	case ",":
		opt.ThousandsSeparator = ','
	case ".":
		opt.ThousandsSeparator = '.'
	case "space", " ":
		opt.ThousandsSeparator = ' '
	case "":
	default:
		return fmt.Errorf("unsupported --thousands: %s (use ','|'.'|'space')", thousands)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().StringVar(&clDelimiter, "delimiter", "", "CSV delimiter: ',' | ';' | 'tab' | 'pipe' (sniffed if omitted)")
	cleanCmd.Flags().StringVar(&clDecimal, "decimal", "", "decimal separator for numbers: '.'|'comma' (auto-detect if omitted)")
	cleanCmd.Flags().StringVar(&clThousands, "thousands", "", "thousands separator for numbers: ','|'.'|'space' (auto-detect if omitted)")
	cleanCmd.Flags().Float64Var(&clThreshold, "threshold", 0, "|z| above which an order amount is an anomaly (default anomaly_threshold, 1.5)")
	cleanCmd.Flags().StringVar(&clSheetName, "sheet-name", "", "XLSX: sheet name to clean")
	cleanCmd.Flags().IntVar(&clSheetIndex, "sheet-index", 1, "XLSX: 1-based sheet index (used if --sheet-name not provided)")
	cleanCmd.Flags().StringVarP(&clOutput, "output", "o", "", "write the cleaned table (CSV with anomaly column) to this path")
	cleanCmd.Flags().StringVar(&clOutputDir, "output-dir", "", "write <name>.cleaned.csv for every input into this directory")
	cleanCmd.Flags().StringVar(&clReport, "report", "", "write the Markdown summary to this path instead of stdout")
	cleanCmd.Flags().IntVar(&clMaxRows, "max-rows", 20, "anomalous rows listed in the summary (0 = all)")
	cleanCmd.Flags().BoolVarP(&clQuiet, "quiet", "q", false, "suppress progress and summaries")
}
