package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/proptax/internal/domain"
	"github.com/opensource-finance/proptax/internal/estimator"
	"github.com/opensource-finance/proptax/internal/tax"
)

var (
	sweepFlags   ratioFlags
	sweepIn      string
	sweepOut     string
	sweepWorkers int
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Estimate every row of a CSV file",
	Long: `Read prices from a CSV file and write one estimate per row.

The input needs a "price" column. Optional columns "id", "reality_rate",
"fair_market_rate", "single_home_fair_market_rate" and "single_home" override
the flags for that row.`,
	Example: `  proptax sweep --in prices.csv --out estimates.csv --variant market --reality 80`,
	RunE:    runSweep,
}

func init() {
	sweepFlags.register(sweepCmd)
	sweepCmd.Flags().StringVar(&sweepIn, "in", "", "Input CSV (default: stdin)")
	sweepCmd.Flags().StringVar(&sweepOut, "out", "", "Output CSV (default: stdout)")
	sweepCmd.Flags().IntVar(&sweepWorkers, "workers", 8, "Concurrent estimates")
}

// sweepRow is one input line.
type sweepRow struct {
	ID         string
	Price      string
	Ratios     tax.Overrides
	SingleHome bool
}

// sweepResult pairs a row with its estimate or error.
type sweepResult struct {
	Row      sweepRow
	Estimate *domain.Estimate
	Err      error
}

// SweepSummary counts outcomes of a sweep.
type SweepSummary struct {
	Rows      int64
	Increase  int64
	Decrease  int64
	Unchanged int64
	Awaiting  int64
	Capped    int64
	Errors    int64
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := newOfflineEstimator(cfg, sweepFlags.clamp)
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if sweepIn != "" {
		f, err := os.Open(sweepIn)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	rows, err := readSweepRows(in, sweepFlags.overrides(cmd), sweepFlags.singleHome)
	if err != nil {
		return err
	}

	start := time.Now()
	results, summary, err := sweep(cmd.Context(), svc, sweepFlags.variant, rows, sweepWorkers)
	if err != nil {
		return err
	}

	if sweepOut == "" {
		err = writeSweepResults(cmd.OutOrStdout(), results)
	} else {
		err = writeSweepFile(sweepOut, results)
	}
	if err != nil {
		return err
	}

	slog.Info("sweep complete",
		"rows", summary.Rows,
		"increase", summary.Increase,
		"decrease", summary.Decrease,
		"unchanged", summary.Unchanged,
		"awaiting_input", summary.Awaiting,
		"capped", summary.Capped,
		"errors", summary.Errors,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// writeSweepFile writes results to path. A failed close is reported, since
// it can lose buffered output.
func writeSweepFile(path string, results []sweepResult) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()
	return writeSweepResults(f, results)
}

// readSweepRows parses the input CSV. Column names are matched
// case-insensitively; an empty ratio cell falls back to defaults.
func readSweepRows(r io.Reader, defaults tax.Overrides, singleHome bool) ([]sweepRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := colIndex["price"]; !ok {
		return nil, errors.New(`input has no "price" column`)
	}

	field := func(record []string, name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	ratio := func(record []string, name string, fallback *int) (*int, error) {
		v := field(record, name)
		if v == "" {
			return fallback, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		return &n, nil
	}

	var rows []sweepRow
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		row := sweepRow{
			ID:         field(record, "id"),
			Price:      field(record, "price"),
			SingleHome: singleHome,
		}
		if row.ID == "" {
			row.ID = strconv.Itoa(line - 1)
		}
		if v := field(record, "single_home"); v != "" {
			if row.SingleHome, err = strconv.ParseBool(v); err != nil {
				return nil, fmt.Errorf("line %d: single_home: %w", line, err)
			}
		}
		if row.Ratios.Reality, err = ratio(record, "reality_rate", defaults.Reality); err != nil {
			return nil, fmt.Errorf("line %d: reality_rate: %w", line, err)
		}
		if row.Ratios.FairMarket, err = ratio(record, "fair_market_rate", defaults.FairMarket); err != nil {
			return nil, fmt.Errorf("line %d: fair_market_rate: %w", line, err)
		}
		if row.Ratios.SingleHomeFairMarket, err = ratio(record, "single_home_fair_market_rate", defaults.SingleHomeFairMarket); err != nil {
			return nil, fmt.Errorf("line %d: single_home_fair_market_rate: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// sweep estimates every row with at most workers in flight. Results keep
// input order. A row that fails validation is reported, not fatal.
func sweep(ctx context.Context, svc *estimator.Service, variant string, rows []sweepRow, workers int) ([]sweepResult, SweepSummary, error) {
	if workers <= 0 {
		workers = 1
	}

	var s SweepSummary
	results := make([]sweepResult, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			est, err := svc.Estimate(gctx, estimator.Request{
				Variant:    variant,
				Price:      row.Price,
				Ratios:     row.Ratios,
				SingleHome: row.SingleHome,
			})
			results[i] = sweepResult{Row: row, Estimate: est, Err: err}

			atomic.AddInt64(&s.Rows, 1)
			if err != nil {
				if !estimator.IsInputError(err) {
					return err
				}
				atomic.AddInt64(&s.Errors, 1)
				return nil
			}

			switch est.Status {
			case domain.StatusIncrease:
				atomic.AddInt64(&s.Increase, 1)
			case domain.StatusDecrease:
				atomic.AddInt64(&s.Decrease, 1)
			case domain.StatusUnchanged:
				atomic.AddInt64(&s.Unchanged, 1)
			case domain.StatusAwaitingInput:
				atomic.AddInt64(&s.Awaiting, 1)
			}
			if est.Comparison.Current.IsCapped {
				atomic.AddInt64(&s.Capped, 1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, s, err
	}
	return results, s, nil
}

var sweepHeader = []string{
	"id", "price", "status", "schedule",
	"market_value", "baseline_tax", "current_tax",
	"difference", "difference_percent", "tax_base", "is_capped", "error",
}

func writeSweepResults(w io.Writer, results []sweepResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sweepHeader); err != nil {
		return err
	}

	for _, r := range results {
		if r.Err != nil {
			rec := make([]string, len(sweepHeader))
			rec[0], rec[1], rec[2] = r.Row.ID, r.Row.Price, "ERROR"
			rec[len(rec)-1] = r.Err.Error()
			if err := cw.Write(rec); err != nil {
				return err
			}
			continue
		}

		c := r.Estimate.Comparison
		rec := []string{
			r.Row.ID,
			r.Row.Price,
			r.Estimate.Status,
			c.ScheduleID,
			c.Current.MarketValue.Round(0).String(),
			c.Baseline.Tax.Round(0).String(),
			c.Current.Tax.Round(0).String(),
			c.Difference.Round(0).String(),
			c.DifferencePercent.StringFixed(2),
			c.Current.TaxBase.Round(0).String(),
			strconv.FormatBool(c.Current.IsCapped),
			"",
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
