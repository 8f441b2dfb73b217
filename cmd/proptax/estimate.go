package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/proptax/internal/domain"
	"github.com/opensource-finance/proptax/internal/estimator"
	"github.com/opensource-finance/proptax/internal/format"
	"github.com/opensource-finance/proptax/internal/report"
	"github.com/opensource-finance/proptax/internal/rules"
	"github.com/opensource-finance/proptax/internal/tax"
)

// ratioFlags are the adjustable inputs shared by estimate and sweep.
// A ratio flag that is not set keeps the variant baseline.
type ratioFlags struct {
	variant        string
	reality        int
	fairMarket     int
	singleHomeFair int
	singleHome     bool
	clamp          bool
}

func (f *ratioFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.variant, "variant", tax.VariantAssessed, "Variant: assessed or market")
	cmd.Flags().IntVar(&f.reality, "reality", 0, "Adjusted reality rate in percent")
	cmd.Flags().IntVar(&f.fairMarket, "fair-market", 0, "Adjusted fair-market rate in percent")
	cmd.Flags().IntVar(&f.singleHomeFair, "single-home-fair-market", 0, "Adjusted single-home fair-market rate in percent")
	cmd.Flags().BoolVar(&f.singleHome, "single-home", false, "Apply the single-home schedule and ceiling")
	cmd.Flags().BoolVar(&f.clamp, "clamp", false, "Clamp out-of-range ratios instead of failing")
}

// overrides returns the ratio flags set on cmd's command line.
func (f *ratioFlags) overrides(cmd *cobra.Command) tax.Overrides {
	var o tax.Overrides
	if cmd.Flags().Changed("reality") {
		o.Reality = &f.reality
	}
	if cmd.Flags().Changed("fair-market") {
		o.FairMarket = &f.fairMarket
	}
	if cmd.Flags().Changed("single-home-fair-market") {
		o.SingleHomeFairMarket = &f.singleHomeFair
	}
	return o
}

// newOfflineEstimator builds an estimator without storage: no scenarios and
// no notice rules.
func newOfflineEstimator(cfg *domain.Config, clamp bool) (*estimator.Service, error) {
	engine, err := rules.NewEngine(1)
	if err != nil {
		return nil, err
	}
	policy := cfg.Policy
	policy.ClampRatios = policy.ClampRatios || clamp
	return estimator.New(engine, report.NewProcessor(Version), nil, nil, policy, tracerProvider(cfg.Tracing)), nil
}

var (
	estimateFlags ratioFlags
	estimateJSON  bool
)

var estimateCmd = &cobra.Command{
	Use:   "estimate <price>",
	Short: "Compare the baseline and adjusted tax for one price",
	Long: `Compare the tax under the official ratios with the tax under adjusted ratios.
Separators and units in the price are ignored, so "900,000,000원" works.
A negative price gives an all-zero estimate.`,
	Example: `  proptax estimate 897,000,000 --reality 90
  proptax estimate 1300000000 --variant market --single-home`,
	Args: cobra.ExactArgs(1),
	RunE: runEstimate,
}

func init() {
	estimateFlags.register(estimateCmd)
	estimateCmd.Flags().BoolVar(&estimateJSON, "json", false, "Print the estimate as JSON")
}

func runEstimate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := newOfflineEstimator(cfg, estimateFlags.clamp)
	if err != nil {
		return err
	}

	est, err := svc.Estimate(cmd.Context(), estimator.Request{
		Variant:    estimateFlags.variant,
		Price:      args[0],
		Ratios:     estimateFlags.overrides(cmd),
		SingleHome: estimateFlags.singleHome,
	})
	if err != nil {
		return err
	}

	if estimateJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(est)
	}
	printEstimate(cmd.OutOrStdout(), est)
	return nil
}

func printEstimate(w io.Writer, est *domain.Estimate) {
	c := est.Comparison
	row := func(label string, r tax.Result) {
		fmt.Fprintf(w, "  %-8s 시가 %s원  공시가격 %s원  과세표준 %s원  세액 %s원\n",
			label,
			format.Won(r.MarketValue),
			format.Won(r.AssessedValue),
			format.Won(r.TaxBaseCapped),
			format.Won(r.Tax),
		)
	}

	fmt.Fprintf(w, "variant %s, schedule %s\n", est.Variant, c.ScheduleID)
	fmt.Fprintf(w, "  baseline ratios %s\n", describeRatios(c.BaselineRatios, c.SingleHome))
	fmt.Fprintf(w, "  adjusted ratios %s\n", describeRatios(c.CurrentRatios, c.SingleHome))
	row("기준", c.Baseline)
	row("조정", c.Current)
	if c.Current.IsCapped {
		fmt.Fprintf(w, "  과세표준 %s원이 상한 %s원으로 제한됨\n",
			format.Won(c.Current.TaxBase), format.Won(tax.SingleHomeCeiling))
	}
	fmt.Fprintf(w, "  세액 변동 %s원 (%s)  [%s]\n",
		format.SignedWon(c.Difference), format.SignedPercent(c.DifferencePercent), est.Status)
	if est.Metadata.Clamped {
		fmt.Fprintln(w, "  note: ratios were clamped into range")
	}
}

func describeRatios(r tax.Ratios, singleHome bool) string {
	parts := []string{
		fmt.Sprintf("reality %d%%", r.Reality),
		fmt.Sprintf("fair-market %d%%", r.FairMarket),
	}
	if singleHome {
		parts = append(parts, fmt.Sprintf("single-home fair-market %d%%", r.SingleHomeFairMarket))
	}
	return strings.Join(parts, ", ")
}
