package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/proptax/internal/format"
	"github.com/opensource-finance/proptax/internal/tax"
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules [id]",
	Short: "Print the tax schedules",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schedules := tax.Schedules()
		if len(args) == 1 {
			s, err := tax.LookupSchedule(args[0])
			if err != nil {
				return err
			}
			schedules = []tax.Schedule{s}
		}
		for _, s := range schedules {
			printSchedule(cmd.OutOrStdout(), s)
		}
		return nil
	},
}

func printSchedule(w io.Writer, s tax.Schedule) {
	fmt.Fprintf(w, "%s  %s (%s)\n", s.ID, s.Name, s.Kind)
	if s.HasCeiling() {
		fmt.Fprintf(w, "  과세표준 상한 %s원\n", format.Won(s.Ceiling))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, b := range s.Brackets {
		fmt.Fprintf(tw, "  %s\t%s\n", format.BracketLabel(b), format.RateLabel(s.Kind, b))
	}
	tw.Flush()
	fmt.Fprintln(w)
}
