package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/microplan/internal/dashboard"
	"github.com/ajitpratap0/microplan/internal/models"
)

func dashboardCmd() *cobra.Command {
	var (
		f      dashboard.Filter
		risk   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Print the supervisor dashboard for a ward",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			f.Risk = models.RiskLevel(risk)
			if f.Risk != "" && !f.Risk.IsValid() {
				return fmt.Errorf("dashboard: invalid --risk %q (use Low, Medium, High or Unknown)", risk)
			}

			st, err := newStore(ctx, logger)
			if err != nil {
				return fmt.Errorf("dashboard: connecting to store: %w", err)
			}
			defer func() { _ = st.Close() }()

			sum, err := dashboard.New(st, newClassifier(logger), cfg.Planning.StockLowRatio, logger).Build(ctx, f)
			if err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}

			if asJSON {
				return printJSON(os.Stdout, sum)
			}
			printSummary(sum)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.Ward, "ward", "All", "ward to summarise")
	cmd.Flags().StringVar(&risk, "risk", "", "count only visits at this risk level")
	cmd.Flags().StringVar(&f.Typology, "typology", "", "count only hotspots of this typology")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func printSummary(s *dashboard.Summary) {
	fmt.Printf("Ward: %s (generated %s)\n\n", s.Filter.Ward, s.GeneratedAt.Format("2006-01-02 15:04"))

	v := s.Visits
	fmt.Printf("Outreach visits: %d (filtered %d)\n", v.Total, v.Filtered)
	fmt.Printf("  Commodities distributed:  %d\n", v.CommoditiesDistributed)
	fmt.Printf("  Clinic registration rate: %d%%\n", v.ClinicRegistrationRate)
	printCounts("By risk", v.ByRisk, v.RiskPercentages)
	printCounts("Flags", v.FlagCounts, nil)

	h := s.Hotspots
	fmt.Printf("\nHotspots: %d (filtered %d), estimated population %d\n", h.Total, h.Filtered, h.EstimatedPopulation)
	printCounts("By typology", h.ByTypology, h.TypologyPercentages)
	printCounts("By priority", h.ByPriority, nil)
	printCounts("By ward", h.ByWard, nil)

	r := s.Registry
	fmt.Printf("\nRegistry: %d, pending verification %d\n", r.Total, r.PendingVerification)
	printCounts("By KP type", r.ByKPType, nil)
	fmt.Println("  Caseload:")
	for _, c := range r.Caseload {
		mark := ""
		if c.Overloaded {
			mark = "  OVERLOADED"
		}
		fmt.Printf("    %-6s %d/%d%s\n", c.KPType, c.Count, c.Limit, mark)
	}

	fmt.Printf("\nStock: %d items\n", len(s.Stock))
	for _, l := range s.Stock {
		fmt.Printf("  %-20s %-16s %6d  %s\n", l.Name, l.Facility, l.CurrentStock, l.Status)
	}
}

// printCounts prints a map in key order, with percentages when given.
func printCounts(title string, counts, pct map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("  %s:\n", title)
	for _, k := range keys {
		if pct != nil {
			fmt.Printf("    %-28s %5d  %3d%%\n", k, counts[k], pct[k])
			continue
		}
		fmt.Printf("    %-28s %5d\n", k, counts[k])
	}
}
