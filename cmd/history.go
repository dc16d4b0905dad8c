package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cma-engine/internal/deepening"
	"github.com/sells-group/cma-engine/internal/model"
	"github.com/sells-group/cma-engine/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect past analyses and progressive deepening",
	Long: "Without a property, lists archived analyses. With --file or --address, shows the deepening " +
		"records, the next strategy and the regional learning entries for that property.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("history"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")

		property, ok, err := historyProperty(cmd)
		if err != nil {
			return err
		}
		if !ok {
			status, _ := cmd.Flags().GetString("status")
			since, _ := cmd.Flags().GetDuration("since")

			filter := store.AnalysisFilter{Status: model.SessionStatus(status), Limit: limit}
			if since > 0 {
				filter.CreatedAfter = time.Now().Add(-since)
			}
			analyses, err := st.ListAnalyses(ctx, filter)
			if err != nil {
				return eris.Wrap(err, "history: list analyses")
			}
			if len(analyses) == 0 {
				fmt.Fprintln(os.Stderr, "No analyses found.")
				return nil
			}
			formatAnalyses(os.Stdout, analyses)
			return nil
		}

		engine := deepening.NewEngine(st, cfg.Deepening)
		records, err := engine.History(ctx, property)
		if err != nil {
			return err
		}
		strategy, err := engine.GetDeepeningStrategy(ctx, property)
		if err != nil {
			return err
		}
		learning, err := st.ListLearning(ctx, deepening.Region(property), limit)
		if err != nil {
			return eris.Wrap(err, "history: list learning")
		}

		formatDeepening(os.Stdout, deepening.Fingerprint(property), records, strategy)
		if len(learning) > 0 {
			fmt.Fprintln(os.Stdout)
			formatLearning(os.Stdout, deepening.Region(property), learning)
		}
		return nil
	},
}

// historyProperty builds the descriptor from --file or the property flags.
// ok is false when neither was given.
func historyProperty(cmd *cobra.Command) (model.PropertyDescriptor, bool, error) {
	flags := cmd.Flags()
	if path, _ := flags.GetString("file"); path != "" {
		p, err := loadProperty(path, cmd.InOrStdin())
		return p, err == nil, err
	}

	address, _ := flags.GetString("address")
	if address == "" {
		return model.PropertyDescriptor{}, false, nil
	}
	p := model.PropertyDescriptor{Address: address}
	p.City, _ = flags.GetString("city")
	p.Province, _ = flags.GetString("province")
	p.PropertyType, _ = flags.GetString("type")
	p.Bedrooms, _ = flags.GetInt("bedrooms")
	p.Bathrooms, _ = flags.GetInt("bathrooms")
	p.BuildArea, _ = flags.GetFloat64("build-area")
	p.PlotArea, _ = flags.GetFloat64("plot-area")
	if p.City == "" || p.Province == "" {
		return p, false, eris.New("history: --city and --province are required with --address")
	}
	return p, true, nil
}

func formatAnalyses(w io.Writer, analyses []model.AnalysisSession) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROPERTY\tSTATUS\tQUALITY\tESTIMATE\tCREATED")
	for _, a := range analyses {
		property, estimate := "-", "-"
		if a.Report != nil {
			property = truncateText(a.Report.Property.FullAddress(), 40)
			estimate = fmt.Sprintf("€%.0f", a.Report.Valuation.Estimated)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(a.ID), property, a.Status, a.QualityScore, estimate,
			a.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck
}

func formatDeepening(w io.Writer, fingerprint string, records []model.DeepeningRecord, strategy *model.Strategy) {
	fmt.Fprintf(w, "Fingerprint: %s\n", fingerprint)
	if len(records) == 0 {
		fmt.Fprintln(w, "No analyses recorded for this property.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tLABEL\tQUALITY\tSESSION\tGAPS\tRECORDED")
	for _, r := range records {
		gaps := "-"
		if len(r.DataGaps) > 0 {
			gaps = strings.Join(r.DataGaps, ",")
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n",
			r.Level, r.LevelLabel, r.QualityScore, shortID(r.SessionID), gaps,
			r.RecordedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck

	if strategy != nil {
		fmt.Fprintf(w, "\nNext analysis: level %d (%s)\n", strategy.NextLevel, deepening.LevelLabel(strategy.NextLevel))
		for _, q := range strategy.AdditionalQueries {
			fmt.Fprintf(w, "  query: %s\n", q)
		}
	}
}

func formatLearning(w io.Writer, region string, entries []model.LearningEntry) {
	fmt.Fprintf(w, "Regional learning for %s:\n", region)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tTYPE\tQUALITY\tCOMPS\tMEDIAN\t€/M²\tTREND\tESTIMATE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t€%.0f\t%.0f\t%s\t€%.0f\n",
			e.RecordedAt.Format("2006-01-02"), e.PropertyType, e.QualityScore, e.ComparableCount,
			e.MedianPrice, e.AvgPricePerSqm, e.Trend, e.EstimatedValue)
	}
	tw.Flush() //nolint:errcheck
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func addHistoryFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("file", "f", "", "property descriptor file")
	f.String("address", "", "street address")
	f.String("city", "", "city")
	f.String("province", "", "province")
	f.String("type", "", "property type")
	f.Int("bedrooms", 0, "bedrooms")
	f.Int("bathrooms", 0, "bathrooms")
	f.Float64("build-area", 0, "built area in m²")
	f.Float64("plot-area", 0, "plot area in m²")
	f.String("status", "", "filter archived analyses by status")
	f.Duration("since", 0, "only analyses created within this duration")
	f.Int("limit", 20, "maximum rows")
}

func init() {
	addHistoryFlags(historyCmd)
	rootCmd.AddCommand(historyCmd)
}
