package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cma-engine/internal/model"
	"github.com/sells-group/cma-engine/internal/pipeline"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a full analysis for one property",
	Long:  "Reads a property descriptor (YAML or JSON, - for stdin), runs the seven-step analysis and prints the report.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("file")
		output, _ := cmd.Flags().GetString("output")

		property, err := loadProperty(path, cmd.InOrStdin())
		if err != nil {
			return err
		}
		if err := pipeline.Validate(property); err != nil {
			return err
		}

		env, err := initEnv(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		report, meta, err := env.Pipeline.Analyze(ctx, property)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}

		if output == "text" {
			formatReport(os.Stdout, report, meta)
			return nil
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Meta   *pipeline.Meta   `json:"meta"`
			Report *model.CMAReport `json:"report"`
		}{meta, report})
	},
}

// loadProperty reads a descriptor from path. Files ending in .json are
// decoded as JSON, everything else as YAML.
func loadProperty(path string, stdin io.Reader) (model.PropertyDescriptor, error) {
	var p model.PropertyDescriptor
	if path == "" {
		return p, eris.New("analyze: --file is required")
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return p, eris.Wrapf(err, "analyze: read %s", path)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &p)
	} else {
		err = yaml.Unmarshal(data, &p)
	}
	if err != nil {
		return p, eris.Wrapf(err, "analyze: parse %s", path)
	}
	return p, nil
}

// formatReport writes a human-readable digest of the report.
func formatReport(w io.Writer, report *model.CMAReport, meta *pipeline.Meta) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush() //nolint:errcheck

	v := report.Valuation
	fmt.Fprintf(tw, "PROPERTY\t%s\n", report.Property.FullAddress())
	fmt.Fprintf(tw, "SESSION\t%s\n", meta.SessionID)
	fmt.Fprintf(tw, "STATUS\t%s (quality %d, %d/%d steps, level %d)\n",
		meta.Status, meta.QualityScore, meta.CompletedSteps, meta.TotalSteps, meta.Level)
	fmt.Fprintf(tw, "ESTIMATE\t€%.0f (€%.0f - €%.0f), confidence %d%%\n", v.Estimated, v.Low, v.High, v.Confidence)
	fmt.Fprintf(tw, "BASIS\t%s\n", v.Basis)
	for _, a := range v.Adjustments {
		fmt.Fprintf(tw, "  %s\t%+.1f%%\t%s\n", a.Factor, a.Percent, a.Reasoning)
	}
	fmt.Fprintf(tw, "COMPARABLES\t%d of %d\n", len(report.Comparables), report.TotalComparables)
	fmt.Fprintf(tw, "AMENITIES\t%d\n", len(report.Amenities))
	if m := report.MarketTrends; m != nil {
		fmt.Fprintf(tw, "MARKET\t€%.0f/m², %s\n", m.AvgPricePerSqm, m.Trend)
	}
	fmt.Fprintf(tw, "SUMMARY\t%s\n", report.Summary.Overview)
	if report.Summary.Recommendation != "" {
		fmt.Fprintf(tw, "RECOMMENDATION\t%s\n", report.Summary.Recommendation)
	}
	for _, o := range meta.Outcomes {
		for _, e := range o.Errors {
			fmt.Fprintf(tw, "WARNING\t%s: %v\n", o.Name, e.Err)
		}
	}
}

func init() {
	analyzeCmd.Flags().StringP("file", "f", "", "property descriptor file (.yaml, .yml, .json or - for stdin)")
	analyzeCmd.Flags().StringP("output", "o", "json", "output format: json or text")
	rootCmd.AddCommand(analyzeCmd)
}
