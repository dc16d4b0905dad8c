package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cma-engine/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the progress of an analysis on a running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		if server == "" {
			server = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		client := &http.Client{Timeout: 30 * time.Second}
		s, err := fetchStatus(cmd.Context(), client, server, args[0])
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}
		formatSession(os.Stdout, s)
		return nil
	},
}

// fetchStatus polls GET /analyses/{id} on the server at baseURL.
func fetchStatus(ctx context.Context, client *http.Client, baseURL, id string) (*model.AnalysisSession, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/analyses/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "status: create request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "status: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "status: read body")
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, eris.Errorf("status: session %s not found", id)
	default:
		return nil, eris.Errorf("status: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var s model.AnalysisSession
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, eris.Wrap(err, "status: decode session")
	}
	return &s, nil
}

// formatSession writes a session's progress and step records.
func formatSession(w io.Writer, s *model.AnalysisSession) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush() //nolint:errcheck

	fmt.Fprintf(tw, "SESSION\t%s\n", s.ID)
	fmt.Fprintf(tw, "STATUS\t%s\n", s.Status)
	fmt.Fprintf(tw, "PROGRESS\t%d/%d", s.CompletedSteps, s.TotalSteps)
	if s.CurrentStep != "" {
		fmt.Fprintf(tw, " (%s)", s.CurrentStep)
	}
	fmt.Fprintln(tw)
	if s.Status.Terminal() {
		fmt.Fprintf(tw, "QUALITY\t%d\n", s.QualityScore)
	}
	if s.Error != "" {
		fmt.Fprintf(tw, "ERROR\t%s\n", s.Error)
		fmt.Fprintf(tw, "SUGGESTION\t%s\n", s.Suggestion)
	}
	if s.Report != nil {
		v := s.Report.Valuation
		fmt.Fprintf(tw, "ESTIMATE\t€%.0f (€%.0f - €%.0f)\n", v.Estimated, v.Low, v.High)
	}
	fmt.Fprintf(tw, "UPDATED\t%s\n", s.UpdatedAt.Format("2006-01-02 15:04:05"))

	if len(s.Steps) == 0 {
		return
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "STEP\tNAME\tSTATUS")
	for _, st := range s.Steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", st.Number, st.Name, st.Status)
	}
}

func init() {
	statusCmd.Flags().String("server", "", "analysis server base URL (default http://localhost:<server.port>)")
	statusCmd.Flags().Bool("json", false, "print the raw session JSON")
	rootCmd.AddCommand(statusCmd)
}
