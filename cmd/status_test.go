package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cma-engine/internal/model"
)

func TestFetchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/analyses/sess-1":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(model.AnalysisSession{
				ID: "sess-1", Status: model.SessionAnalyzing, CompletedSteps: 2, TotalSteps: 7,
			})
		case "/analyses/missing":
			http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		default:
			http.Error(w, `{"error":"session lookup failed"}`, http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	s, err := fetchStatus(context.Background(), srv.Client(), srv.URL+"/", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionAnalyzing, s.Status)
	assert.Equal(t, 2, s.CompletedSteps)

	_, err = fetchStatus(context.Background(), srv.Client(), srv.URL, "missing")
	assert.ErrorContains(t, err, "session missing not found")

	_, err = fetchStatus(context.Background(), srv.Client(), srv.URL, "broken")
	assert.ErrorContains(t, err, "server returned 500")
}

func TestFetchStatus_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := fetchStatus(context.Background(), http.DefaultClient, url, "sess-1")
	assert.ErrorContains(t, err, "status: request")
}

func TestFormatSession(t *testing.T) {
	ended := time.Date(2026, 10, 1, 9, 0, 30, 0, time.UTC)
	s := &model.AnalysisSession{
		ID:             "sess-1",
		Status:         model.SessionDegraded,
		CompletedSteps: 6,
		TotalSteps:     7,
		QualityScore:   86,
		Report:         &model.CMAReport{Valuation: model.ValuationEstimate{Low: 900000, Estimated: 1000000, High: 1100000}},
		UpdatedAt:      ended,
		Steps: []model.StepRecord{
			{Number: 1, Name: "property_analysis", Status: model.StepCompleted, EndedAt: &ended},
			{Number: 2, Name: "geocoding", Status: model.StepFailed},
		},
	}

	var buf bytes.Buffer
	formatSession(&buf, s)
	out := buf.String()

	assert.Contains(t, out, "degraded")
	assert.Contains(t, out, "6/7")
	assert.Contains(t, out, "QUALITY")
	assert.Contains(t, out, "€1000000 (€900000 - €1100000)")
	assert.Contains(t, out, "2026-10-01 09:00:30")
	assert.Contains(t, out, "geocoding")
	assert.Contains(t, out, "failed")
}

func TestFormatSession_Running(t *testing.T) {
	var buf bytes.Buffer
	formatSession(&buf, &model.AnalysisSession{
		ID: "sess-2", Status: model.SessionAnalyzing, CompletedSteps: 3, TotalSteps: 7, CurrentStep: "market",
	})
	out := buf.String()
	assert.Contains(t, out, "3/7 (market)")
	assert.NotContains(t, out, "QUALITY")
	assert.NotContains(t, out, "STEP")
}
