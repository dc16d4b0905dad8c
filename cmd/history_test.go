package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cma-engine/internal/model"
)

func newHistoryTestCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "history"}
	addHistoryFlags(cmd)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestHistoryProperty_Flags(t *testing.T) {
	cmd := newHistoryTestCmd(t, "--address", "Calle Ancha 12", "--city", "Marbella",
		"--province", "Málaga", "--type", "villa", "--bedrooms", "4", "--build-area", "250")

	p, ok, err := historyProperty(cmd)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Marbella", p.City)
	assert.Equal(t, "villa", p.PropertyType)
	assert.Equal(t, 4, p.Bedrooms)
	assert.InDelta(t, 250, p.BuildArea, 1e-9)
}

func TestHistoryProperty_None(t *testing.T) {
	_, ok, err := historyProperty(newHistoryTestCmd(t, "--status", "degraded"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryProperty_MissingCity(t *testing.T) {
	_, _, err := historyProperty(newHistoryTestCmd(t, "--address", "Calle Ancha 12"))
	assert.ErrorContains(t, err, "--city and --province")
}

func TestHistoryProperty_File(t *testing.T) {
	p, ok, err := historyProperty(newHistoryTestCmd(t, "--file", writeFile(t, "villa.yaml", villaYAML)))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "MB-2291", p.Reference)
}

func TestFormatAnalyses(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)
	analyses := []model.AnalysisSession{
		{
			ID:           "abc12345-6789-0000-0000-000000000000",
			Status:       model.SessionCompleted,
			QualityScore: 100,
			CreatedAt:    now,
			Report: &model.CMAReport{
				Property:  model.PropertyDescriptor{Address: "Calle Ancha 12", City: "Marbella", Province: "Málaga"},
				Valuation: model.ValuationEstimate{Estimated: 1200000},
			},
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Status:    model.SessionError,
			CreatedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatAnalyses(&buf, analyses)
	out := buf.String()

	assert.Contains(t, out, "PROPERTY")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "Calle Ancha 12, Marbella, Málaga")
	assert.Contains(t, out, "€1200000")
	assert.Contains(t, out, "error")
	assert.Contains(t, out, "2026-06-15 10:30")
}

func TestFormatDeepening(t *testing.T) {
	at := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	records := []model.DeepeningRecord{
		{Level: 1, LevelLabel: "basic", QualityScore: 71, SessionID: "sess-0001-aaaa", DataGaps: []string{"comparables", "developments"}, RecordedAt: at},
		{Level: 2, LevelLabel: "enhanced", QualityScore: 86, SessionID: "sess-0002-bbbb", RecordedAt: at.Add(24 * time.Hour)},
	}
	strategy := &model.Strategy{CurrentLevel: 2, NextLevel: 3, AdditionalQueries: []string{"precio vivienda Marbella"}}

	var buf bytes.Buffer
	formatDeepening(&buf, "fp123", records, strategy)
	out := buf.String()

	assert.Contains(t, out, "Fingerprint: fp123")
	assert.Contains(t, out, "comparables,developments")
	assert.Contains(t, out, "enhanced")
	assert.Contains(t, out, "Next analysis: level 3 (deep)")
	assert.Contains(t, out, "query: precio vivienda Marbella")
}

func TestFormatDeepening_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatDeepening(&buf, "fp123", nil, nil)
	assert.Contains(t, buf.String(), "No analyses recorded")
}

func TestFormatLearning(t *testing.T) {
	var buf bytes.Buffer
	formatLearning(&buf, "marbella, malaga", []model.LearningEntry{{
		RecordedAt: time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC), PropertyType: "villa", QualityScore: 86,
		ComparableCount: 5, MedianPrice: 1100000, AvgPricePerSqm: 4200, Trend: model.TrendRising, EstimatedValue: 1150000,
	}})
	out := buf.String()
	assert.Contains(t, out, "Regional learning for marbella, malaga")
	assert.Contains(t, out, "2026-09-02")
	assert.Contains(t, out, "€1100000")
	assert.Contains(t, out, "rising")
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", truncateText("short", 10))
	assert.Equal(t, "abcdefg...", truncateText("abcdefghijklmnop", 10))
	assert.Equal(t, "sess-1", shortID("sess-1"))
}
