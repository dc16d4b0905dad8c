package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cma-engine/pkg/perplexity"
)

func TestResearch_FutureDevelopments(t *testing.T) {
	client := &mockPerplexity{}
	client.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req perplexity.ChatCompletionRequest) bool {
		return req.SearchRecencyFilter == "year" && len(req.Messages) == 2
	})).Return(chatReply("Here is what I found:\n```json\n"+`[
		{"name": "Tren Litoral", "type": "transport", "status": "planned", "expected_completion": "2032", "impact": "Positive", "impact_percent": 6},
		{"name": "", "type": "commercial", "impact": "neutral"},
		{"name": "Mega resort", "type": "tourism", "status": "approved", "impact": "negative", "impact_percent": -40}
	]`+"\n```"), nil)

	r := NewResearch(client, testRegistry())
	devs, err := r.FutureDevelopments(context.Background(), "Calle Ancha 12, Marbella, Málaga", villa)
	require.NoError(t, err)
	require.Len(t, devs, 2)
	assert.Equal(t, "Tren Litoral", devs[0].Name)
	assert.Equal(t, "positive", devs[0].Impact)
	assert.InDelta(t, 6, devs[0].ImpactPercent, 1e-9)
	assert.InDelta(t, -15, devs[1].ImpactPercent, 1e-9)
}

func TestResearch_FutureDevelopments_NoJSON(t *testing.T) {
	client := &mockPerplexity{}
	client.On("ChatCompletion", mock.Anything, mock.Anything).Return(chatReply("I could not find anything."), nil)

	r := NewResearch(client, testRegistry())
	_, err := r.FutureDevelopments(context.Background(), "x", villa)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON")
}

func TestResearch_NeighborhoodNarrative(t *testing.T) {
	client := &mockPerplexity{}
	client.On("ChatCompletion", mock.Anything, mock.Anything).
		Return(chatReply("  Nueva Andalucía is a leafy, upmarket area [1] between\n the golf valley and Puerto Banús [2][3].  "), nil)

	r := NewResearch(client, testRegistry())
	text, err := r.NeighborhoodNarrative(context.Background(), "Calle Ancha 12", "Marbella", "Málaga")
	require.NoError(t, err)
	assert.Equal(t, "Nueva Andalucía is a leafy, upmarket area between the golf valley and Puerto Banús.", text)
}

func TestResearch_NeighborhoodNarrative_Error(t *testing.T) {
	client := &mockPerplexity{}
	client.On("ChatCompletion", mock.Anything, mock.Anything).Return(nil, errors.New("503"))

	r := NewResearch(client, testRegistry())
	_, err := r.NeighborhoodNarrative(context.Background(), "a", "b", "c")
	require.Error(t, err)
}
