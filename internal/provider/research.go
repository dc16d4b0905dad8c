package provider

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/sells-group/cma-engine/internal/model"
	"github.com/sells-group/cma-engine/internal/pipeline"
	"github.com/sells-group/cma-engine/internal/resilience"
	"github.com/sells-group/cma-engine/pkg/perplexity"
)

const maxDevelopmentImpact = 15.0

var citationMarker = regexp.MustCompile(`\s*\[\d+\]`)

const developmentsPrompt = `List planned or in-progress developments within 3 km of %s that could affect residential property values in the next five years (infrastructure, transport, commercial, residential, tourism).
Property: %s, %d bedrooms, %.0f m².
Reply with a JSON array only. Each item: {"name": string, "type": string, "status": "planned"|"approved"|"under_construction"|"completed", "expected_completion": string, "impact": "positive"|"neutral"|"negative", "impact_percent": number between -15 and 15}.
Reply [] when nothing relevant is known.`

const narrativePrompt = `Describe the neighbourhood around %s, %s (%s), Spain for a property buyer in one paragraph of at most 120 words: character, services, transport, noise, and who typically lives there. Plain prose, no headings, no lists.`

// Research uses Perplexity for development research and the neighbourhood
// narrative.
type Research struct {
	client       perplexity.Client
	developments *resilience.Breaker
	narrative    *resilience.Breaker
}

// NewResearch creates the Perplexity adapter.
func NewResearch(client perplexity.Client, breakers *resilience.Registry) *Research {
	return &Research{
		client:       client,
		developments: breakers.Get(pipeline.ProviderDevelopments),
		narrative:    breakers.Get(pipeline.ProviderNarrative),
	}
}

type developmentReply struct {
	Name               string  `json:"name"`
	Type               string  `json:"type"`
	Status             string  `json:"status"`
	ExpectedCompletion string  `json:"expected_completion"`
	Impact             string  `json:"impact"`
	ImpactPercent      float64 `json:"impact_percent"`
}

func (r *Research) FutureDevelopments(ctx context.Context, address string, p model.PropertyDescriptor) ([]model.Development, error) {
	prompt := fmt.Sprintf(developmentsPrompt, address, p.PropertyType, p.Bedrooms, p.BuildArea)
	content, err := r.ask(ctx, r.developments, prompt, "year")
	if err != nil {
		return nil, err
	}

	var replies []developmentReply
	if err := decodeJSONReply(content, &replies); err != nil {
		return nil, err
	}
	out := make([]model.Development, 0, len(replies))
	for _, d := range replies {
		if strings.TrimSpace(d.Name) == "" {
			continue
		}
		out = append(out, model.Development{
			Name:               d.Name,
			Type:               d.Type,
			Status:             d.Status,
			ExpectedCompletion: d.ExpectedCompletion,
			Impact:             strings.ToLower(d.Impact),
			ImpactPercent:      math.Max(-maxDevelopmentImpact, math.Min(maxDevelopmentImpact, d.ImpactPercent)),
		})
	}
	return out, nil
}

func (r *Research) NeighborhoodNarrative(ctx context.Context, address, city, province string) (string, error) {
	content, err := r.ask(ctx, r.narrative, fmt.Sprintf(narrativePrompt, address, city, province), "")
	if err != nil {
		return "", err
	}
	text := citationMarker.ReplaceAllString(content, "")
	return strings.Join(strings.Fields(text), " "), nil
}

func (r *Research) ask(ctx context.Context, b *resilience.Breaker, prompt, recency string) (string, error) {
	temp := 0.2
	resp, err := resilience.Call(ctx, b, func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		return r.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
			Messages: []perplexity.Message{
				{Role: "system", Content: "You are a Spanish real estate research assistant. Be factual and concise."},
				{Role: "user", Content: prompt},
			},
			Temperature:         &temp,
			SearchRecencyFilter: recency,
		})
	})
	if err != nil {
		return "", err
	}
	return resp.Content(), nil
}
