package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cma-engine/internal/model"
	"github.com/sells-group/cma-engine/internal/pipeline"
	"github.com/sells-group/cma-engine/internal/resilience"
	"github.com/sells-group/cma-engine/pkg/anthropic"
)

const defaultModel = "claude-haiku-4-5-20251001"

const systemPrompt = `You are a valuation analyst for residential property in Spain. You write for buyers and sellers, in English, using euros. Always reply with a single JSON value and nothing else.`

const locationPrompt = `From this listing, infer finer location hints (urbanisation, neighbourhood, landmarks, beach or golf proximity). Do not repeat the city or province.
Listing: %s
Reply: {"hints": [string]} with at most 5 hints, [] when none are stated.`

const conditionPrompt = `From this listing, assess the property's condition and architectural style.
Listing: %s
Reply: {"condition": "excellent"|"very good"|"good"|"fair"|"to reform", "architectural_style": string}. Use "" when the listing gives no evidence.`

const summaryPrompt = `Write a comparative market analysis summary for this property.
Data: %s
Reply: {"overview": string, "market_position": string, "recommendation": string, "highlights": [string]}. Overview and market position at most 3 sentences each, recommendation 1-2 sentences, up to 5 highlights.`

const queriesPrompt = `Suggest %d web search queries that would find recent information useful for valuing this property (local price news, planning changes, infrastructure). Queries in the language a local would use.
Listing: %s
Reply: {"queries": [string]}.`

// Summarizer uses Anthropic for listing analysis, report summaries and
// research query suggestions.
type Summarizer struct {
	client    anthropic.Client
	breaker   *resilience.Breaker
	model     string
	maxTokens int64
}

// NewSummarizer creates the Anthropic adapter.
func NewSummarizer(client anthropic.Client, breakers *resilience.Registry, model string, maxTokens int64) *Summarizer {
	if model == "" {
		model = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Summarizer{
		client:    client,
		breaker:   breakers.Get(pipeline.ProviderSummarizer),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (s *Summarizer) AnalyzeLocation(ctx context.Context, p model.PropertyDescriptor) (*pipeline.LocationInsights, error) {
	var out pipeline.LocationInsights
	if err := s.ask(ctx, "location", fmt.Sprintf(locationPrompt, listing(p)), &out); err != nil {
		return nil, err
	}
	out.Hints = nonBlank(out.Hints, 5)
	return &out, nil
}

func (s *Summarizer) AnalyzeCondition(ctx context.Context, p model.PropertyDescriptor) (*pipeline.ConditionAssessment, error) {
	var out pipeline.ConditionAssessment
	if err := s.ask(ctx, "condition", fmt.Sprintf(conditionPrompt, listing(p)), &out); err != nil {
		return nil, err
	}
	out.Condition = strings.ToLower(strings.TrimSpace(out.Condition))
	out.ArchitecturalStyle = strings.TrimSpace(out.ArchitecturalStyle)
	return &out, nil
}

type summaryReply struct {
	Overview       string   `json:"overview"`
	MarketPosition string   `json:"market_position"`
	Recommendation string   `json:"recommendation"`
	Highlights     []string `json:"highlights"`
}

type summaryData struct {
	Property  model.PropertyDescriptor `json:"property"`
	Valuation model.ValuationEstimate  `json:"valuation"`
	Market    *model.MarketData        `json:"market,omitempty"`
	Comps     []model.Comparable       `json:"comparables,omitempty"`
	Amenities int                      `json:"amenity_count"`
	Mobility  *model.MobilityData      `json:"mobility,omitempty"`
	Devs      []model.Development      `json:"developments,omitempty"`
	Narrative string                   `json:"neighbourhood,omitempty"`
}

func (s *Summarizer) GenerateSummary(ctx context.Context, p model.PropertyDescriptor, bundle *model.EnrichmentBundle, estimate model.ValuationEstimate) (*model.NarrativeSummary, error) {
	data := summaryData{Property: p, Valuation: estimate}
	if bundle != nil {
		data.Market = bundle.Market
		data.Comps = bundle.Comparables
		data.Amenities = len(bundle.Amenities)
		data.Mobility = bundle.Mobility
		data.Devs = bundle.Developments
		data.Narrative = bundle.NeighborhoodNarrative
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "summarizer: marshal summary data")
	}

	var reply summaryReply
	if err := s.ask(ctx, "summary", fmt.Sprintf(summaryPrompt, raw), &reply); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reply.Overview) == "" {
		return nil, eris.New("summarizer: summary has no overview")
	}
	return &model.NarrativeSummary{
		Overview:       strings.TrimSpace(reply.Overview),
		MarketPosition: strings.TrimSpace(reply.MarketPosition),
		Recommendation: strings.TrimSpace(reply.Recommendation),
		Highlights:     nonBlank(reply.Highlights, 5),
		Generated:      true,
	}, nil
}

func (s *Summarizer) SuggestQueries(ctx context.Context, p model.PropertyDescriptor, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	var reply struct {
		Queries []string `json:"queries"`
	}
	if err := s.ask(ctx, "queries", fmt.Sprintf(queriesPrompt, n, listing(p)), &reply); err != nil {
		return nil, err
	}
	return nonBlank(reply.Queries, n), nil
}

// ask sends one prompt and decodes the JSON reply into v.
func (s *Summarizer) ask(ctx context.Context, name, prompt string, v any) error {
	resp, err := resilience.Call(ctx, s.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     s.model,
			MaxTokens: s.maxTokens,
			System:    anthropic.CachedSystem(systemPrompt),
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
		if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
			return nil, resilience.NewTransientError(err, code)
		}
		return resp, err
	})
	if err != nil {
		return err
	}
	resp.Usage.LogCost(s.model, name)
	if err := decodeJSONReply(resp.Text(), v); err != nil {
		return eris.Wrapf(err, "summarizer: %s", name)
	}
	return nil
}

// listing renders the descriptor fields the prompts need.
func listing(p model.PropertyDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s in %s", p.PropertyType, p.FullAddress())
	if p.Bedrooms > 0 {
		fmt.Fprintf(&b, ", %d bedrooms", p.Bedrooms)
	}
	if p.Bathrooms > 0 {
		fmt.Fprintf(&b, ", %d bathrooms", p.Bathrooms)
	}
	if p.BuildArea > 0 {
		fmt.Fprintf(&b, ", %.0f m² built", p.BuildArea)
	}
	if p.PlotArea > 0 {
		fmt.Fprintf(&b, ", %.0f m² plot", p.PlotArea)
	}
	if len(p.Features) > 0 {
		fmt.Fprintf(&b, ". Features: %s", strings.Join(p.Features, ", "))
	}
	if p.Description != "" {
		fmt.Fprintf(&b, ". Description: %s", p.Description)
	}
	return b.String()
}

func nonBlank(items []string, limit int) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
		if len(out) == limit {
			break
		}
	}
	return out
}
