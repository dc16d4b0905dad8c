package provider

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/cma-engine/internal/model"
	"github.com/sells-group/cma-engine/internal/resilience"
	"github.com/sells-group/cma-engine/pkg/anthropic"
	"github.com/sells-group/cma-engine/pkg/geocode"
	"github.com/sells-group/cma-engine/pkg/jina"
	"github.com/sells-group/cma-engine/pkg/perplexity"
)

func testRegistry() *resilience.Registry {
	return resilience.NewRegistry(resilience.Config{FailureThreshold: 2})
}

type mockGeocoder struct{ mock.Mock }

func (m *mockGeocoder) Geocode(ctx context.Context, address string) (*geocode.Result, error) {
	args := m.Called(ctx, address)
	r, _ := args.Get(0).(*geocode.Result)
	return r, args.Error(1)
}

func (m *mockGeocoder) Reverse(ctx context.Context, lat, lng float64) (*geocode.Result, error) {
	args := m.Called(ctx, lat, lng)
	r, _ := args.Get(0).(*geocode.Result)
	return r, args.Error(1)
}

type mockAnthropic struct{ mock.Mock }

func (m *mockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*anthropic.MessageResponse)
	return r, args.Error(1)
}

func textReply(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: text}}}
}

type mockPerplexity struct{ mock.Mock }

func (m *mockPerplexity) ChatCompletion(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	r, _ := args.Get(0).(*perplexity.ChatCompletionResponse)
	return r, args.Error(1)
}

func chatReply(text string) *perplexity.ChatCompletionResponse {
	return &perplexity.ChatCompletionResponse{Choices: []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: text}}}}
}

type mockJina struct{ mock.Mock }

func (m *mockJina) Search(ctx context.Context, query string, opts ...jina.SearchOption) (*jina.SearchResponse, error) {
	args := m.Called(ctx, query)
	r, _ := args.Get(0).(*jina.SearchResponse)
	return r, args.Error(1)
}

type mockMarketRepo struct{ mock.Mock }

func (m *mockMarketRepo) MarketData(ctx context.Context, p model.PropertyDescriptor) (*model.MarketData, error) {
	args := m.Called(ctx, p)
	r, _ := args.Get(0).(*model.MarketData)
	return r, args.Error(1)
}

func (m *mockMarketRepo) Comparables(ctx context.Context, p model.PropertyDescriptor) ([]model.Comparable, int, error) {
	args := m.Called(ctx, p)
	r, _ := args.Get(0).([]model.Comparable)
	return r, args.Int(1), args.Error(2)
}

var villa = model.PropertyDescriptor{
	Reference:    "REF-1",
	Address:      "Calle Ancha 12",
	City:         "Marbella",
	Province:     "Málaga",
	PropertyType: "villa",
	Bedrooms:     4,
	Bathrooms:    3,
	BuildArea:    250,
	Features:     []string{"pool", "sea views"},
	Description:  "Andalusian villa in Nueva Andalucía, walking distance to Puerto Banús.",
}
