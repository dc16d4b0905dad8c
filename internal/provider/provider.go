// Package provider adapts the external API clients and the market
// database to the pipeline's provider interfaces. Every adapter call goes
// through a per-provider circuit breaker.
package provider

import (
	"go.uber.org/zap"

	"github.com/sells-group/cma-engine/internal/config"
	"github.com/sells-group/cma-engine/internal/metrics"
	"github.com/sells-group/cma-engine/internal/pipeline"
	"github.com/sells-group/cma-engine/internal/resilience"
	"github.com/sells-group/cma-engine/internal/store"
	"github.com/sells-group/cma-engine/pkg/anthropic"
	"github.com/sells-group/cma-engine/pkg/geocode"
	"github.com/sells-group/cma-engine/pkg/google"
	"github.com/sells-group/cma-engine/pkg/jina"
	"github.com/sells-group/cma-engine/pkg/perplexity"
)

// NewRegistry returns a breaker registry that publishes every state
// change as a metric and a log line.
func NewRegistry(cfg resilience.Config) *resilience.Registry {
	cfg.OnStateChange = func(name string, from, to resilience.State) {
		metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		zap.L().Warn("circuit breaker state change",
			zap.String("provider", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return resilience.NewRegistry(cfg)
}

// Build assembles the providers configured in cfg. Providers whose API
// key or database is missing are left nil and return empty results.
func Build(cfg *config.Config, breakers *resilience.Registry, archive store.Store, markets MarketRepository) pipeline.Providers {
	var p pipeline.Providers
	log := zap.L()

	if cfg.Google.Key != "" {
		geo := NewGeo(geocode.NewClient(cfg.Google.Key,
			geocode.WithBaseURL(cfg.Google.GeocodeBaseURL),
			geocode.WithRateLimit(cfg.Google.RateLimit),
			geocode.WithCache(2048, cfg.Session.TTL),
		), breakers, cfg.Google.VerifyMaxDistanceKm)
		p.Geocoder = geo
		p.Verifier = geo

		places := NewPlaces(google.NewClient(cfg.Google.Key,
			google.WithBaseURL(cfg.Google.PlacesBaseURL),
			google.WithRateLimit(cfg.Google.RateLimit),
		), breakers, float64(cfg.Google.AmenityRadiusMeters))
		p.Amenities = places
		p.Mobility = places
	} else {
		log.Warn("google key not set; geocoding, amenities and mobility disabled")
	}

	if markets != nil {
		m := NewMarket(markets, breakers)
		p.Market = m
		p.Comparables = m
	} else {
		log.Warn("market database not configured; market data and comparables disabled")
	}

	if cfg.Perplexity.Key != "" {
		r := NewResearch(perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		), breakers)
		p.Developments = r
		p.Narrative = r
	} else {
		log.Warn("perplexity key not set; developments and narrative disabled")
	}

	if cfg.Anthropic.Key != "" {
		p.Summarizer = NewSummarizer(anthropic.NewClient(cfg.Anthropic.Key),
			breakers, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
	} else {
		log.Warn("anthropic key not set; summaries use the templated fallback")
	}

	if cfg.Jina.Key != "" {
		p.Search = NewSearch(jina.NewClient(cfg.Jina.Key,
			jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL),
		), breakers)
	}

	if archive != nil {
		p.Learning = NewLearning(archive)
	}
	return p
}
