// Package geocode resolves Spanish addresses to coordinates and back via
// the Google Geocoding API.
package geocode

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

// Client geocodes addresses and reverse-geocodes positions.
type Client interface {
	// Geocode resolves a one-line address. An address with no match
	// returns a Result with Matched false and a nil error.
	Geocode(ctx context.Context, address string) (*Result, error)

	// Reverse resolves a position to its nearest address.
	Reverse(ctx context.Context, lat, lng float64) (*Result, error)
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude         float64
	Longitude        float64
	FormattedAddress string
	Quality          string // "rooftop", "range", "centroid", "approximate"
	PartialMatch     bool
	Matched          bool

	Locality   string
	Province   string // administrative_area_level_2
	Region     string // administrative_area_level_1
	PostalCode string
	Country    string // ISO 3166-1 alpha-2
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithBaseURL overrides the Geocoding API endpoint.
func WithBaseURL(url string) Option {
	return func(g *geocoder) {
		if url != "" {
			g.baseURL = url
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit for API calls.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		if rps > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithRegion biases results toward a ccTLD region code.
func WithRegion(region string) Option {
	return func(g *geocoder) {
		g.region = region
	}
}

// WithCache keeps up to size results in memory for ttl. Unmatched
// lookups are cached too.
func WithCache(size int, ttl time.Duration) Option {
	return func(g *geocoder) {
		if size > 0 {
			g.cache = expirable.NewLRU[string, Result](size, nil, ttl)
		}
	}
}

type geocoder struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	region     string
	limiter    *rate.Limiter
	cache      *expirable.LRU[string, Result]
}

// NewClient creates a new geocoding Client with the given options.
func NewClient(apiKey string, opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		region:     "es",
		limiter:    rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}
