// Package google is a client for the Google Places API (New), used to
// find amenities and transit stops around a property.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/cma-engine/internal/resilience"
)

const (
	defaultBaseURL = "https://places.googleapis.com/v1"

	// MaxNearbyResults is the API's cap on results per nearby search.
	MaxNearbyResults = 20
)

const placeFields = "places.displayName,places.types,places.primaryType,places.location,places.rating,places.userRatingCount,places.formattedAddress"

// Client performs Google Places API operations.
type Client interface {
	TextSearch(ctx context.Context, query string) (*SearchResponse, error)
	SearchNearby(ctx context.Context, req NearbyRequest) (*SearchResponse, error)
}

// SearchResponse is the response from Places Text and Nearby Search.
type SearchResponse struct {
	Places []Place `json:"places"`
}

// Place represents a place returned by the API.
type Place struct {
	DisplayName      DisplayName `json:"displayName"`
	Types            []string    `json:"types,omitempty"`
	PrimaryType      string      `json:"primaryType,omitempty"`
	Location         LatLng      `json:"location"`
	FormattedAddress string      `json:"formattedAddress,omitempty"`
	Rating           float64     `json:"rating"`
	UserRatingCount  int         `json:"userRatingCount"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// LatLng is a WGS84 position in the Places API format.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NearbyRequest describes a circular nearby search.
type NearbyRequest struct {
	Center        LatLng
	RadiusMeters  float64
	IncludedTypes []string
	MaxResults    int
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithLanguage sets the languageCode for localized place names.
func WithLanguage(code string) Option {
	return func(c *httpClient) {
		c.language = code
	}
}

type httpClient struct {
	apiKey   string
	baseURL  string
	language string
	http     *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		language: "es",
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(10, 10),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type textSearchRequest struct {
	TextQuery    string `json:"textQuery"`
	LanguageCode string `json:"languageCode,omitempty"`
}

type nearbySearchRequest struct {
	IncludedTypes       []string            `json:"includedTypes,omitempty"`
	MaxResultCount      int                 `json:"maxResultCount"`
	RankPreference      string              `json:"rankPreference"`
	LanguageCode        string              `json:"languageCode,omitempty"`
	LocationRestriction locationRestriction `json:"locationRestriction"`
}

type locationRestriction struct {
	Circle circle `json:"circle"`
}

type circle struct {
	Center LatLng  `json:"center"`
	Radius float64 `json:"radius"`
}

func (c *httpClient) TextSearch(ctx context.Context, query string) (*SearchResponse, error) {
	return c.post(ctx, "/places:searchText", textSearchRequest{TextQuery: query, LanguageCode: c.language})
}

func (c *httpClient) SearchNearby(ctx context.Context, req NearbyRequest) (*SearchResponse, error) {
	if req.RadiusMeters <= 0 {
		return nil, eris.New("google: nearby search radius must be positive")
	}
	n := req.MaxResults
	if n <= 0 || n > MaxNearbyResults {
		n = MaxNearbyResults
	}
	return c.post(ctx, "/places:searchNearby", nearbySearchRequest{
		IncludedTypes:  req.IncludedTypes,
		MaxResultCount: n,
		RankPreference: "DISTANCE",
		LanguageCode:   c.language,
		LocationRestriction: locationRestriction{
			Circle: circle{Center: req.Center, Radius: req.RadiusMeters},
		},
	})
}

func (c *httpClient) post(ctx context.Context, path string, payload any) (*SearchResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "google: rate limit")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", placeFields)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "google: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("google", resp.StatusCode, string(respBody))
	}

	var result SearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "google: unmarshal response")
	}

	return &result, nil
}
