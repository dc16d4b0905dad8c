package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cma-engine/internal/resilience"
)

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	AddressComponents []addressComponent `json:"address_components"`
	Geometry          struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
	PartialMatch     bool   `json:"partial_match"`
}

type addressComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

func (g *geocoder) Geocode(ctx context.Context, address string) (*Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return &Result{Matched: false}, nil
	}
	key := cacheKey("address", address)
	if r, ok := g.cached(key); ok {
		return r, nil
	}
	r, err := g.lookup(ctx, url.Values{"address": {address}})
	if err != nil {
		return nil, err
	}
	g.store(key, r)
	return r, nil
}

func (g *geocoder) Reverse(ctx context.Context, lat, lng float64) (*Result, error) {
	latlng := strconv.FormatFloat(lat, 'f', 6, 64) + "," + strconv.FormatFloat(lng, 'f', 6, 64)
	key := cacheKey("latlng", latlng)
	if r, ok := g.cached(key); ok {
		return r, nil
	}
	r, err := g.lookup(ctx, url.Values{"latlng": {latlng}})
	if err != nil {
		return nil, err
	}
	g.store(key, r)
	return r, nil
}

// lookup performs one Geocoding API request.
func (g *geocoder) lookup(ctx context.Context, params url.Values) (*Result, error) {
	if g.apiKey == "" {
		return nil, eris.New("geocode: google api key not configured")
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit")
	}

	params.Set("key", g.apiKey)
	if g.region != "" {
		params.Set("region", g.region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("geocode", resp.StatusCode, string(body))
	}

	var googleResp googleGeocodeResponse
	if err := json.Unmarshal(body, &googleResp); err != nil {
		return nil, eris.Wrap(err, "geocode: parse response")
	}

	switch googleResp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return &Result{Matched: false}, nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return nil, resilience.NewTransientError(
			eris.Errorf("geocode: api status %s: %s", googleResp.Status, googleResp.ErrorMessage), 0)
	default:
		return nil, eris.Errorf("geocode: api status %s: %s", googleResp.Status, googleResp.ErrorMessage)
	}

	if len(googleResp.Results) == 0 {
		return &Result{Matched: false}, nil
	}
	return toResult(googleResp.Results[0]), nil
}

func toResult(gr googleResult) *Result {
	r := &Result{
		Latitude:         gr.Geometry.Location.Lat,
		Longitude:        gr.Geometry.Location.Lng,
		FormattedAddress: gr.FormattedAddress,
		Quality:          googleLocationTypeToQuality(gr.Geometry.LocationType),
		PartialMatch:     gr.PartialMatch,
		Matched:          true,
	}
	for _, c := range gr.AddressComponents {
		switch {
		case hasType(c, "locality"):
			r.Locality = c.LongName
		case hasType(c, "administrative_area_level_2"):
			r.Province = c.LongName
		case hasType(c, "administrative_area_level_1"):
			r.Region = c.LongName
		case hasType(c, "postal_code"):
			r.PostalCode = c.LongName
		case hasType(c, "country"):
			r.Country = c.ShortName
		}
	}
	return r
}

func hasType(c addressComponent, t string) bool {
	return slices.Contains(c.Types, t)
}

// googleLocationTypeToQuality maps Google's location_type to our quality taxonomy.
func googleLocationTypeToQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return "rooftop"
	case "RANGE_INTERPOLATED":
		return "range"
	case "GEOMETRIC_CENTER":
		return "centroid"
	default:
		return "approximate"
	}
}
