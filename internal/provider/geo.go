package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/cma-engine/internal/deepening"
	"github.com/sells-group/cma-engine/internal/model"
	"github.com/sells-group/cma-engine/internal/pipeline"
	"github.com/sells-group/cma-engine/internal/resilience"
	"github.com/sells-group/cma-engine/pkg/geocode"
)

const defaultVerifyDistanceKm = 25

// Geo geocodes addresses and verifies geocoded positions against the
// submitted locality.
type Geo struct {
	client        geocode.Client
	geocode       *resilience.Breaker
	verify        *resilience.Breaker
	maxDistanceKm float64
}

// NewGeo creates the geocoding adapter. Positions within maxDistanceKm of
// the city centre pass verification even when the locality name differs.
func NewGeo(client geocode.Client, breakers *resilience.Registry, maxDistanceKm float64) *Geo {
	if maxDistanceKm <= 0 {
		maxDistanceKm = defaultVerifyDistanceKm
	}
	return &Geo{
		client:        client,
		geocode:       breakers.Get(pipeline.ProviderGeocoder),
		verify:        breakers.Get(pipeline.ProviderVerifier),
		maxDistanceKm: maxDistanceKm,
	}
}

// Geocode returns nil coordinates when the address has no match.
func (g *Geo) Geocode(ctx context.Context, address string) (*model.Coordinates, error) {
	r, err := resilience.Call(ctx, g.geocode, func(ctx context.Context) (*geocode.Result, error) {
		return g.client.Geocode(ctx, address)
	})
	if err != nil {
		return nil, err
	}
	if r == nil || !r.Matched {
		return nil, nil
	}
	return &model.Coordinates{Lat: r.Latitude, Lng: r.Longitude}, nil
}

// VerifyLocation reverse-geocodes coords and compares the locality and
// province found there with the submitted ones. When the locality differs
// the distance to the city centre decides.
func (g *Geo) VerifyLocation(ctx context.Context, coords model.Coordinates, address, city, province string) (*model.LocationVerification, error) {
	rev, err := resilience.Call(ctx, g.verify, func(ctx context.Context) (*geocode.Result, error) {
		return g.client.Reverse(ctx, coords.Lat, coords.Lng)
	})
	if err != nil {
		return nil, err
	}
	if rev == nil || !rev.Matched {
		return &model.LocationVerification{
			IsValid: false,
			Reason:  "no address found at the geocoded position",
		}, nil
	}

	cityOK := sameName(rev.Locality, city)
	provinceOK := sameName(rev.Province, province) || sameName(rev.Region, province)
	out := &model.LocationVerification{VerifiedAddress: rev.FormattedAddress}

	if cityOK {
		out.IsValid = true
		out.Confidence = 0.8
		out.Reason = "locality matches"
		if provinceOK {
			out.Confidence = 0.95
			out.Reason = "locality and province match"
		}
		return out, nil
	}

	dist, ok := g.distanceToCentre(ctx, coords, city, province)
	if ok && dist <= g.maxDistanceKm {
		out.IsValid = true
		out.Confidence = 0.6
		if provinceOK {
			out.Confidence = 0.7
		}
		out.Reason = fmt.Sprintf("%.1f km from %s centre", dist, city)
		return out, nil
	}

	out.Confidence = 0.2
	out.Reason = fmt.Sprintf("position resolves to %q, expected %q", rev.Locality, city)
	if ok {
		out.Reason += fmt.Sprintf(" (%.1f km away)", dist)
	}
	return out, nil
}

func (g *Geo) distanceToCentre(ctx context.Context, coords model.Coordinates, city, province string) (float64, bool) {
	if strings.TrimSpace(city) == "" {
		return 0, false
	}
	centre, err := g.Geocode(ctx, strings.TrimSuffix(city+", "+province, ", "))
	if err != nil || centre == nil {
		return 0, false
	}
	return geocode.DistanceKm(coords.Point(), centre.Point()), true
}

func sameName(found, want string) bool {
	f, w := deepening.CanonicalText(found), deepening.CanonicalText(want)
	if f == "" || w == "" {
		return false
	}
	return f == w || strings.Contains(f, w) || strings.Contains(w, f)
}
