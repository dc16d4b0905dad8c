package provider

import (
	"context"
	"math"
	"sort"

	"github.com/sells-group/cma-engine/internal/model"
	"github.com/sells-group/cma-engine/internal/pipeline"
	"github.com/sells-group/cma-engine/internal/resilience"
	"github.com/sells-group/cma-engine/pkg/geocode"
	"github.com/sells-group/cma-engine/pkg/google"
)

const (
	defaultAmenityRadius = 1500
	transitRadius        = 1000
	walkRadius           = 800
)

// amenityCategories maps Places types to report categories.
var amenityCategories = map[string]string{
	"school":             "education",
	"primary_school":     "education",
	"secondary_school":   "education",
	"university":         "education",
	"hospital":           "health",
	"pharmacy":           "health",
	"doctor":             "health",
	"supermarket":        "shopping",
	"shopping_mall":      "shopping",
	"restaurant":         "dining",
	"cafe":               "dining",
	"park":               "leisure",
	"gym":                "leisure",
	"golf_course":        "leisure",
	"beach":              "leisure",
	"marina":             "leisure",
	"bus_station":        "transport",
	"train_station":      "transport",
	"transit_station":    "transport",
	"subway_station":     "transport",
	"light_rail_station": "transport",
}

var (
	amenityTypes = []string{"school", "hospital", "pharmacy", "supermarket", "shopping_mall",
		"restaurant", "park", "gym", "golf_course", "beach"}
	transitTypes = []string{"bus_station", "train_station", "transit_station", "subway_station", "light_rail_station"}
	walkTypes    = []string{"supermarket", "restaurant", "cafe", "pharmacy", "school", "park"}
)

// Places finds amenities and derives mobility scores from nearby places.
type Places struct {
	client    google.Client
	amenities *resilience.Breaker
	mobility  *resilience.Breaker
	radius    float64
}

// NewPlaces creates the Places adapter searching within radius metres.
func NewPlaces(client google.Client, breakers *resilience.Registry, radius float64) *Places {
	if radius <= 0 {
		radius = defaultAmenityRadius
	}
	return &Places{
		client:    client,
		amenities: breakers.Get(pipeline.ProviderAmenities),
		mobility:  breakers.Get(pipeline.ProviderMobility),
		radius:    radius,
	}
}

// NearbyAmenities lists places of interest nearest first.
func (p *Places) NearbyAmenities(ctx context.Context, coords model.Coordinates) ([]model.Amenity, error) {
	resp, err := p.nearby(ctx, p.amenities, coords, p.radius, amenityTypes)
	if err != nil {
		return nil, err
	}
	out := make([]model.Amenity, 0, len(resp.Places))
	for _, pl := range resp.Places {
		out = append(out, model.Amenity{
			Name:           pl.DisplayName.Text,
			Category:       category(pl),
			DistanceMeters: distanceMeters(coords, pl.Location),
			Rating:         pl.Rating,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	return out, nil
}

// MobilityData scores transit access from the stops within 1 km and
// walkability from the everyday places within 800 m.
func (p *Places) MobilityData(ctx context.Context, coords model.Coordinates, _ string) (*model.MobilityData, error) {
	transit, err := p.nearby(ctx, p.mobility, coords, transitRadius, transitTypes)
	if err != nil {
		return nil, err
	}
	walk, err := p.nearby(ctx, p.mobility, coords, walkRadius, walkTypes)
	if err != nil {
		return nil, err
	}

	md := &model.MobilityData{}
	nearest := math.Inf(1)
	for _, pl := range transit.Places {
		if d := distanceMeters(coords, pl.Location); d < nearest {
			nearest = d
			md.NearestTransit = pl.DisplayName.Text
		}
	}
	if len(transit.Places) > 0 {
		proximity := 40 * (1 - nearest/transitRadius)
		md.TransitScore = clampScore(float64(len(transit.Places))*12 + math.Max(0, proximity))
	}

	kinds := make(map[string]bool)
	for _, pl := range walk.Places {
		kinds[category(pl)] = true
	}
	md.WalkingScore = clampScore(float64(len(walk.Places))*4 + float64(len(kinds))*8)
	md.BikeScore = clampScore(float64(md.WalkingScore*3+md.TransitScore) / 4)
	return md, nil
}

func (p *Places) nearby(ctx context.Context, b *resilience.Breaker, coords model.Coordinates, radius float64, types []string) (*google.SearchResponse, error) {
	resp, err := resilience.Call(ctx, b, func(ctx context.Context) (*google.SearchResponse, error) {
		return p.client.SearchNearby(ctx, google.NearbyRequest{
			Center:        google.LatLng{Latitude: coords.Lat, Longitude: coords.Lng},
			RadiusMeters:  radius,
			IncludedTypes: types,
		})
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &google.SearchResponse{}
	}
	return resp, nil
}

func category(pl google.Place) string {
	if c, ok := amenityCategories[pl.PrimaryType]; ok {
		return c
	}
	for _, t := range pl.Types {
		if c, ok := amenityCategories[t]; ok {
			return c
		}
	}
	return "other"
}

func distanceMeters(from model.Coordinates, to google.LatLng) float64 {
	dest := model.Coordinates{Lat: to.Latitude, Lng: to.Longitude}
	return math.Round(geocode.DistanceKm(from.Point(), dest.Point()) * 1000)
}

func clampScore(v float64) int {
	return int(math.Round(math.Max(0, math.Min(100, v))))
}
