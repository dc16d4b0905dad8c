package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cma-engine/internal/model"
	"github.com/sells-group/cma-engine/internal/resilience"
	"github.com/sells-group/cma-engine/pkg/geocode"
)

var calleAncha = model.Coordinates{Lat: 36.5101, Lng: -4.8825}

func TestGeo_Geocode(t *testing.T) {
	client := &mockGeocoder{}
	client.On("Geocode", mock.Anything, "Calle Ancha 12, Marbella, Málaga").
		Return(&geocode.Result{Matched: true, Latitude: 36.5101, Longitude: -4.8825}, nil)
	client.On("Geocode", mock.Anything, "Nowhere").Return(&geocode.Result{Matched: false}, nil)

	g := NewGeo(client, testRegistry(), 0)
	coords, err := g.Geocode(context.Background(), "Calle Ancha 12, Marbella, Málaga")
	require.NoError(t, err)
	assert.Equal(t, &calleAncha, coords)

	coords, err = g.Geocode(context.Background(), "Nowhere")
	require.NoError(t, err)
	assert.Nil(t, coords)
}

func TestGeo_VerifyLocation(t *testing.T) {
	tests := []struct {
		name       string
		reverse    *geocode.Result
		centre     *geocode.Result
		wantValid  bool
		wantConf   float64
		wantReason string
	}{
		{
			name:       "locality and province match",
			reverse:    &geocode.Result{Matched: true, Locality: "Marbella", Province: "Málaga", FormattedAddress: "C. Ancha, 12, Marbella"},
			wantValid:  true,
			wantConf:   0.95,
			wantReason: "locality and province match",
		},
		{
			name:       "locality only",
			reverse:    &geocode.Result{Matched: true, Locality: "marbella"},
			wantValid:  true,
			wantConf:   0.8,
			wantReason: "locality matches",
		},
		{
			name:       "neighbouring town within distance",
			reverse:    &geocode.Result{Matched: true, Locality: "San Pedro de Alcántara", Province: "Malaga"},
			centre:     &geocode.Result{Matched: true, Latitude: 36.5100, Longitude: -4.8800},
			wantValid:  true,
			wantConf:   0.7,
			wantReason: "km from Marbella centre",
		},
		{
			name:       "far away",
			reverse:    &geocode.Result{Matched: true, Locality: "Sevilla", Province: "Sevilla"},
			centre:     &geocode.Result{Matched: true, Latitude: 37.3891, Longitude: -5.9845},
			wantValid:  false,
			wantConf:   0.2,
			wantReason: `resolves to "Sevilla"`,
		},
		{
			name:       "nothing at position",
			reverse:    &geocode.Result{Matched: false},
			wantValid:  false,
			wantReason: "no address found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockGeocoder{}
			client.On("Reverse", mock.Anything, calleAncha.Lat, calleAncha.Lng).Return(tt.reverse, nil)
			if tt.centre != nil {
				client.On("Geocode", mock.Anything, "Marbella, Málaga").Return(tt.centre, nil)
			}

			g := NewGeo(client, testRegistry(), 25)
			v, err := g.VerifyLocation(context.Background(), calleAncha, "Calle Ancha 12", "Marbella", "Málaga")
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, v.IsValid)
			assert.InDelta(t, tt.wantConf, v.Confidence, 1e-9)
			assert.Contains(t, v.Reason, tt.wantReason)
			client.AssertExpectations(t)
		})
	}
}

func TestGeo_VerifyLocation_CentreLookupFails(t *testing.T) {
	client := &mockGeocoder{}
	client.On("Reverse", mock.Anything, calleAncha.Lat, calleAncha.Lng).
		Return(&geocode.Result{Matched: true, Locality: "Estepona"}, nil)
	client.On("Geocode", mock.Anything, "Marbella, Málaga").Return(nil, errors.New("quota"))

	g := NewGeo(client, testRegistry(), 25)
	v, err := g.VerifyLocation(context.Background(), calleAncha, "", "Marbella", "Málaga")
	require.NoError(t, err)
	assert.False(t, v.IsValid)
	assert.NotContains(t, v.Reason, "km away")
}

func TestGeo_BreakerOpens(t *testing.T) {
	client := &mockGeocoder{}
	client.On("Geocode", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Times(2)

	reg := testRegistry()
	g := NewGeo(client, reg, 25)
	for range 2 {
		_, err := g.Geocode(context.Background(), "x")
		require.Error(t, err)
	}
	_, err := g.Geocode(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, resilience.Open, reg.States()["geocoder"])
	client.AssertNumberOfCalls(t, "Geocode", 2)
}

func TestSameName(t *testing.T) {
	assert.True(t, sameName("Málaga", "MALAGA"))
	assert.True(t, sameName("Marbella", "marbella (nueva andalucia)"))
	assert.False(t, sameName("", "Marbella"))
	assert.False(t, sameName("Estepona", "Marbella"))
}
