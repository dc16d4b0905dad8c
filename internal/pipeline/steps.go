package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/cma-engine/internal/model"
)

// Step 1: finer-grained location hints from the listing text.
func (r *run) analyzeLocation(ctx context.Context, out *StepOutcome) {
	insights, err := r.p.providers.Summarizer.AnalyzeLocation(ctx, r.enhanced)
	if err != nil {
		out.fail(ProviderSummarizer, err)
		return
	}
	if insights != nil && len(insights.Hints) > 0 {
		r.enhanced.LocationHints = append([]string(nil), insights.Hints...)
	}
	out.Details["location_hints"] = len(r.enhanced.LocationHints)
}

// Step 2: condition and architectural style, merged into the enhanced copy.
func (r *run) analyzeCondition(ctx context.Context, out *StepOutcome) {
	assessment, err := r.p.providers.Summarizer.AnalyzeCondition(ctx, r.enhanced)
	if err != nil {
		out.fail(ProviderSummarizer, err)
		return
	}
	if assessment == nil {
		return
	}
	if assessment.Condition != "" {
		r.enhanced.Condition = assessment.Condition
		out.Details["condition"] = assessment.Condition
	}
	if assessment.ArchitecturalStyle != "" {
		r.enhanced.ArchitecturalStyle = assessment.ArchitecturalStyle
		out.Details["architectural_style"] = assessment.ArchitecturalStyle
	}
}

// Step 3: coordinates with verification and a city-level fallback, then
// amenities and mobility concurrently, then the neighbourhood narrative.
func (r *run) geolocate(ctx context.Context, out *StepOutcome) {
	prov := r.p.providers
	p := r.enhanced

	reason := "address not found"
	coords, err := prov.Geocoder.Geocode(ctx, p.FullAddress())
	if err != nil {
		out.fail(ProviderGeocoder, err)
		reason = err.Error()
	}

	if coords != nil {
		v, verr := prov.Verifier.VerifyLocation(ctx, *coords, p.Address, p.City, p.Province)
		out.fail(ProviderVerifier, verr)
		if v != nil {
			r.bundle.Verification = v
			out.Details["verified"] = v.IsValid
			if !v.IsValid {
				reason = "verification rejected address: " + v.Reason
				coords = nil
			}
		}
	}

	if coords == nil {
		out.Details["fallback"] = "city"
		cityCoords, cerr := prov.Geocoder.Geocode(ctx, p.CityAddress())
		if cerr != nil {
			out.fail(ProviderGeocoder, cerr)
		}
		coords = cityCoords
	}

	if coords == nil {
		out.Critical = &CriticalGeocodeError{
			Address:     p.FullAddress(),
			CityAddress: p.CityAddress(),
			Reason:      reason,
		}
		r.sess.CriticalErrorCount++
		r.log.Error("pipeline: critical geocode failure", zap.Error(out.Critical))
		return
	}

	r.bundle.Coordinates = coords
	out.Details["lat"] = coords.Lat
	out.Details["lng"] = coords.Lng

	var (
		amenities            []model.Amenity
		mobility             *model.MobilityData
		amenErr, mobilityErr error
	)
	allSettled(
		func() { amenities, amenErr = prov.Amenities.NearbyAmenities(ctx, *coords) },
		func() { mobility, mobilityErr = prov.Mobility.MobilityData(ctx, *coords, p.FullAddress()) },
	)
	out.fail(ProviderAmenities, amenErr)
	out.fail(ProviderMobility, mobilityErr)
	if amenErr == nil {
		r.bundle.Amenities = amenities
	}
	if mobilityErr == nil {
		r.bundle.Mobility = mobility
	}
	out.Details["amenities"] = len(r.bundle.Amenities)

	narrative, err := prov.Narrative.NeighborhoodNarrative(ctx, p.Address, p.City, p.Province)
	if err != nil {
		out.fail(ProviderNarrative, err)
		return
	}
	r.bundle.NeighborhoodNarrative = narrative
}

// Step 4.
func (r *run) fetchMarketData(ctx context.Context, out *StepOutcome) {
	market, err := r.p.providers.Market.MarketData(ctx, r.enhanced)
	if err != nil {
		out.fail(ProviderMarket, err)
		return
	}
	r.bundle.Market = market
	out.Details["available"] = market != nil
}

// Step 5.
func (r *run) fetchComparables(ctx context.Context, out *StepOutcome) {
	res, err := r.p.providers.Comparables.ComparableListings(ctx, r.enhanced)
	if err != nil {
		out.fail(ProviderComparables, err)
		return
	}
	if res != nil {
		r.bundle.Comparables = res.Comparables
		r.bundle.TotalComparables = max(res.TotalFound, len(res.Comparables))
	}
	out.Details["comparables"] = len(r.bundle.Comparables)
	out.Details["total_found"] = r.bundle.TotalComparables
}

// Step 6.
func (r *run) fetchDevelopments(ctx context.Context, out *StepOutcome) {
	devs, err := r.p.providers.Developments.FutureDevelopments(ctx, r.enhanced.FullAddress(), r.enhanced)
	if err != nil {
		out.fail(ProviderDevelopments, err)
		return
	}
	r.bundle.Developments = devs
	out.Details["developments"] = len(devs)
}

// Step 7: valuation over everything gathered so far, then the AI summary,
// replaced by the templated summary on any failure.
func (r *run) generateSummary(ctx context.Context, out *StepOutcome) {
	b := r.bundle
	r.estimate = r.p.valuation.Calculate(r.enhanced, b.Comparables, b.Market, b.Amenities, b.Developments)
	out.Details["estimated_value"] = r.estimate.Estimated
	out.Details["valuation_basis"] = r.estimate.Basis

	bundle := r.bundle
	summary, err := r.p.providers.Summarizer.GenerateSummary(ctx, r.enhanced, &bundle, r.estimate)
	if err != nil || summary == nil || summary.Overview == "" {
		if err != nil {
			out.Errors = append(out.Errors, newStepError(out.Name, ProviderSummarizer, &SummaryGenerationError{Err: err}))
		}
		r.summary = FallbackSummary(r.enhanced, &r.bundle, r.estimate)
		out.Fallback = true
		out.Details["fallback"] = true
		return
	}
	r.summary = *summary
	r.summary.Generated = true
}

// allSettled runs fns concurrently and waits for all of them. A panic in
// any fn is re-raised on the calling goroutine once every fn has returned.
func allSettled(fns ...func()) {
	panics := make([]any, len(fns))
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { panics[i] = recover() }()
			fn()
		}()
	}
	wg.Wait()
	for _, v := range panics {
		if v != nil {
			panic(v)
		}
	}
}
