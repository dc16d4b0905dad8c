// Package valuation computes a deterministic market value estimate from a
// property and its enrichment data.
package valuation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/cma-engine/internal/model"
)

// Valuation bases, recorded on the estimate.
const (
	BasisComparables     = "comparables"
	BasisComparablePrice = "comparable_prices"
	BasisMarketAverage   = "market_average"
	BasisPending         = "pending"
)

// Adjustment factor names.
const (
	FactorCondition    = "condition"
	FactorLocation     = "location_amenities"
	FactorMarketTrend  = "market_trend"
	FactorDevelopments = "future_developments"
	FactorOutdoorSpace = "outdoor_space"
)

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	MaxSpreadPercent     float64 `yaml:"max_spread_percent" mapstructure:"max_spread_percent"`
	MinSpreadPercent     float64 `yaml:"min_spread_percent" mapstructure:"min_spread_percent"`
	AmenityRadiusMeters  float64 `yaml:"amenity_radius_meters" mapstructure:"amenity_radius_meters"`
	MaxAmenityPremium    float64 `yaml:"max_amenity_premium" mapstructure:"max_amenity_premium"`
	MaxTrendAdjustment   float64 `yaml:"max_trend_adjustment" mapstructure:"max_trend_adjustment"`
	MaxDevelopmentImpact float64 `yaml:"max_development_impact" mapstructure:"max_development_impact"`
	PendingConfidenceCap int     `yaml:"pending_confidence_cap" mapstructure:"pending_confidence_cap"`
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		MaxSpreadPercent:     15,
		MinSpreadPercent:     5,
		AmenityRadiusMeters:  1000,
		MaxAmenityPremium:    6,
		MaxTrendAdjustment:   5,
		MaxDevelopmentImpact: 5,
		PendingConfidenceCap: 30,
	}
}

// Engine is the valuation aggregation engine. It holds no mutable state and
// is safe for concurrent use.
type Engine struct {
	cfg Config
}

// New creates an Engine, filling unset config fields with defaults.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MaxSpreadPercent <= 0 {
		cfg.MaxSpreadPercent = def.MaxSpreadPercent
	}
	if cfg.MinSpreadPercent <= 0 || cfg.MinSpreadPercent > cfg.MaxSpreadPercent {
		cfg.MinSpreadPercent = math.Min(def.MinSpreadPercent, cfg.MaxSpreadPercent)
	}
	if cfg.AmenityRadiusMeters <= 0 {
		cfg.AmenityRadiusMeters = def.AmenityRadiusMeters
	}
	if cfg.MaxAmenityPremium <= 0 {
		cfg.MaxAmenityPremium = def.MaxAmenityPremium
	}
	if cfg.MaxTrendAdjustment <= 0 {
		cfg.MaxTrendAdjustment = def.MaxTrendAdjustment
	}
	if cfg.MaxDevelopmentImpact <= 0 {
		cfg.MaxDevelopmentImpact = def.MaxDevelopmentImpact
	}
	if cfg.PendingConfidenceCap <= 0 {
		cfg.PendingConfidenceCap = def.PendingConfidenceCap
	}
	return &Engine{cfg: cfg}
}

var defaultEngine = New(DefaultConfig())

// CalculateMarketValue runs the default engine.
func CalculateMarketValue(
	property model.PropertyDescriptor,
	comparables []model.Comparable,
	market *model.MarketData,
	amenities []model.Amenity,
	developments []model.Development,
) model.ValuationEstimate {
	return defaultEngine.Calculate(property, comparables, market, amenities, developments)
}

// Calculate returns a structurally valid estimate for any input, including
// all-empty input. Identical inputs always produce identical output.
func (e *Engine) Calculate(
	property model.PropertyDescriptor,
	comparables []model.Comparable,
	market *model.MarketData,
	amenities []model.Amenity,
	developments []model.Development,
) model.ValuationEstimate {
	unitPrices, prices, usable := comparablePrices(comparables)
	confidence := e.confidence(usable, market, amenities)

	base, basis, unit := e.base(property, unitPrices, prices, market)
	if basis == BasisPending {
		capped := min(confidence, e.cfg.PendingConfidenceCap)
		zap.L().Debug("valuation: insufficient data",
			zap.String("address", property.Address),
			zap.Int("confidence", capped),
		)
		return model.ValuationEstimate{
			Confidence:  capped,
			Basis:       BasisPending,
			Methodology: pendingMethodology(property, market),
			Adjustments: []model.Adjustment{},
		}
	}

	adjustments := e.adjustments(property, market, amenities, developments)
	var total float64
	for _, a := range adjustments {
		total += a.Percent
	}

	estimated := base * (1 + total/100)
	if estimated < 0 {
		estimated = 0
	}
	spread := e.spread(confidence)
	step := roundingStep(estimated)

	est := model.ValuationEstimate{
		Low:             roundTo(estimated*(1-spread/100), step),
		Estimated:       roundTo(estimated, step),
		High:            roundTo(estimated*(1+spread/100), step),
		Confidence:      confidence,
		Basis:           basis,
		BasePricePerSqm: math.Round(unit*100) / 100,
		Adjustments:     adjustments,
	}
	est.Methodology = methodology(basis, usable, unit, property.BuildArea, total, len(adjustments), spread)

	// Rounding is monotonic so ordering holds; enforce it regardless.
	est.Low = math.Min(est.Low, est.Estimated)
	est.High = math.Max(est.High, est.Estimated)

	zap.L().Debug("valuation: computed",
		zap.String("address", property.Address),
		zap.String("basis", basis),
		zap.Float64("estimated", est.Estimated),
		zap.Int("confidence", est.Confidence),
		zap.Int("adjustments", len(adjustments)),
	)
	return est
}

// comparablePrices collects usable price per square metre and absolute
// price figures, and counts comparables carrying at least one of them.
func comparablePrices(comparables []model.Comparable) (unitPrices, prices []float64, usable int) {
	for _, c := range comparables {
		u := c.UnitPrice()
		if u > 0 {
			unitPrices = append(unitPrices, u)
		}
		if c.Price > 0 {
			prices = append(prices, c.Price)
		}
		if u > 0 || c.Price > 0 {
			usable++
		}
	}
	return unitPrices, prices, usable
}

func (e *Engine) base(p model.PropertyDescriptor, unitPrices, prices []float64, market *model.MarketData) (value float64, basis string, unit float64) {
	switch {
	case p.BuildArea > 0 && len(unitPrices) > 0:
		unit = median(unitPrices)
		return unit * p.BuildArea, BasisComparables, unit
	case len(prices) > 0:
		return median(prices), BasisComparablePrice, 0
	case market != nil && market.AvgPricePerSqm > 0 && p.BuildArea > 0:
		return market.AvgPricePerSqm * p.BuildArea, BasisMarketAverage, market.AvgPricePerSqm
	default:
		return 0, BasisPending, 0
	}
}

// confidence grows monotonically with comparable count, market data and
// amenity coverage.
func (e *Engine) confidence(comparables int, market *model.MarketData, amenities []model.Amenity) int {
	c := 10
	if comparables > 0 || (market != nil && market.AvgPricePerSqm > 0) {
		c += 10
	}
	c += min(comparables*8, 40)
	if market != nil {
		c += 10
		if market.AvgPricePerSqm > 0 {
			c += 10
		}
	}
	switch {
	case len(amenities) >= 10:
		c += 10
	case len(amenities) >= 3:
		c += 5
	}
	return clampInt(c, 0, 100)
}

func (e *Engine) spread(confidence int) float64 {
	hi, lo := e.cfg.MaxSpreadPercent, e.cfg.MinSpreadPercent
	return hi - (hi-lo)*float64(confidence)/100
}

func (e *Engine) adjustments(p model.PropertyDescriptor, market *model.MarketData, amenities []model.Amenity, developments []model.Development) []model.Adjustment {
	adj := []model.Adjustment{}

	if pct, label := conditionImpact(p.Condition); pct != 0 {
		adj = append(adj, model.Adjustment{
			Factor:    FactorCondition,
			Percent:   pct,
			Reasoning: fmt.Sprintf("Property condition assessed as %q", label),
		})
	}

	near := 0
	for _, a := range amenities {
		if a.DistanceMeters <= e.cfg.AmenityRadiusMeters {
			near++
		}
	}
	if near >= 5 {
		pct := math.Min(float64(near/5), e.cfg.MaxAmenityPremium)
		adj = append(adj, model.Adjustment{
			Factor:    FactorLocation,
			Percent:   pct,
			Reasoning: fmt.Sprintf("%d amenities within %.0f m of the property", near, e.cfg.AmenityRadiusMeters),
		})
	}

	if market != nil {
		pct := 0.0
		switch {
		case market.PriceTrendPercent != 0:
			pct = round1(clamp(market.PriceTrendPercent/2, -e.cfg.MaxTrendAdjustment, e.cfg.MaxTrendAdjustment))
		case market.Trend == model.TrendRising:
			pct = 3
		case market.Trend == model.TrendFalling:
			pct = -4
		}
		if pct != 0 {
			adj = append(adj, model.Adjustment{
				Factor:    FactorMarketTrend,
				Percent:   pct,
				Reasoning: trendReasoning(market),
			})
		}
	}

	if len(developments) > 0 {
		var sum float64
		for _, d := range developments {
			sum += developmentImpact(d)
		}
		pct := round1(clamp(sum, -e.cfg.MaxDevelopmentImpact, e.cfg.MaxDevelopmentImpact))
		if pct != 0 {
			adj = append(adj, model.Adjustment{
				Factor:    FactorDevelopments,
				Percent:   pct,
				Reasoning: fmt.Sprintf("%d planned developments nearby with net %s impact", len(developments), direction(pct)),
			})
		}
	}

	if pct := outdoorPremium(p); pct > 0 {
		adj = append(adj, model.Adjustment{
			Factor:    FactorOutdoorSpace,
			Percent:   pct,
			Reasoning: fmt.Sprintf("Outdoor space: %.0f m² terrace, %.0f m² plot", p.TerraceArea, p.PlotArea),
		})
	}

	return adj
}

// conditionTable is matched top to bottom, so the stronger phrases of a
// family come first.
var conditionTable = []struct {
	keywords []string
	percent  float64
}{
	{[]string{"to reform", "to renovate", "for reform", "a reformar", "full reform", "derelict", "ruin"}, -15},
	{[]string{"needs renovation", "needs reform", "needs work", "needs updating", "poor"}, -12},
	{[]string{"excellent", "new build", "newly built", "brand new", "luxury"}, 8},
	{[]string{"very good", "good", "renovated", "refurbished"}, 3},
}

var negations = map[string]bool{"not": true, "no": true, "never": true, "isn't": true, "hardly": true, "without": true}

func conditionImpact(condition string) (float64, string) {
	c := strings.ToLower(strings.TrimSpace(condition))
	if c == "" {
		return 0, ""
	}
	for _, row := range conditionTable {
		for _, k := range row.keywords {
			if containsAffirmed(c, k) {
				return row.percent, c
			}
		}
	}
	return 0, c
}

// containsAffirmed reports whether keyword occurs in text without one of
// the two preceding words of its clause negating it ("not good", "not in
// good shape").
func containsAffirmed(text, keyword string) bool {
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], keyword)
		if i < 0 {
			return false
		}
		i += from
		clause := text[:i]
		if k := strings.LastIndexAny(clause, ",.;:"); k >= 0 {
			clause = clause[k+1:]
		}
		words := strings.Fields(clause)
		negated := false
		for j := max(0, len(words)-2); j < len(words); j++ {
			if negations[words[j]] {
				negated = true
			}
		}
		if !negated {
			return true
		}
		from = i + len(keyword)
	}
	return false
}

func developmentImpact(d model.Development) float64 {
	if d.ImpactPercent != 0 {
		return d.ImpactPercent
	}
	switch strings.ToLower(d.Impact) {
	case "positive", "high positive":
		return 1
	case "negative", "high negative":
		return -1
	default:
		return 0
	}
}

func outdoorPremium(p model.PropertyDescriptor) float64 {
	if p.BuildArea <= 0 {
		return 0
	}
	var pct float64
	if p.TerraceArea > 0 {
		pct += math.Min(p.TerraceArea/p.BuildArea*10, 3)
	}
	if p.PlotArea > 2*p.BuildArea {
		pct += 2
	}
	return round1(math.Min(pct, 5))
}

func trendReasoning(m *model.MarketData) string {
	if m.PriceTrendPercent != 0 {
		return fmt.Sprintf("Local prices moved %+.1f%% year over year (%s market)", m.PriceTrendPercent, m.Trend)
	}
	return fmt.Sprintf("Local market trend is %s", m.Trend)
}

func methodology(basis string, comps int, unit, area, total float64, nAdj int, spread float64) string {
	var b strings.Builder
	switch basis {
	case BasisComparables:
		fmt.Fprintf(&b, "Median price per m² of %d comparable listings (%.0f/m²) applied to %.0f m² built area", comps, unit, area)
	case BasisComparablePrice:
		fmt.Fprintf(&b, "Median asking price of %d comparable listings (built area unavailable)", comps)
	case BasisMarketAverage:
		fmt.Fprintf(&b, "No comparable listings; local market average of %.0f/m² applied to %.0f m² built area", unit, area)
	}
	if nAdj > 0 {
		fmt.Fprintf(&b, ", adjusted by %+.1f%% across %d factors", total, nAdj)
	}
	fmt.Fprintf(&b, ". Range reflects a ±%.1f%% confidence band.", spread)
	return b.String()
}

func pendingMethodology(p model.PropertyDescriptor, market *model.MarketData) string {
	reasons := []string{"no comparable listings with usable prices"}
	switch {
	case market == nil:
		reasons = append(reasons, "no market data")
	case market.AvgPricePerSqm <= 0:
		reasons = append(reasons, "market data without an average price per m²")
	case p.BuildArea <= 0:
		reasons = append(reasons, "no built area to apply the market average to")
	}
	return "Valuation pending: " + strings.Join(reasons, ", ") + ". No estimate was produced."
}

func median(values []float64) float64 {
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func roundingStep(v float64) float64 {
	if v >= 100_000 {
		return 1000
	}
	return 1
}

func roundTo(v, step float64) float64 {
	return math.Round(v/step) * step
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func direction(pct float64) string {
	if pct > 0 {
		return "positive"
	}
	return "negative"
}
