package pipeline

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/cma-engine/internal/model"
	"github.com/sells-group/cma-engine/internal/valuation"
)

// Asking price deviation beyond which the recommendation changes.
const priceDeviationPercent = 5.0

var printer = message.NewPrinter(language.English)

// FallbackSummary builds a deterministic summary from whatever data the
// analysis gathered. It never invents figures.
func FallbackSummary(p model.PropertyDescriptor, b *model.EnrichmentBundle, est model.ValuationEstimate) model.NarrativeSummary {
	return model.NarrativeSummary{
		Overview:       fallbackOverview(p),
		MarketPosition: fallbackMarketPosition(b, est),
		Recommendation: fallbackRecommendation(p, est),
		Highlights:     fallbackHighlights(p, b),
		Generated:      false,
	}
}

func fallbackOverview(p model.PropertyDescriptor) string {
	var sb strings.Builder
	kind := strings.TrimSpace(p.PropertyType)
	if kind == "" {
		kind = "property"
	}
	if p.Bedrooms > 0 {
		fmt.Fprintf(&sb, "%d-bedroom %s", p.Bedrooms, kind)
	} else {
		sb.WriteString(kind)
	}
	fmt.Fprintf(&sb, " at %s", p.FullAddress())
	if p.BuildArea > 0 {
		sb.WriteString(printer.Sprintf(" with %.0f m² built", p.BuildArea))
		if p.PlotArea > 0 {
			sb.WriteString(printer.Sprintf(" on a %.0f m² plot", p.PlotArea))
		}
	}
	if p.Condition != "" {
		fmt.Fprintf(&sb, ", in %s condition", p.Condition)
	}
	sb.WriteString(".")
	return sb.String()
}

func fallbackMarketPosition(b *model.EnrichmentBundle, est model.ValuationEstimate) string {
	if est.Basis == valuation.BasisPending || est.Estimated <= 0 {
		return "A valuation is pending: there was not enough comparable or market data to estimate a value."
	}

	var sb strings.Builder
	sb.WriteString(printer.Sprintf("Estimated market value %s (range %s to %s) at %d%% confidence",
		euros(est.Estimated), euros(est.Low), euros(est.High), est.Confidence))
	switch est.Basis {
	case valuation.BasisComparables, valuation.BasisComparablePrice:
		fmt.Fprintf(&sb, ", based on %d comparable listings", len(b.Comparables))
	case valuation.BasisMarketAverage:
		sb.WriteString(", based on the local average price per square metre")
	}
	sb.WriteString(".")
	if b.Market != nil && b.Market.Trend != "" {
		fmt.Fprintf(&sb, " The local market is %s (%+.1f%% year on year).", b.Market.Trend, b.Market.PriceTrendPercent)
	}
	return sb.String()
}

func fallbackRecommendation(p model.PropertyDescriptor, est model.ValuationEstimate) string {
	if est.Estimated <= 0 {
		return "Gather recent comparable sales before setting or negotiating a price."
	}
	if p.Price <= 0 {
		return printer.Sprintf("Consider listing between %s and %s.", euros(est.Low), euros(est.High))
	}

	deviation := (p.Price - est.Estimated) / est.Estimated * 100
	switch {
	case deviation > priceDeviationPercent:
		return fmt.Sprintf("The asking price is %.0f%% above the estimated value; expect negotiation or a longer time on market.", math.Abs(deviation))
	case deviation < -priceDeviationPercent:
		return fmt.Sprintf("The asking price is %.0f%% below the estimated value; the property is competitively priced.", math.Abs(deviation))
	default:
		return "The asking price is in line with the estimated market value."
	}
}

func fallbackHighlights(p model.PropertyDescriptor, b *model.EnrichmentBundle) []string {
	var out []string
	if n := len(b.Amenities); n > 0 {
		out = append(out, fmt.Sprintf("%d amenities nearby", n))
	}
	if b.Mobility != nil && b.Mobility.WalkingScore > 0 {
		out = append(out, fmt.Sprintf("Walking score %d/100", b.Mobility.WalkingScore))
	}
	if n := len(b.Developments); n > 0 {
		out = append(out, fmt.Sprintf("%d planned developments in the area", n))
	}
	if p.TerraceArea > 0 {
		out = append(out, fmt.Sprintf("%.0f m² terrace", p.TerraceArea))
	}
	for _, f := range p.Features {
		if len(out) >= 6 {
			break
		}
		out = append(out, f)
	}
	return out
}

func euros(v float64) string {
	return printer.Sprintf("€%.0f", v)
}
