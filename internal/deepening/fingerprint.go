package deepening

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/cma-engine/internal/model"
)

// Fingerprint returns a stable SHA-256 hex identity for a property. Only
// identifying fields take part; text is accent-folded, lower-cased and
// whitespace-collapsed, numbers are formatted with fixed precision, and the
// key=value pairs are sorted so field order never matters.
func Fingerprint(p model.PropertyDescriptor) string {
	return hashFields(canonicalFields(p))
}

// Region is the canonical city and province key under which regional
// learning accumulates.
func Region(p model.PropertyDescriptor) string {
	return CanonicalText(p.City) + ", " + CanonicalText(p.Province)
}

func canonicalFields(p model.PropertyDescriptor) map[string]string {
	return map[string]string{
		"address":       CanonicalText(p.Address),
		"city":          CanonicalText(p.City),
		"province":      CanonicalText(p.Province),
		"property_type": CanonicalText(p.PropertyType),
		"bedrooms":      strconv.Itoa(p.Bedrooms),
		"bathrooms":     strconv.Itoa(p.Bathrooms),
		"build_area":    strconv.FormatFloat(p.BuildArea, 'f', 2, 64),
		"plot_area":     strconv.FormatFloat(p.PlotArea, 'f', 2, 64),
	}
}

func hashFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum)
}

// CanonicalText folds "Málaga", " MALAGA " and "malaga" to the same value.
func CanonicalText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
