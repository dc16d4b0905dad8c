package geocode

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// cacheKey returns SHA-256 hex of the normalized lookup.
func cacheKey(kind, value string) string {
	normalized := kind + "|" + strings.Join(strings.Fields(strings.ToLower(value)), " ")
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}

func (g *geocoder) cached(key string) (*Result, bool) {
	if g.cache == nil {
		return nil, false
	}
	r, ok := g.cache.Get(key)
	if !ok {
		return nil, false
	}
	zap.L().Debug("geocode cache hit", zap.String("key", key[:12]), zap.Bool("matched", r.Matched))
	return &r, true
}

func (g *geocoder) store(key string, r *Result) {
	if g.cache != nil && r != nil {
		g.cache.Add(key, *r)
	}
}
