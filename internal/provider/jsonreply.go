package provider

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// decodeJSONReply decodes the first JSON object or array in a model
// reply, tolerating code fences and prose around it.
func decodeJSONReply(text string, v any) error {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return eris.New("reply contains no JSON")
	}
	closing := "}"
	if text[start] == '[' {
		closing = "]"
	}
	end := strings.LastIndex(text, closing)
	if end < start {
		return eris.New("reply contains unterminated JSON")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return eris.Wrap(err, "decode reply JSON")
	}
	return nil
}
