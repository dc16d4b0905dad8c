package main

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"

	"github.com/sells-group/cma-engine/internal/model"
)

// propertySchema is the JSON schema for analysis request bodies.
const propertySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["address", "city", "province"],
  "properties": {
    "id":            {"type": "string"},
    "reference":     {"type": "string"},
    "address":       {"type": "string", "minLength": 1},
    "city":          {"type": "string", "minLength": 1},
    "province":      {"type": "string", "minLength": 1},
    "property_type": {"type": "string"},
    "bedrooms":      {"type": "integer", "minimum": 0},
    "bathrooms":     {"type": "integer", "minimum": 0},
    "build_area":    {"type": "number", "minimum": 0},
    "plot_area":     {"type": "number", "minimum": 0},
    "terrace_area":  {"type": "number", "minimum": 0},
    "price":         {"type": "number", "minimum": 0},
    "features":      {"type": "array", "items": {"type": "string"}},
    "description":   {"type": "string"},
    "rental": {
      "type": "object",
      "properties": {
        "monthly_price": {"type": "number", "minimum": 0},
        "weekly_price":  {"type": "number", "minimum": 0},
        "short_term":    {"type": "boolean"},
        "long_term":     {"type": "boolean"}
      }
    }
  }
}`

// requestValidator checks request bodies against propertySchema.
type requestValidator struct {
	schema *gojsonschema.Schema
}

func newRequestValidator() (*requestValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(propertySchema))
	if err != nil {
		return nil, eris.Wrap(err, "compile property schema")
	}
	return &requestValidator{schema: schema}, nil
}

// schemaError lists every schema violation in a request body.
type schemaError struct {
	Details []string
}

func (e *schemaError) Error() string {
	return "invalid request: " + strings.Join(e.Details, "; ")
}

// decode validates body and unmarshals it into a descriptor. Schema
// violations are returned as *schemaError.
func (v *requestValidator) decode(body []byte) (model.PropertyDescriptor, error) {
	var p model.PropertyDescriptor

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return p, &schemaError{Details: []string{"body is not valid JSON"}}
	}
	if !result.Valid() {
		details := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			details[i] = e.String()
		}
		return p, &schemaError{Details: details}
	}

	if err := json.Unmarshal(body, &p); err != nil {
		return p, eris.Wrap(err, "decode property")
	}
	return p, nil
}
