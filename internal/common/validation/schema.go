package validation

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Schema is a compiled JSON schema, safe for concurrent use.
type Schema struct {
	schema *gojsonschema.Schema
}

func Compile(schema string) (*Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{schema: s}, nil
}

// MustCompile panics on an invalid schema; for package-level schemas.
func MustCompile(schema string) *Schema {
	s, err := Compile(schema)
	if err != nil {
		panic(err)
	}
	return s
}

// ValidateBytes validates a raw JSON document. Malformed JSON is reported as INVALID_JSON.
func (s *Schema) ValidateBytes(doc []byte) *ValidationResult {
	if !json.Valid(doc) {
		return &ValidationResult{Errors: []ValidationError{{
			Field:   "(root)",
			Message: "document is not valid JSON",
			Code:    "INVALID_JSON",
		}}}
	}
	return s.validate(gojsonschema.NewBytesLoader(doc))
}

// ValidateInput validates an already decoded document.
func (s *Schema) ValidateInput(input interface{}) *ValidationResult {
	return s.validate(gojsonschema.NewGoLoader(input))
}

func (s *Schema) validate(doc gojsonschema.JSONLoader) *ValidationResult {
	result, err := s.schema.Validate(doc)
	if err != nil {
		return &ValidationResult{Errors: []ValidationError{{
			Field:   "(root)",
			Message: err.Error(),
			Code:    "INVALID_JSON",
		}}}
	}

	errs := make([]ValidationError, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		field := re.Field()
		if p, ok := re.Details()["property"].(string); ok && re.Type() == "required" {
			field = p
		}
		errs = append(errs, ValidationError{
			Field:   field,
			Message: re.Description(),
			Code:    errorCode(re.Type()),
		})
	}

	return &ValidationResult{
		Valid:  result.Valid(),
		Errors: errs,
	}
}

func errorCode(t string) string {
	switch t {
	case "required":
		return "REQUIRED_FIELD_MISSING"
	case "invalid_type":
		return "INVALID_TYPE"
	case "enum":
		return "INVALID_ENUM_VALUE"
	case "string_gte":
		return "MIN_LENGTH_VIOLATION"
	case "string_lte":
		return "MAX_LENGTH_VIOLATION"
	case "pattern":
		return "PATTERN_MISMATCH"
	case "additional_property_not_allowed":
		return "EXTRA_FIELD"
	case "number_gte", "number_lte", "number_gt", "number_lt":
		return "RANGE_VIOLATION"
	case "array_min_items", "array_max_items":
		return "ARRAY_LENGTH_VIOLATION"
	default:
		return "SCHEMA_VIOLATION"
	}
}

// Summary joins the errors into one line for logs and API responses.
func (r *ValidationResult) Summary() string {
	if r.Valid || len(r.Errors) == 0 {
		return ""
	}
	out := ""
	for i, e := range r.Errors {
		if i > 0 {
			out += "; "
		}
		out += e.Field + ": " + e.Message
	}
	return out
}
