// Package schemas describes tool parameters as JSON Schema and validates
// call arguments against them.
package schemas

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/errors"
)

// Parameter types.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Infer names the rule used to fill a parameter missing from a call.
type Infer string

const (
	InferNone          Infer = ""
	InferDate          Infer = "date"           // today/yesterday/tomorrow, ISO dates, weekdays
	InferTaskID        Infer = "task_id"        // explicit id, then active task, then most recent
	InferPriority      Infer = "priority"       // low, medium, high, urgent
	InferStatus        Infer = "status"         // pending, in_progress, completed
	InferText          Infer = "text"           // Pattern capture, then first quoted phrase
	InferActiveSession Infer = "active_session" // the running timer session
)

// Param is one declared parameter.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Enum        []string
	Min         *float64
	Max         *float64
	Format      string // "date" for YYYY-MM-DD strings
	Pattern     *regexp.Regexp
	Infer       Infer
	Filter      bool // read-only query filter; inferred even when optional
}

// ParamOption customises a parameter.
type ParamOption func(*Param)

// Enum restricts a string parameter to values.
func Enum(values ...string) ParamOption {
	return func(p *Param) { p.Enum = values }
}

// Range bounds a numeric parameter, inclusive.
func Range(lo, hi float64) ParamOption {
	return func(p *Param) {
		p.Min = &lo
		p.Max = &hi
	}
}

// DateFormat marks a string parameter as a YYYY-MM-DD date.
func DateFormat() ParamOption {
	return func(p *Param) { p.Format = "date" }
}

// Pattern declares the regexp used to extract the value from the user
// message. The first capture group is the value.
func Pattern(re *regexp.Regexp) ParamOption {
	return func(p *Param) { p.Pattern = re }
}

// Inferred sets the inference rule.
func Inferred(rule Infer) ParamOption {
	return func(p *Param) { p.Infer = rule }
}

// Filter marks an optional parameter as a read-only query filter. Only
// required parameters and filters are filled by inference.
func Filter() ParamOption {
	return func(p *Param) { p.Filter = true }
}

// Inferable reports whether a missing value may be filled from context.
func (p Param) Inferable() bool {
	return p.Infer != InferNone && (p.Required || p.Filter)
}

// Schema defines a tool's parameters.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	params []Param
}

// SchemaBuilder provides a fluent interface for building tool schemas.
type SchemaBuilder struct {
	schema *Schema
}

// NewSchema creates a new schema builder with the given name and description.
func NewSchema(name, description string) *SchemaBuilder {
	return &SchemaBuilder{
		schema: &Schema{Name: name, Description: description},
	}
}

// AddParam adds a parameter to the schema.
func (b *SchemaBuilder) AddParam(name, paramType, description string, required bool, opts ...ParamOption) *SchemaBuilder {
	p := Param{Name: name, Type: paramType, Description: description, Required: required}
	for _, opt := range opts {
		opt(&p)
	}
	b.schema.params = append(b.schema.params, p)
	return b
}

// AddParamWithEnum adds a parameter with an enum constraint.
func (b *SchemaBuilder) AddParamWithEnum(name, paramType, description string, enum []string, required bool, opts ...ParamOption) *SchemaBuilder {
	return b.AddParam(name, paramType, description, required, append([]ParamOption{Enum(enum...)}, opts...)...)
}

// Build returns the constructed schema.
func (b *SchemaBuilder) Build() *Schema {
	s := b.schema
	props := make(map[string]any, len(s.params))
	required := make([]string, 0)
	for _, p := range s.params {
		def := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			def["enum"] = p.Enum
		}
		if p.Min != nil {
			def["minimum"] = *p.Min
		}
		if p.Max != nil {
			def["maximum"] = *p.Max
		}
		if p.Format != "" {
			def["format"] = p.Format
		}
		if p.Pattern != nil {
			def["x-extract-pattern"] = p.Pattern.String()
		}
		if p.Infer != InferNone {
			def["x-inferred"] = string(p.Infer)
		}
		props[p.Name] = def
		if p.Required {
			required = append(required, p.Name)
		}
	}
	s.Parameters = map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
	return s
}

// Params returns the declared parameters in declaration order.
func (s *Schema) Params() []Param {
	return s.params
}

// Param looks up a parameter by name.
func (s *Schema) Param(name string) (Param, bool) {
	for _, p := range s.params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Required lists the required parameter names.
func (s *Schema) Required() []string {
	var out []string
	for _, p := range s.params {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// ToJSON returns the schema as indented JSON.
func (s *Schema) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Validate checks args against the schema: required fields present,
// types, enum membership, numeric ranges and date format. Integral JSON
// numbers are normalised to int in place. Unknown arguments are ignored.
func (s *Schema) Validate(args map[string]any) error {
	for _, p := range s.params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				return fieldError(p.Name, "missing required field %q", p.Name)
			}
			continue
		}

		norm, err := checkType(p, v)
		if err != nil {
			return err
		}
		args[p.Name] = norm

		if err := checkConstraints(p, norm); err != nil {
			return err
		}
	}
	return nil
}

func checkType(p Param, v any) (any, error) {
	switch p.Type {
	case TypeString:
		if s, ok := v.(string); ok {
			if p.Required && strings.TrimSpace(s) == "" {
				return nil, fieldError(p.Name, "field %q must not be empty", p.Name)
			}
			return s, nil
		}
	case TypeInteger:
		if n, ok := toFloat(v); ok && n == math.Trunc(n) {
			return int(n), nil
		}
	case TypeNumber:
		if n, ok := toFloat(v); ok {
			return n, nil
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeArray:
		if a, ok := v.([]any); ok {
			return a, nil
		}
	case TypeObject:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	default:
		return v, nil
	}
	return nil, fieldError(p.Name, "field %q must be %s, got %T", p.Name, p.Type, v)
}

func checkConstraints(p Param, v any) error {
	if len(p.Enum) > 0 {
		s, _ := v.(string)
		if !contains(p.Enum, s) {
			return fieldError(p.Name, "field %q must be one of [%s], got %q", p.Name, strings.Join(p.Enum, ", "), s)
		}
	}

	if p.Min != nil || p.Max != nil {
		n, _ := toFloat(v)
		if p.Min != nil && n < *p.Min {
			return fieldError(p.Name, "field %q must be >= %v, got %v", p.Name, *p.Min, v)
		}
		if p.Max != nil && n > *p.Max {
			return fieldError(p.Name, "field %q must be <= %v, got %v", p.Name, *p.Max, v)
		}
	}

	if p.Format == "date" {
		if s, _ := v.(string); !isDate(s) {
			return fieldError(p.Name, "field %q must be a YYYY-MM-DD date, got %q", p.Name, s)
		}
	}
	return nil
}

func isDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func fieldError(field, format string, args ...any) error {
	return errors.NewBuilder(errors.KindValidation, fmt.Sprintf(format, args...)).
		WithContext("field", field).
		Build()
}

// Names returns the names of schemas, sorted.
func Names(list []*Schema) []string {
	names := make([]string, 0, len(list))
	for _, s := range list {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}
