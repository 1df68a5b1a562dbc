package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
)

// Mode selects how missing fields are handled.
type Mode string

const (
	// ModeStrict rejects any record with a missing field.
	ModeStrict Mode = "strict"
	// ModeLenient fills missing fields from the schema defaults.
	ModeLenient Mode = "lenient"
)

// ParseMode reads a validation mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeStrict, "":
		return ModeStrict, nil
	case ModeLenient:
		return ModeLenient, nil
	}
	return "", fmt.Errorf("unknown validation mode %q", s)
}

// Issue is one field-level problem. Index is the list position, or -1.
type Issue struct {
	Index   int    `json:"index"`
	Field   string `json:"field,omitempty"`
	Problem string `json:"problem"`
}

func (i Issue) String() string {
	var loc string
	switch {
	case i.Index >= 0 && i.Field != "":
		loc = fmt.Sprintf("[%d].%s", i.Index, i.Field)
	case i.Index >= 0:
		loc = fmt.Sprintf("[%d]", i.Index)
	case i.Field != "":
		loc = i.Field
	default:
		loc = "output"
	}
	return loc + ": " + i.Problem
}

// SchemaValidationError reports output that does not conform to its schema.
type SchemaValidationError struct {
	Schema Kind
	Issues []Issue
}

func (e *SchemaValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.String()
	}
	return fmt.Sprintf("%s output invalid: %s", e.Schema, strings.Join(parts, "; "))
}

func (e *SchemaValidationError) ErrorKind() core.Kind { return core.KindSchemaValidation }

// Validator coerces raw model text into records.
type Validator struct {
	Mode Mode
}

// NewValidator returns a validator in the given mode.
func NewValidator(mode Mode) *Validator {
	return &Validator{Mode: mode}
}

// Validate parses raw and checks it against the schema for kind.
func (v *Validator) Validate(raw string, kind Kind) (Record, error) {
	if _, ok := schemas[elementKind(kind)]; !ok {
		return Record{}, fmt.Errorf("unknown output schema %q", kind)
	}

	value, err := extractJSON(raw)
	if err != nil {
		return Record{}, &SchemaValidationError{Schema: kind, Issues: []Issue{{Index: -1, Problem: err.Error()}}}
	}

	switch kind {
	case KindStaffingPlanList:
		return v.validateList(value, kind)
	default:
		obj, ok := value.(map[string]any)
		if !ok {
			return Record{}, &SchemaValidationError{Schema: kind, Issues: []Issue{{Index: -1, Problem: "expected a JSON object"}}}
		}
		normalized, repaired, issues := v.validateObject(obj, kind, -1)
		if len(issues) > 0 {
			return Record{}, &SchemaValidationError{Schema: kind, Issues: issues}
		}
		rec := Record{Kind: kind, Repaired: repaired}
		if err := decodeInto(normalized, kind, &rec); err != nil {
			return Record{}, err
		}
		return rec, nil
	}
}

func (v *Validator) validateList(value any, kind Kind) (Record, error) {
	var items []any
	switch t := value.(type) {
	case []any:
		items = t
	case map[string]any:
		items = []any{t}
	default:
		return Record{}, &SchemaValidationError{Schema: kind, Issues: []Issue{{Index: -1, Problem: "expected a JSON array of objects"}}}
	}
	if len(items) == 0 {
		return Record{}, &SchemaValidationError{Schema: kind, Issues: []Issue{{Index: -1, Problem: "list is empty"}}}
	}

	rec := Record{Kind: kind}
	var issues []Issue
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			issues = append(issues, Issue{Index: i, Problem: "expected a JSON object"})
			continue
		}
		normalized, repaired, itemIssues := v.validateObject(obj, KindStaffingPlan, i)
		issues = append(issues, itemIssues...)
		if len(itemIssues) > 0 {
			continue
		}
		for _, r := range repaired {
			rec.Repaired = append(rec.Repaired, fmt.Sprintf("[%d].%s", i, r))
		}
		var plan StaffingPlan
		if err := remarshal(normalized, &plan); err != nil {
			return Record{}, err
		}
		rec.Staffing = append(rec.Staffing, plan)
	}
	if len(issues) > 0 {
		return Record{}, &SchemaValidationError{Schema: kind, Issues: issues}
	}
	return rec, nil
}

// validateObject returns the coerced field map, the repaired field names
// and any issues. Extra fields are rejected regardless of mode.
func (v *Validator) validateObject(obj map[string]any, kind Kind, index int) (map[string]any, []string, []Issue) {
	known := declared(kind)
	var issues []Issue
	for _, key := range sortedKeys(obj) {
		if !known[key] {
			issues = append(issues, Issue{Index: index, Field: key, Problem: "undeclared field"})
		}
	}

	out := make(map[string]any, len(known))
	var repaired []string
	for _, f := range schemas[kind] {
		raw, present := obj[f.Name]
		if !present || raw == nil {
			if v.Mode == ModeLenient {
				out[f.Name] = f.Default
				repaired = append(repaired, f.Name)
				continue
			}
			issues = append(issues, Issue{Index: index, Field: f.Name, Problem: "missing required field"})
			continue
		}
		val, problem := coerce(f, raw)
		if problem != "" {
			issues = append(issues, Issue{Index: index, Field: f.Name, Problem: problem})
			continue
		}
		out[f.Name] = val
	}
	return out, repaired, issues
}

func coerce(f field, raw any) (any, string) {
	switch f.Type {
	case typeString:
		s, ok := raw.(string)
		if !ok {
			return nil, "expected string"
		}
		return s, ""
	case typeEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, "expected string"
		}
		for _, allowed := range f.Values {
			if strings.EqualFold(strings.TrimSpace(s), allowed) {
				return allowed, ""
			}
		}
		return nil, fmt.Sprintf("%q is not one of %s", s, strings.Join(f.Values, ", "))
	case typeCount:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, "expected integer"
		}
		if i, err := n.Int64(); err == nil {
			if i < 0 {
				return nil, "must be >= 0"
			}
			return i, ""
		}
		fl, err := n.Float64()
		if err != nil || fl != math.Trunc(fl) {
			return nil, "expected integer"
		}
		if fl < 0 {
			return nil, "must be >= 0"
		}
		return int64(fl), ""
	case typeUnit:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, "expected number"
		}
		fl, err := n.Float64()
		if err != nil {
			return nil, "expected number"
		}
		if fl < 0 || fl > 1 {
			return nil, "must be between 0 and 1"
		}
		return fl, ""
	case typeStringList:
		items, ok := raw.([]any)
		if !ok {
			return nil, "expected list of strings"
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			s, ok := it.(string)
			if !ok {
				return nil, "expected list of strings"
			}
			out = append(out, s)
		}
		return out, ""
	}
	return nil, "unsupported field type"
}

func decodeInto(fields map[string]any, kind Kind, rec *Record) error {
	switch kind {
	case KindSurgeReport:
		rec.Surge = new(SurgeReport)
		return remarshal(fields, rec.Surge)
	case KindStaffingPlan:
		var p StaffingPlan
		if err := remarshal(fields, &p); err != nil {
			return err
		}
		rec.Staffing = []StaffingPlan{p}
	case KindInventoryRequirement:
		rec.Inventory = new(InventoryRequirement)
		return remarshal(fields, rec.Inventory)
	case KindPatientAdvisory:
		rec.Advisory = new(PatientAdvisory)
		return remarshal(fields, rec.Advisory)
	}
	return nil
}

func remarshal(in map[string]any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

var errNoJSON = errors.New("no JSON value found in output")

// extractJSON finds the first JSON object or array in raw model text,
// tolerating markdown code fences and surrounding prose.
func extractJSON(raw string) (any, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, errors.New("output is empty")
	}
	if i := strings.Index(text, "```"); i >= 0 {
		body := text[i+3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		text = body
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, errNoJSON
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(text[start:])))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("malformed JSON: %v", err)
	}
	return v, nil
}
