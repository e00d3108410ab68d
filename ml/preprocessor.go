package ml

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	ReasonMissing       = "missing"
	ReasonNotBinary     = "not_binary"
	ReasonOutOfRange    = "out_of_range"
	ReasonInvalidNumber = "invalid_number"
	ReasonUnknown       = "unknown"
)

type FieldError struct {
	Condition string `json:"condition"`
	Field     string `json:"field,omitempty"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

func (e FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Condition, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s", e.Condition, e.Field, e.Message)
}

// ValidationError collects every problem found in one submission.
type ValidationError struct {
	Errors []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return "invalid input: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Add(fe FieldError) {
	e.Errors = append(e.Errors, fe)
}

// Build checks values against the schema and returns them in schema order.
// Every failing field is reported, not only the first.
func (s *Schema) Build(values map[string]float64) (Vector, error) {
	verr := &ValidationError{}
	vec := Vector{
		Names:  s.Names(),
		Values: make([]float64, len(s.Fields)),
	}
	for i, field := range s.Fields {
		value, ok := values[field.Name]
		if !ok {
			verr.Add(s.fieldError(field.Name, ReasonMissing, "answer is required"))
			continue
		}
		if fe, bad := s.check(field, value); bad {
			verr.Add(fe)
			continue
		}
		vec.Values[i] = value
	}
	unknown := make([]string, 0)
	for name := range values {
		if _, ok := s.index[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		verr.Add(s.fieldError(name, ReasonUnknown, "not a question for this condition"))
	}
	if len(verr.Errors) > 0 {
		return Vector{}, verr
	}
	return vec, nil
}

// check reports NaN and infinities as invalid_number for every kind; the range
// rules only see finite values.
func (s *Schema) check(field Field, value float64) (FieldError, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return s.fieldError(field.Name, ReasonInvalidNumber, "answer must be a number"), true
	}
	switch field.Kind {
	case KindBinary:
		if value != 0 && value != 1 {
			return s.fieldError(field.Name, ReasonNotBinary, "answer must be 0 or 1"), true
		}
	case KindCount:
		if value < 0 || value != math.Trunc(value) {
			return s.fieldError(field.Name, ReasonOutOfRange, "answer must be a whole number of zero or more"), true
		}
		if r := field.Range; r != nil && (value < r.Min || value > r.Max) {
			return s.fieldError(field.Name, ReasonOutOfRange,
				fmt.Sprintf("answer must be between %s and %s", formatBound(r.Min), formatBound(r.Max))), true
		}
	}
	return FieldError{}, false
}

func (s *Schema) fieldError(field, reason, message string) FieldError {
	return FieldError{Condition: s.Condition, Field: field, Reason: reason, Message: message}
}

// ParseForm reads "<prefix>.<feature>" values. Blank answers are left out so
// Build reports them as missing; unparsable ones become NaN.
func (s *Schema) ParseForm(form url.Values, prefix string) map[string]float64 {
	values := make(map[string]float64, len(s.Fields))
	for _, field := range s.Fields {
		raw := strings.TrimSpace(form.Get(prefix + "." + field.Name))
		if raw == "" {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			value = math.NaN()
		}
		values[field.Name] = value
	}
	return values
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
