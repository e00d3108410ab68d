package ml

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind tells how a questionnaire answer is collected and validated.
type Kind string

const (
	KindCount  Kind = "count"
	KindBinary Kind = "binary"
)

type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

type Field struct {
	Name  string `json:"name"`
	Kind  Kind   `json:"kind"`
	Range *Range `json:"range,omitempty"`
}

// Schema is the ordered list of answers one classifier expects.
type Schema struct {
	Condition string  `json:"condition"`
	Fields    []Field `json:"fields"`

	index map[string]int
}

// NewSchema builds a schema from the feature-name artifact. Names listed in
// numeric are counts, every other feature is a 0/1 indicator.
func NewSchema(condition string, names []string, numeric []string, ranges map[string]Range) (*Schema, error) {
	if condition == "" {
		return nil, errors.New("condition is required")
	}
	if len(names) == 0 {
		return nil, errors.New("feature names are empty")
	}
	index := make(map[string]int, len(names))
	fields := make([]Field, len(names))
	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("feature %d has a blank name", i)
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("duplicate feature %q", name)
		}
		index[name] = i
		fields[i] = Field{Name: name, Kind: KindBinary}
	}
	for _, name := range numeric {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("numeric field %q is not a feature", name)
		}
		fields[i].Kind = KindCount
	}
	for _, name := range sortedKeys(ranges) {
		r := ranges[name]
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("range given for unknown feature %q", name)
		}
		if fields[i].Kind != KindCount {
			return nil, fmt.Errorf("range given for binary feature %q", name)
		}
		if r.Min > r.Max {
			return nil, fmt.Errorf("feature %q: min %v above max %v", name, r.Min, r.Max)
		}
		fields[i].Range = &Range{Min: r.Min, Max: r.Max}
	}
	return &Schema{Condition: condition, Fields: fields, index: index}, nil
}

func (s *Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Vector is a feature vector in schema order.
type Vector struct {
	Names  []string
	Values []float64
}

// Key encodes the values so equal vectors of one schema share a key.
func (v Vector) Key() string {
	var b strings.Builder
	for i, value := range v.Values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(value, 'g', -1, 64))
	}
	return b.String()
}

func sortedKeys(m map[string]Range) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
