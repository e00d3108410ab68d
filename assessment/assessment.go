// Package assessment runs a questionnaire submission through both condition
// classifiers and the threshold policy.
package assessment

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"cyclescreen/policy"
)

// Request carries the answers of one submission keyed by condition key, then
// by feature name.
type Request struct {
	Answers  map[string]map[string]float64 `json:"answers" validate:"required"`
	Language string                        `json:"lang,omitempty" validate:"omitempty,bcp47_language_tag"`
}

var requestValidate = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (r *Request) Validate() error {
	return requestValidate.Struct(r)
}

// ConditionResult is the classifier outcome for one condition.
type ConditionResult struct {
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	Label       int     `json:"label"`
	Probability float64 `json:"probability"`
}

type Assessment struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Results   []ConditionResult `json:"results"`
	Variant   policy.Variant    `json:"variant"`
	Category  policy.Category   `json:"category"`
	Message   string            `json:"message"`
	Summary   []string          `json:"summary"`
	Language  string            `json:"lang"`
}

// Event is the live-feed view of an assessment. It never carries answers.
type Event struct {
	ID            string             `json:"id"`
	CreatedAt     time.Time          `json:"created_at"`
	Category      policy.Category    `json:"category"`
	Variant       policy.Variant     `json:"variant"`
	Probabilities map[string]float64 `json:"probabilities"`
}

func (a *Assessment) Event() Event {
	probs := make(map[string]float64, len(a.Results))
	for _, r := range a.Results {
		probs[r.Key] = r.Probability
	}
	return Event{
		ID:            a.ID,
		CreatedAt:     a.CreatedAt,
		Category:      a.Category,
		Variant:       a.Variant,
		Probabilities: probs,
	}
}
