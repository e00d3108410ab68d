package assessment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"

	"cyclescreen/policy"
)

func TestMatchLanguage(t *testing.T) {
	assert.Equal(t, language.English, MatchLanguage())
	assert.Equal(t, language.English, MatchLanguage("", "fr-FR"))
	assert.Equal(t, language.Hindi, MatchLanguage("hi"))
	assert.Equal(t, language.Hindi, MatchLanguage("", "hi-IN,en;q=0.5"))
	assert.Equal(t, language.English, MatchLanguage("en-GB", "hi"))
}

func TestRenderHindi(t *testing.T) {
	a := &Assessment{
		Category: policy.BLikely,
		Results: []ConditionResult{
			{Key: "pcod", Name: "PCOD", Label: 0, Probability: 0.2},
			{Key: "pcos", Name: "PCOS", Label: 1, Probability: 0.657},
		},
	}
	render(a, language.Hindi)

	assert.Equal(t, "hi", a.Language)
	assert.Len(t, a.Summary, 3)
	assert.Equal(t, "PCOS पूर्वानुमान: हाँ (1) | संभावना: 0.66", a.Summary[1])
	assert.True(t, strings.Contains(a.Message, "PCOS"))
	assert.Equal(t, a.Message, a.Summary[2])
}
