package assessment

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"cyclescreen/policy"
)

const (
	msgPrediction   = "%s prediction: %s | Probability: %.2f"
	msgYes          = "Yes (1)"
	msgNo           = "No (0)"
	msgUnlikely     = "You are unlikely to have either %s or %s."
	msgMoreLikely   = "You are more likely to have %s."
	msgBothPossible = "There is a possibility of both %s and %s."
	msgNoAction     = "Low risk for both %s and %s. No action needed."
	msgUrgent       = "High risk detected. Please consult a doctor as soon as possible."
	msgCheckup      = "Moderate risk. Consider scheduling a checkup."
)

// Supported lists the catalog languages; the first one is the fallback.
var Supported = []language.Tag{language.English, language.Hindi}

var matcher = language.NewMatcher(Supported)

func init() {
	hi := language.Hindi
	for key, text := range map[string]string{
		msgPrediction:   "%s पूर्वानुमान: %s | संभावना: %.2f",
		msgYes:          "हाँ (1)",
		msgNo:           "नहीं (0)",
		msgUnlikely:     "आपको %s या %s होने की संभावना कम है।",
		msgMoreLikely:   "आपको %s होने की अधिक संभावना है।",
		msgBothPossible: "%s और %s दोनों की संभावना है।",
		msgNoAction:     "%s और %s दोनों का जोखिम कम है। किसी कार्रवाई की आवश्यकता नहीं है।",
		msgUrgent:       "उच्च जोखिम पाया गया। कृपया जल्द से जल्द डॉक्टर से परामर्श लें।",
		msgCheckup:      "मध्यम जोखिम। जाँच करवाने पर विचार करें।",
	} {
		if err := message.SetString(hi, key, text); err != nil {
			panic(err)
		}
	}
}

// MatchLanguage picks the best catalog language for the given preferences.
// Each preference may be a tag or a full Accept-Language header value.
func MatchLanguage(preferences ...string) language.Tag {
	var tags []language.Tag
	for _, pref := range preferences {
		if strings.TrimSpace(pref) == "" {
			continue
		}
		parsed, _, err := language.ParseAcceptLanguage(pref)
		if err != nil {
			continue
		}
		tags = append(tags, parsed...)
	}
	if len(tags) == 0 {
		return Supported[0]
	}
	_, idx, _ := matcher.Match(tags...)
	return Supported[idx]
}

// render fills Summary and Message in the requested language.
func render(a *Assessment, tag language.Tag) {
	p := message.NewPrinter(tag)
	a.Language = tag.String()
	a.Summary = make([]string, 0, len(a.Results)+1)
	for _, r := range a.Results {
		answer := p.Sprintf(msgNo)
		if r.Label == 1 {
			answer = p.Sprintf(msgYes)
		}
		a.Summary = append(a.Summary, p.Sprintf(msgPrediction, r.Name, answer, r.Probability))
	}
	a.Message = recommendation(p, a.Category, a.Results[0].Name, a.Results[1].Name)
	a.Summary = append(a.Summary, a.Message)
}

func recommendation(p *message.Printer, c policy.Category, nameA, nameB string) string {
	switch c {
	case policy.Unlikely:
		return p.Sprintf(msgUnlikely, nameA, nameB)
	case policy.ALikely:
		return p.Sprintf(msgMoreLikely, nameA)
	case policy.BLikely:
		return p.Sprintf(msgMoreLikely, nameB)
	case policy.BothPossible:
		return p.Sprintf(msgBothPossible, nameA, nameB)
	case policy.NoAction:
		return p.Sprintf(msgNoAction, nameA, nameB)
	case policy.SeekCareUrgently:
		return p.Sprintf(msgUrgent)
	case policy.ConsiderCheckup:
		return p.Sprintf(msgCheckup)
	default:
		return string(c)
	}
}
