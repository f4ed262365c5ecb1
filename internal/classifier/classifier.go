// Package classifier scores how well a caption fits a creator persona.
package classifier

import (
	"context"
	"strings"

	"github.com/xaenox/sendplan/internal/models"
)

// NeutralFit is returned when there is nothing to compare against.
const NeutralFit = 50.0

// Classifier returns a persona-fit score in [0,100] for a caption.
type Classifier interface {
	PersonaFit(ctx context.Context, persona models.Persona, caption models.CaptionCandidate) float64
}

// KeywordClassifier scores persona fit by keyword and tone overlap.
type KeywordClassifier struct {
	// toneMarkers are words that signal a tone in caption text.
	toneMarkers map[string][]string
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		toneMarkers: map[string][]string{
			"playful":  {"hehe", "tease", "wink", "fun", "game", "guess", "😉", "😜"},
			"sultry":   {"tonight", "alone", "slow", "whisper", "close", "🔥"},
			"sweet":    {"babe", "miss", "love", "cuddle", "sweet", "💕"},
			"dominant": {"now", "obey", "kneel", "earn", "deserve"},
		},
	}
}

// PersonaFit returns the share of persona keywords found in the caption,
// blended with a tone match bonus. Personas without keywords or tone score
// NeutralFit.
func (c *KeywordClassifier) PersonaFit(_ context.Context, persona models.Persona, caption models.CaptionCandidate) float64 {
	text := strings.ToLower(caption.Text)
	markers := c.toneMarkers[strings.ToLower(persona.Tone)]
	if len(persona.Keywords) == 0 && len(markers) == 0 {
		return NeutralFit
	}

	keywordScore := NeutralFit
	if len(persona.Keywords) > 0 {
		hits := 0
		for _, k := range persona.Keywords {
			if k != "" && strings.Contains(text, strings.ToLower(k)) {
				hits++
			}
		}
		keywordScore = 100 * float64(hits) / float64(len(persona.Keywords))
	}

	toneScore := NeutralFit
	if len(markers) > 0 {
		toneScore = 0
		for _, m := range markers {
			if strings.Contains(text, m) {
				toneScore = 100
				break
			}
		}
	}
	return 0.7*keywordScore + 0.3*toneScore
}
