// Package guardrail implements the safety short-circuit for the excavation
// loop. It screens the original input text and every user reply for distress
// indicators, and screens generated questions for leading or prescriptive
// phrasing. A distress hit forces an immediate guardrail stop that takes
// priority over every other termination predicate.
package guardrail

import (
	"regexp"

	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/config"
)

var distressPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(suicide|suicidal|kill myself|end my life|want to die)\b`),
	regexp.MustCompile(`(?i)\b(self.?harm|hurt myself|cutting|overdose)\b`),
	regexp.MustCompile(`(?i)\b(hopeless|no point|give up|can't go on)\b`),
	regexp.MustCompile(`(?i)\b(abuse|violence|threat)\b`),
}

var biasPatterns = []*regexp.Regexp{
	// Prescriptive language.
	regexp.MustCompile(`(?i)\b(should feel|ought to|must be)\b`),
	// Leading language.
	regexp.MustCompile(`(?i)\b(obviously|clearly|certainly)\b`),
	// Absolutist language.
	regexp.MustCompile(`(?i)\b(always|never|everyone|nobody)\b`),
}

// Checker screens text against the built-in pattern sets plus any configured
// extensions. The zero value is not usable; construct with New.
type Checker struct {
	distress []*regexp.Regexp
}

// New builds a Checker, compiling any extra distress patterns from config.
// Invalid extra patterns are skipped rather than failing startup.
func New(cfg config.GuardrailConfig) *Checker {
	c := &Checker{distress: distressPatterns}
	for _, p := range cfg.ExtraDistressPatterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			continue
		}
		c.distress = append(c.distress, re)
	}
	return c
}

// CheckDistress reports whether the text contains distress indicators.
func (c *Checker) CheckDistress(text string) bool {
	for _, re := range c.distress {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// CheckQuestionBias returns the bias patterns a generated question trips.
// Used to reject a phrased question in favor of the scripted fallback.
func CheckQuestionBias(question string) []string {
	var hits []string
	for _, re := range biasPatterns {
		if re.MatchString(question) {
			hits = append(hits, re.String())
		}
	}
	return hits
}

// CrisisResources returns the safety payload surfaced on a guardrail stop.
func CrisisResources() *schemas.CrisisResources {
	return &schemas.CrisisResources{
		Message: "Signs of distress were detected in your writing. Your safety and wellbeing are important.",
		Resources: []schemas.CrisisResource{
			{
				Name:        "National Suicide Prevention Lifeline",
				Contact:     "988",
				Description: "24/7 crisis support",
			},
			{
				Name:        "Crisis Text Line",
				Contact:     "Text HOME to 741741",
				Description: "24/7 text-based crisis support",
			},
		},
		Recommendation: "Please consider reaching out to a mental health professional or a trusted person in your life.",
	}
}
