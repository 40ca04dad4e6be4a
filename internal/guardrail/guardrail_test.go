package guardrail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protolith/excavate/internal/config"
)

func TestCheckDistress(t *testing.T) {
	c := New(config.GuardrailConfig{})

	hits := []string{
		"I keep thinking I want to die",
		"sometimes I imagine I could KILL MYSELF",
		"I have been cutting again",
		"everything feels hopeless lately",
		"there is no point in any of this",
	}
	for _, text := range hits {
		assert.True(t, c.CheckDistress(text), text)
	}

	misses := []string{
		"work has been exhausting but I am managing",
		"my deadline is killing my free time",
		"I want to diet better this month",
		"the project died in review",
	}
	for _, text := range misses {
		assert.False(t, c.CheckDistress(text), text)
	}
}

func TestExtraDistressPatterns(t *testing.T) {
	c := New(config.GuardrailConfig{
		ExtraDistressPatterns: []string{`(?i)\bspiraling badly\b`},
	})

	assert.True(t, c.CheckDistress("I have been spiraling badly all week"))
	// Invalid patterns are skipped rather than breaking the checker.
	broken := New(config.GuardrailConfig{ExtraDistressPatterns: []string{`(`}})
	assert.False(t, broken.CheckDistress("an ordinary sentence"))
	assert.True(t, broken.CheckDistress("I want to die"))
}

func TestCheckQuestionBias(t *testing.T) {
	cases := []struct {
		question string
		biased   bool
	}{
		{"Which of these feels closer to what is underneath?", false},
		{"You should feel grateful for your job, right?", true},
		{"Obviously the real issue is your mentor, isn't it?", true},
		{"Does this happen always, with everyone?", true},
	}
	for _, tc := range cases {
		trips := CheckQuestionBias(tc.question)
		if tc.biased {
			assert.NotEmpty(t, trips, tc.question)
		} else {
			assert.Empty(t, trips, tc.question)
		}
	}
}

func TestCrisisResources(t *testing.T) {
	crisis := CrisisResources()
	require.NotNil(t, crisis)
	assert.NotEmpty(t, crisis.Message)
	assert.NotEmpty(t, crisis.Recommendation)
	require.NotEmpty(t, crisis.Resources)

	var names []string
	for _, r := range crisis.Resources {
		names = append(names, r.Name)
		assert.NotEmpty(t, r.Contact)
	}
	assert.Contains(t, names, "National Suicide Prevention Lifeline")
	assert.Contains(t, names, "Crisis Text Line")
}
