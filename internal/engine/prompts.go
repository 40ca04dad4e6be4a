package engine

import "encoding/json"

// System prompts and response schemas for the three reasoning-service call
// sites. Every call requests structured JSON; free-form prose is never parsed.

const seedSystemPrompt = `You are an analyst identifying the root issues beneath a journal entry.
Focus on underlying themes rather than surface symptoms. Each hypothesis must be
a concise statement of one to two sentences, distinct from the others, and
testable through follow-up questions.`

const seedUserPromptTemplate = `Analyze this journal entry and identify 2 to 4 potential root issues
(crux hypotheses) that might be the main thing troubling the writer.

Journal entry:
%s

For each hypothesis provide the statement and one short supporting quote or
paraphrase from the text.`

var seedResponseSchema = json.RawMessage(`{
  "type": "OBJECT",
  "properties": {
    "hypotheses": {
      "type": "ARRAY",
      "items": {
        "type": "OBJECT",
        "properties": {
          "text": {"type": "STRING"},
          "support": {"type": "STRING"}
        },
        "required": ["text"]
      }
    }
  },
  "required": ["hypotheses"]
}`)

const questionSystemPrompt = `You phrase contrastive Socratic questions for a reflective journaling tool.
Questions must probe rather than lead: no prescriptive language (should, ought,
must), no leading qualifiers (obviously, clearly), no absolutes (always, never).`

const questionUserPromptTemplate = `Generate one contrastive question that helps distinguish between these
hypotheses about the journal entry.

Journal entry (excerpt): %s

Target hypotheses:
%s

Previously asked:
%s

The question should elicit specific evidence or reflection and must not repeat
a previous question.`

var questionResponseSchema = json.RawMessage(`{
  "type": "OBJECT",
  "properties": {
    "question": {"type": "STRING"},
    "quick_options": {
      "type": "ARRAY",
      "items": {"type": "STRING"}
    }
  },
  "required": ["question"]
}`)

const answerSystemPrompt = `You score how a free-text answer bears on each candidate hypothesis.
For every hypothesis report support in [-1, 1] (positive confirms, negative
contradicts, zero unrelated), specificity in [0, 1] (how directly the answer
addresses this hypothesis), and novelty in [0, 1] (how much is new relative to
the listed known snippets).`

const answerUserPromptTemplate = `Question asked: %s

User's answer: %s

Hypotheses (score each by its index):
%s`

var answerResponseSchema = json.RawMessage(`{
  "type": "OBJECT",
  "properties": {
    "signals": {
      "type": "ARRAY",
      "items": {
        "type": "OBJECT",
        "properties": {
          "index": {"type": "INTEGER"},
          "support": {"type": "NUMBER"},
          "specificity": {"type": "NUMBER"},
          "novelty": {"type": "NUMBER"}
        },
        "required": ["index", "support"]
      }
    }
  },
  "required": ["signals"]
}`)

const spawnSystemPrompt = `You suggest one additional root-issue hypothesis for a journal entry,
exploring an angle the existing hypotheses do not cover. One to two sentences.`

const spawnUserPromptTemplate = `Journal entry (excerpt): %s

Current hypotheses:
%s

Provide one new hypothesis exploring a different angle.`

var spawnResponseSchema = json.RawMessage(`{
  "type": "OBJECT",
  "properties": {
    "text": {"type": "STRING"}
  },
  "required": ["text"]
}`)

const quoteSystemPrompt = `You extract the single short quote from a journal entry that bears most
directly on the given hypothesis. Return the quote verbatim.`

const quoteUserPromptTemplate = `Journal entry:
%s

Hypothesis: %s`

var quoteResponseSchema = json.RawMessage(`{
  "type": "OBJECT",
  "properties": {
    "quote": {"type": "STRING"},
    "supports": {"type": "BOOLEAN"}
  },
  "required": ["quote"]
}`)

// Scripted fallbacks keep the loop moving when the reasoning service fails.

var fallbackHypotheses = []string{
	"There may be an underlying fear or anxiety driving the situation",
	"This could relate to unmet expectations or goals",
	"There might be a pattern of avoidance or resistance at play",
	"This situation may reflect deeper values or identity conflicts",
}

const genericHypothesis = "Unspecified inner conflict or challenge"

var fallbackQuestions = []string{
	"Can you tell me more about what specifically makes this situation difficult for you?",
	"What emotions or feelings come up most strongly when you think about this?",
	"When did you first notice this pattern or issue starting?",
	"What would happen if you tried to change this situation?",
	"How do you think others might view this situation differently than you do?",
	"What aspects of this feel most urgent or pressing to address?",
}

var defaultQuickOptions = []string{"First option", "Second option", "Both equally", "Neither"}
