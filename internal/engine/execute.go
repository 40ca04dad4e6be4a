package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/belief"
	"github.com/protolith/excavate/internal/config"
	"github.com/protolith/excavate/internal/guardrail"
)

const inputExcerptLen = 500

// Executor runs the chosen action. The dispatch over action kinds is
// exhaustive; an unknown kind is a programming error, not a runtime lookup
// miss. AskUser pauses the loop; every other kind produces one evidence
// record immediately. A reasoning-service failure inside an internal action
// degrades to a deterministic fallback, never to a turn-level error.
type Executor struct {
	cfg      config.EngineConfig
	reasoner schemas.Reasoner
	guard    *guardrail.Checker
	updater  *belief.Updater
	logger   *zap.Logger
}

// NewExecutor builds the executor.
func NewExecutor(cfg config.EngineConfig, reasoner schemas.Reasoner, guard *guardrail.Checker, updater *belief.Updater, logger *zap.Logger) *Executor {
	return &Executor{cfg: cfg, reasoner: reasoner, guard: guard, updater: updater, logger: logger.Named("executor")}
}

// Execute runs the action against the belief state. The returned evidence is
// nil exactly when the action pauses for user input. The action may be
// mutated in place (AskUser gets its phrased question).
func (e *Executor) Execute(ctx context.Context, action *schemas.Action, bs *belief.State, st *schemas.WireState, sim belief.SimilarityFunc) (*schemas.Evidence, error) {
	switch action.Kind {
	case schemas.ActionAskUser:
		e.phraseQuestion(ctx, action, bs, st)
		return nil, nil
	case schemas.ActionHypothesize:
		return e.executeHypothesize(ctx, bs, st, action), nil
	case schemas.ActionClusterThemes:
		return e.executeClusterThemes(bs, st, action, sim), nil
	case schemas.ActionCounterfactual:
		return e.executeCounterfactual(ctx, bs, st, action), nil
	case schemas.ActionEvidenceRequest:
		return e.executeEvidenceRequest(ctx, bs, st, action), nil
	case schemas.ActionSilenceCheck:
		return e.executeSilenceCheck(st, action), nil
	case schemas.ActionConfidenceUpdate:
		return e.executeConfidenceUpdate(bs, st, action), nil
	case schemas.ActionStop:
		// Stop is handled by the orchestrator before dispatch.
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

type questionResponse struct {
	Question     string   `json:"question"`
	QuickOptions []string `json:"quick_options"`
}

// phraseQuestion fills in the AskUser question text. The reasoning service
// phrases a contrastive question against the targeted hypotheses; on failure
// the first unused scripted question is substituted. A phrased question that
// trips the bias patterns is discarded for the scripted fallback.
func (e *Executor) phraseQuestion(ctx context.Context, action *schemas.Action, bs *belief.State, st *schemas.WireState) {
	var targets []string
	for _, id := range action.TargetIDs {
		if n := bs.Node(id); n != nil {
			targets = append(targets, "- "+n.Text)
		}
	}

	asked := previousQuestions(st)
	prev := "None"
	if len(asked) > 0 {
		prev = "- " + strings.Join(asked, "\n- ")
	}

	raw, err := e.reasoner.Complete(ctx, schemas.CompletionRequest{
		SystemPrompt:   questionSystemPrompt,
		UserPrompt:     fmt.Sprintf(questionUserPromptTemplate, excerpt(st.InputText), strings.Join(targets, "\n"), prev),
		Tier:           schemas.TierFast,
		ResponseSchema: questionResponseSchema,
	})
	if err == nil {
		var parsed questionResponse
		if jsonErr := json.Unmarshal(raw, &parsed); jsonErr == nil && strings.TrimSpace(parsed.Question) != "" {
			q := strings.TrimSpace(parsed.Question)
			if biases := guardrail.CheckQuestionBias(q); len(biases) > 0 {
				e.logger.Warn("Phrased question tripped bias patterns, using scripted question",
					zap.Strings("patterns", biases))
			} else {
				action.Question = q
				if len(parsed.QuickOptions) > 0 {
					action.QuickOptions = parsed.QuickOptions
				}
				return
			}
		}
	} else {
		e.logger.Warn("Question phrasing failed, using scripted question", zap.Error(err))
	}

	action.Question = scriptedQuestion(asked)
}

type spawnResponse struct {
	Text string `json:"text"`
}

func (e *Executor) executeHypothesize(ctx context.Context, bs *belief.State, st *schemas.WireState, action *schemas.Action) *schemas.Evidence {
	var existing []string
	for _, i := range bs.Active() {
		existing = append(existing, "- "+bs.Nodes[i].Text)
	}

	text := ""
	raw, err := e.reasoner.Complete(ctx, schemas.CompletionRequest{
		SystemPrompt:   spawnSystemPrompt,
		UserPrompt:     fmt.Sprintf(spawnUserPromptTemplate, excerpt(st.InputText), strings.Join(existing, "\n")),
		Tier:           schemas.TierPowerful,
		ResponseSchema: spawnResponseSchema,
	})
	if err == nil {
		var parsed spawnResponse
		if jsonErr := json.Unmarshal(raw, &parsed); jsonErr == nil {
			text = strings.TrimSpace(parsed.Text)
		}
	}
	if text == "" {
		e.logger.Warn("Hypothesis spawn failed, recording null evidence", zap.Error(err))
		return e.record(st, action, schemas.EvidencePattern, map[string]string{"spawned": "0"})
	}
	if len(text) > maxHypothesisTextLen {
		text = text[:maxHypothesisTextLen]
	}

	// A spawned node enters below the uniform share so it has to earn mass.
	bs.Nodes = append(bs.Nodes, schemas.WireNode{
		ID:      uuid.New(),
		Text:    text,
		LogOdds: -0.5,
		Status:  schemas.NodeActive,
	})
	bs.Renormalize()

	return e.record(st, action, schemas.EvidencePattern, map[string]string{
		"spawned":        "1",
		"new_hypothesis": text,
	})
}

func (e *Executor) executeClusterThemes(bs *belief.State, st *schemas.WireState, action *schemas.Action, sim belief.SimilarityFunc) *schemas.Evidence {
	merged := e.updater.MergePass(bs, sim)
	return e.record(st, action, schemas.EvidencePattern, map[string]string{
		"merged_nodes": strconv.Itoa(merged),
	})
}

// executeCounterfactual probes whether the leading hypothesis is a standing
// trait or a reaction to the current situation, by checking the evidence log
// for signals that predate the triggering entry.
func (e *Executor) executeCounterfactual(ctx context.Context, bs *belief.State, st *schemas.WireState, action *schemas.Action) *schemas.Evidence {
	first, firstP, _, _ := bs.Top()
	node := bs.Node(first)
	if node == nil {
		return e.record(st, action, schemas.EvidenceTestResult, map[string]string{"verdict": "inconclusive"})
	}

	// More recorded support than counters reads as a persistent trait and
	// strengthens the leader; the reverse weakens it.
	verdict := "inconclusive"
	support := 0.0
	if len(node.Supports) > len(node.Counters) {
		verdict = "persistent"
		support = 0.4
	} else if len(node.Counters) > len(node.Supports) {
		verdict = "situational"
		support = -0.4
	}
	if support != 0 {
		e.updater.Apply(bs, []belief.Signal{{NodeID: first, Support: support, Specificity: 0.6, Novelty: 0.4}}, "")
	}

	return e.record(st, action, schemas.EvidenceTestResult, map[string]string{
		"test":       action.TestSpec,
		"target":     node.Text,
		"verdict":    verdict,
		"confidence": fmt.Sprintf("%.2f", firstP),
	})
}

type quoteResponse struct {
	Quote    string `json:"quote"`
	Supports bool   `json:"supports"`
}

func (e *Executor) executeEvidenceRequest(ctx context.Context, bs *belief.State, st *schemas.WireState, action *schemas.Action) *schemas.Evidence {
	first, _, _, _ := bs.Top()
	node := bs.Node(first)
	if node == nil {
		return e.record(st, action, schemas.EvidenceEntryQuote, map[string]string{"quote": ""})
	}

	quote := ""
	supports := true
	raw, err := e.reasoner.Complete(ctx, schemas.CompletionRequest{
		SystemPrompt:   quoteSystemPrompt,
		UserPrompt:     fmt.Sprintf(quoteUserPromptTemplate, st.InputText, node.Text),
		Tier:           schemas.TierFast,
		ResponseSchema: quoteResponseSchema,
	})
	if err == nil {
		var parsed quoteResponse
		if jsonErr := json.Unmarshal(raw, &parsed); jsonErr == nil {
			quote = strings.TrimSpace(parsed.Quote)
			supports = parsed.Supports
		}
	}
	if quote == "" {
		// Degraded path: take the opening of the entry as a weak neutral quote.
		quote = excerpt(st.InputText)
		e.logger.Warn("Quote extraction failed, using entry excerpt", zap.Error(err))
		return e.record(st, action, schemas.EvidenceEntryQuote, map[string]string{"quote": quote, "bearing": "neutral"})
	}

	sig := belief.Signal{NodeID: first, Support: 0.4, Specificity: 0.7, Novelty: 0.6}
	bearing := "supports"
	if !supports {
		sig.Support = -0.3
		bearing = "counters"
	}
	e.updater.Apply(bs, []belief.Signal{sig}, quote)

	return e.record(st, action, schemas.EvidenceEntryQuote, map[string]string{
		"quote":   quote,
		"target":  node.Text,
		"bearing": bearing,
	})
}

func (e *Executor) executeSilenceCheck(st *schemas.WireState, action *schemas.Action) *schemas.Evidence {
	// Synthetic record: the absence of new signal is itself an observation.
	return e.record(st, action, schemas.EvidenceContextDatum, map[string]string{
		"signal": "none",
		"note":   "no new signal since last evidence",
	})
}

func (e *Executor) executeConfidenceUpdate(bs *belief.State, st *schemas.WireState, action *schemas.Action) *schemas.Evidence {
	bs.Renormalize()
	return e.record(st, action, schemas.EvidenceContextDatum, map[string]string{
		"confidence_update": "renormalized",
	})
}

func (e *Executor) record(st *schemas.WireState, action *schemas.Action, kind schemas.EvidenceKind, payload map[string]string) *schemas.Evidence {
	return &schemas.Evidence{
		ID:             uuid.New(),
		Kind:           kind,
		Payload:        payload,
		AtRevision:     st.Revision,
		SourceActionID: action.ID,
	}
}

func excerpt(text string) string {
	if len(text) <= inputExcerptLen {
		return text
	}
	return text[:inputExcerptLen] + "..."
}

func previousQuestions(st *schemas.WireState) []string {
	var out []string
	for _, ev := range st.Evidence {
		if ev.Kind == schemas.EvidenceUserAnswer {
			if q, ok := ev.Payload["question"]; ok && q != "" {
				out = append(out, q)
			}
		}
	}
	if st.LastAction != nil && st.LastAction.Kind == schemas.ActionAskUser && st.LastAction.Question != "" {
		out = append(out, st.LastAction.Question)
	}
	return out
}

func scriptedQuestion(asked []string) string {
	used := make(map[string]bool, len(asked))
	for _, q := range asked {
		used[q] = true
	}
	for _, q := range fallbackQuestions {
		if !used[q] {
			return q
		}
	}
	return "What other aspects of this situation feel important to explore?"
}
