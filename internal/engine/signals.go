package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/belief"
)

// AnswerScorer turns a free-text user reply into per-node belief signals.
// The reasoning service scores entailment per hypothesis; on failure a
// lexical heuristic over the quick options and sentiment keywords keeps the
// update moving.
type AnswerScorer struct {
	reasoner schemas.Reasoner
	logger   *zap.Logger
}

// NewAnswerScorer builds the scorer.
func NewAnswerScorer(reasoner schemas.Reasoner, logger *zap.Logger) *AnswerScorer {
	return &AnswerScorer{reasoner: reasoner, logger: logger.Named("answer_scorer")}
}

type answerSignal struct {
	Index       int     `json:"index"`
	Support     float64 `json:"support"`
	Specificity float64 `json:"specificity"`
	Novelty     float64 `json:"novelty"`
}

type answerResponse struct {
	Signals []answerSignal `json:"signals"`
}

// Score maps the reply onto signals for every active node. The model scores
// by index into the active list, which keeps hallucinated node ids out of
// the update path.
func (a *AnswerScorer) Score(ctx context.Context, bs *belief.State, question, answer string, targets []schemas.WireNode) []belief.Signal {
	active := bs.Active()
	var sb strings.Builder
	for k, i := range active {
		fmt.Fprintf(&sb, "%d. %s", k, bs.Nodes[i].Text)
		if len(bs.Nodes[i].Supports) > 0 {
			fmt.Fprintf(&sb, " (known: %s)", strings.Join(bs.Nodes[i].Supports, "; "))
		}
		sb.WriteString("\n")
	}

	raw, err := a.reasoner.Complete(ctx, schemas.CompletionRequest{
		SystemPrompt:   answerSystemPrompt,
		UserPrompt:     fmt.Sprintf(answerUserPromptTemplate, question, answer, sb.String()),
		Tier:           schemas.TierFast,
		ResponseSchema: answerResponseSchema,
	})
	if err != nil {
		a.logger.Warn("Answer scoring failed, using lexical heuristic", zap.Error(err))
		return lexicalSignals(bs, answer, targets)
	}

	var parsed answerResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Signals) == 0 {
		a.logger.Warn("Unparseable answer scoring response, using lexical heuristic", zap.Error(err))
		return lexicalSignals(bs, answer, targets)
	}

	var out []belief.Signal
	for _, s := range parsed.Signals {
		if s.Index < 0 || s.Index >= len(active) {
			continue
		}
		out = append(out, belief.Signal{
			NodeID:      bs.Nodes[active[s.Index]].ID,
			Support:     clampUnit(s.Support, -1, 1),
			Specificity: clampUnit(s.Specificity, 0, 1),
			Novelty:     clampUnit(s.Novelty, 0, 1),
		})
	}
	if len(out) == 0 {
		return lexicalSignals(bs, answer, targets)
	}
	return out
}

var (
	positiveKeywords = []string{"yes", "exactly", "definitely", "absolutely", "that's right"}
	negativeKeywords = []string{"no", "not really", "disagree", "wrong", "not quite"}
)

// lexicalSignals is the deterministic fallback: quick-option matching against
// the question's targets, then coarse sentiment over the whole active set.
func lexicalSignals(bs *belief.State, answer string, targets []schemas.WireNode) []belief.Signal {
	lower := strings.ToLower(answer)

	if len(targets) >= 2 {
		switch {
		case strings.Contains(lower, "first"):
			return []belief.Signal{
				{NodeID: targets[0].ID, Support: 0.8, Specificity: 0.7, Novelty: 0.5},
				{NodeID: targets[1].ID, Support: -0.3, Specificity: 0.5, Novelty: 0.3},
			}
		case strings.Contains(lower, "second"):
			return []belief.Signal{
				{NodeID: targets[1].ID, Support: 0.8, Specificity: 0.7, Novelty: 0.5},
				{NodeID: targets[0].ID, Support: -0.3, Specificity: 0.5, Novelty: 0.3},
			}
		case strings.Contains(lower, "both"):
			return []belief.Signal{
				{NodeID: targets[0].ID, Support: 0.3, Specificity: 0.4, Novelty: 0.3},
				{NodeID: targets[1].ID, Support: 0.3, Specificity: 0.4, Novelty: 0.3},
			}
		case strings.Contains(lower, "neither"):
			return []belief.Signal{
				{NodeID: targets[0].ID, Support: -0.6, Specificity: 0.5, Novelty: 0.4},
				{NodeID: targets[1].ID, Support: -0.6, Specificity: 0.5, Novelty: 0.4},
			}
		}
	}

	hasPositive := containsAny(lower, positiveKeywords)
	hasNegative := containsAny(lower, negativeKeywords)

	support := 0.0
	switch {
	case hasPositive && !hasNegative:
		support = 0.5
	case hasNegative && !hasPositive:
		support = -0.5
	case len(strings.Fields(answer)) > 20:
		// A long neutral reply is weak engagement with the leading theme.
		support = 0.15
	}
	if support == 0 {
		return nil
	}

	scope := targets
	if len(scope) == 0 {
		first, _, _, _ := bs.Top()
		if n := bs.Node(first); n != nil {
			scope = []schemas.WireNode{*n}
		}
	}
	var out []belief.Signal
	for _, n := range scope {
		out = append(out, belief.Signal{NodeID: n.ID, Support: support, Specificity: 0.4, Novelty: 0.4})
	}
	return out
}

func containsAny(s string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func clampUnit(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
