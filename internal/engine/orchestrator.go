// Package engine implements the excavation decision loop: belief seeding,
// action enumeration and scoring, execution, belief updates, and exit
// control, orchestrated into the stateless turn protocol.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/belief"
	"github.com/protolith/excavate/internal/config"
	"github.com/protolith/excavate/internal/guardrail"
	"github.com/protolith/excavate/internal/statecodec"
)

// Engine wires the loop components into one request/response cycle. It holds
// no mutable state across turns; the entire session lives in the WireState
// value threaded through each call.
type Engine struct {
	cfg      config.EngineConfig
	codec    *statecodec.Codec
	guard    *guardrail.Checker
	seeder   *Seeder
	enum     *Enumerator
	scorer   *Scorer
	executor *Executor
	answers  *AnswerScorer
	exits    *ExitController
	updater  *belief.Updater
	embedder schemas.Embedder
	logger   *zap.Logger
}

// New builds the engine. embedder may be nil; similarity then falls back to
// lexical comparison.
func New(cfg config.EngineConfig, guardCfg config.GuardrailConfig, reasoner schemas.Reasoner, embedder schemas.Embedder, logger *zap.Logger) *Engine {
	log := logger.Named("engine")
	guard := guardrail.New(guardCfg)
	updater := belief.NewUpdater(cfg)
	return &Engine{
		cfg:      cfg,
		codec:    statecodec.New(cfg.IntegrityKey),
		guard:    guard,
		seeder:   NewSeeder(cfg, reasoner, log),
		enum:     NewEnumerator(cfg),
		scorer:   NewScorer(cfg, updater),
		executor: NewExecutor(cfg, reasoner, guard, updater, log),
		answers:  NewAnswerScorer(reasoner, log),
		exits:    NewExitController(cfg),
		updater:  updater,
		embedder: embedder,
		logger:   log,
	}
}

// Init starts a new excavation from raw input text. It never returns a hard
// error for reasoning-service trouble; only the codec can fail it.
func (e *Engine) Init(ctx context.Context, inputText string) (*schemas.TurnResponse, error) {
	stateID := uuid.New()
	st := &schemas.WireState{
		StateID:   stateID,
		Revision:  0,
		Seed:      NewStateSeed(stateID),
		InputText: inputText,
	}

	if e.guard.CheckDistress(inputText) {
		e.logger.Warn("Distress detected in input text", zap.String("state_id", stateID.String()))
		// No reasoning call on the crisis path; a single generic node keeps
		// the emitted snapshot structurally valid.
		bs := &belief.State{Nodes: []schemas.WireNode{{
			ID:     uuid.New(),
			Text:   genericHypothesis,
			Status: schemas.NodeActive,
		}}}
		bs.Renormalize()
		return e.emit(st, bs, nil, e.finalizeCrisis(st))
	}

	bs := e.seeder.Seed(ctx, inputText, st.Seed)
	return e.runTurn(ctx, st, bs)
}

// Continue resumes an excavation from a round-tripped state, optionally
// folding in the user's reply to the pending question. Integrity, structure,
// and answer-target failures are hard errors; everything upstream degrades.
func (e *Engine) Continue(ctx context.Context, st *schemas.WireState, ev *schemas.UserEvent) (*schemas.TurnResponse, error) {
	if err := e.codec.Verify(*st); err != nil {
		return nil, err
	}
	if err := e.codec.ValidateStructure(st); err != nil {
		return nil, err
	}
	if err := e.codec.ValidateAnswerTarget(st, ev); err != nil {
		return nil, err
	}

	if ev != nil && e.guard.CheckDistress(ev.Value) {
		e.logger.Warn("Distress detected in user reply", zap.String("state_id", st.StateID.String()))
		bs := belief.FromWire(st.Belief)
		return e.emit(st, bs, nil, e.finalizeCrisis(st))
	}

	bs := belief.FromWire(st.Belief)

	if ev != nil {
		e.absorbUserAnswer(ctx, st, bs, ev)
		st.LastAction = nil
	}

	return e.runTurn(ctx, st, bs)
}

// absorbUserAnswer records the reply as evidence and folds it into the
// distribution, then runs the merge and retire housekeeping.
func (e *Engine) absorbUserAnswer(ctx context.Context, st *schemas.WireState, bs *belief.State, ev *schemas.UserEvent) {
	question := ""
	var targets []schemas.WireNode
	if st.LastAction != nil {
		question = st.LastAction.Question
		for _, id := range st.LastAction.TargetIDs {
			if n := bs.Node(id); n != nil {
				targets = append(targets, *n)
			}
		}
	}

	st.Evidence = append(st.Evidence, schemas.Evidence{
		ID:             uuid.New(),
		Kind:           schemas.EvidenceUserAnswer,
		Payload:        map[string]string{"question": question, "answer": ev.Value},
		AtRevision:     st.Revision,
		SourceActionID: ev.AnswerTo,
	})

	signals := e.answers.Score(ctx, bs, question, ev.Value, targets)
	e.updater.Apply(bs, signals, snippet(ev.Value))
	e.housekeep(ctx, bs)
}

func (e *Engine) housekeep(ctx context.Context, bs *belief.State) {
	e.updater.MergePass(bs, e.similarity(ctx))
	e.updater.RetirePass(bs)
}

// runTurn drives the inner loop: exit check, enumerate, score, execute.
// Internal actions complete within the turn; the loop leaves only on an
// AskUser pause or a terminal verdict. Step accounting at the top of the
// loop bounds it regardless of what the actions do.
func (e *Engine) runTurn(ctx context.Context, st *schemas.WireState, bs *belief.State) (*schemas.TurnResponse, error) {
	sim := e.similarity(ctx)

	for {
		if reason, stop := e.exits.Check(bs, st); stop {
			return e.emit(st, bs, nil, e.finalize(bs, st, reason))
		}

		candidates := e.enum.Enumerate(bs, st, sim)
		rng := turnSampler(st.Seed, st.Revision*64+st.StepsUsed)
		ranked := e.scorer.Rank(bs, candidates, rng)

		if reason, stop := e.exits.CheckScores(st, ranked); stop {
			return e.emit(st, bs, nil, e.finalize(bs, st, reason))
		}

		best := ranked[0].Action
		st.StepsUsed++
		e.logger.Info("Action selected",
			zap.String("state_id", st.StateID.String()),
			zap.String("kind", string(best.Kind)),
			zap.Float64("score", ranked[0].Score),
			zap.Int("step", st.StepsUsed),
		)

		evidence, err := e.executor.Execute(ctx, &best, bs, st, sim)
		if err != nil {
			return nil, err
		}

		if best.Kind == schemas.ActionAskUser {
			st.QueriesUsed++
			st.LastAction = &best
			return e.emit(st, bs, &best, nil)
		}

		if evidence != nil {
			st.Evidence = append(st.Evidence, *evidence)
			e.housekeep(ctx, bs)
		}
	}
}

// emit stamps the outgoing state: recomputed belief snapshot, revision bump,
// fresh integrity tag.
func (e *Engine) emit(st *schemas.WireState, bs *belief.State, action *schemas.Action, result *schemas.Result) (*schemas.TurnResponse, error) {
	st.Belief = bs.ToWire()
	st.Revision++

	signed, err := e.codec.Sign(*st)
	if err != nil {
		return nil, err
	}

	return &schemas.TurnResponse{
		Complete: result != nil,
		State:    signed,
		Action:   action,
		Result:   result,
	}, nil
}

// finalize assembles the terminal result from the belief state and the
// evidence log.
func (e *Engine) finalize(bs *belief.State, st *schemas.WireState, reason schemas.ExitReason) *schemas.Result {
	res := &schemas.Result{
		ExitReason:  reason,
		CompletedAt: time.Now().UTC(),
	}

	first, firstP, _, _ := bs.Top()
	top := bs.Node(first)
	if top == nil {
		res.ConfirmedCrux = schemas.ConfirmedCrux{
			NodeID:     uuid.New(),
			Text:       "Core challenge requiring further exploration",
			Confidence: 0.5,
		}
		res.ReasoningTrail = "Session ended without clear crux identification."
		return res
	}

	res.ConfirmedCrux = schemas.ConfirmedCrux{NodeID: top.ID, Text: top.Text, Confidence: firstP}
	for _, id := range bs.Ranking[1:] {
		if p := bs.Probs[id]; p > e.cfg.ConfirmationBar {
			if n := bs.Node(id); n != nil {
				res.SecondaryThemes = append(res.SecondaryThemes, schemas.SecondaryTheme{
					NodeID: n.ID, Text: n.Text, Confidence: p,
				})
			}
		}
	}
	res.ReasoningTrail = reasoningTrail(bs, st)

	e.logger.Info("Excavation complete",
		zap.String("state_id", st.StateID.String()),
		zap.String("exit_reason", string(reason)),
		zap.Float64("confidence", firstP),
	)
	return res
}

// finalizeCrisis replaces the hypothesis narrative with safety resources.
// This is a normal completion, not an error.
func (e *Engine) finalizeCrisis(st *schemas.WireState) *schemas.Result {
	return &schemas.Result{
		ConfirmedCrux: schemas.ConfirmedCrux{
			NodeID:     uuid.New(),
			Text:       "Crisis or distress requiring immediate support and professional help",
			Confidence: 1.0,
		},
		ReasoningTrail: fmt.Sprintf(
			"Session terminated early after distress indicators were detected. Session duration: %d steps.", st.StepsUsed),
		ExitReason:  schemas.ExitGuardrail,
		Crisis:      guardrail.CrisisResources(),
		CompletedAt: time.Now().UTC(),
	}
}

// similarity builds the merge-pass comparison for this turn: embedding cosine
// when an embedder is configured and healthy, lexical overlap otherwise.
// Embeddings are cached per node text for the duration of the turn.
func (e *Engine) similarity(ctx context.Context) belief.SimilarityFunc {
	if e.embedder == nil {
		return lexicalSimilarity
	}

	cache := make(map[uuid.UUID][]float32)
	degraded := false
	embed := func(n schemas.WireNode) []float32 {
		if v, ok := cache[n.ID]; ok {
			return v
		}
		v, err := e.embedder.Embed(ctx, n.Text)
		if err != nil {
			if !degraded {
				e.logger.Warn("Embedding failed, falling back to lexical similarity", zap.Error(err))
				degraded = true
			}
			return nil
		}
		cache[n.ID] = v
		return v
	}

	return func(a, b schemas.WireNode) float64 {
		va, vb := embed(a), embed(b)
		if va == nil || vb == nil {
			return belief.Jaccard(a.Text, b.Text)
		}
		return belief.Cosine(va, vb)
	}
}

func lexicalSimilarity(a, b schemas.WireNode) float64 {
	return belief.Jaccard(a.Text, b.Text)
}

func reasoningTrail(bs *belief.State, st *schemas.WireState) string {
	trail := fmt.Sprintf("Excavation completed after %d steps, using %d user queries.",
		st.StepsUsed, st.QueriesUsed)

	if len(bs.Ranking) > 0 {
		trail += fmt.Sprintf(" Explored %d hypotheses:", len(bs.Nodes))
		for i, id := range bs.Ranking {
			if i == 3 {
				break
			}
			if n := bs.Node(id); n != nil {
				trail += fmt.Sprintf(" %d. %s (confidence: %.2f)", i+1, n.Text, bs.Probs[id])
			}
		}
	}
	if len(st.Evidence) > 0 {
		trail += fmt.Sprintf(" Collected %d pieces of evidence.", len(st.Evidence))
	}
	return trail
}

func snippet(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
