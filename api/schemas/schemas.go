// Package schemas defines the wire-level data contracts for the excavation
// engine: the turn protocol, the canonical round-tripped state, and the
// structured payloads exchanged with the reasoning service.
package schemas

import (
	"time"

	"github.com/google/uuid"
)

// -- Turn Protocol --

// TurnMode selects which of the two request shapes the handler receives.
type TurnMode string

const (
	ModeInit     TurnMode = "init"
	ModeContinue TurnMode = "continue"
)

// TurnRequest is the single request shape accepted by the turn endpoint.
// An init request carries only the input text; a continue request carries the
// full state emitted by the previous turn plus an optional user event.
type TurnRequest struct {
	Mode      TurnMode   `json:"mode" binding:"required,oneof=init continue"`
	InputText string     `json:"input_text,omitempty" binding:"omitempty,max=10000,notblank"`
	State     *WireState `json:"state,omitempty"`
	UserEvent *UserEvent `json:"user_event,omitempty"`

	// IdempotencyKey deduplicates retried continue requests. Replays with the
	// same key and the same (state id, revision) within the validity window
	// return the byte-identical prior response.
	IdempotencyKey string `json:"idempotency_key,omitempty" binding:"omitempty,max=128"`
}

// UserEvent is the caller's reply to a previously emitted ask_user action.
type UserEvent struct {
	// AnswerTo must match the action id of the last emitted action. A mismatch
	// is rejected as an answer-target error, not a generic validation failure.
	AnswerTo uuid.UUID `json:"answer_to" binding:"required"`
	Value    string    `json:"value" binding:"required,max=4000"`
}

// TurnResponse is the single response shape for both request modes. When
// Complete is false the engine has paused on an ask_user action; when true,
// Result carries the terminal payload.
type TurnResponse struct {
	Complete bool      `json:"complete"`
	State    WireState `json:"state"`
	Action   *Action   `json:"action,omitempty"`
	Result   *Result   `json:"result,omitempty"`
}

// -- Canonical State --

// WireState is the canonical turn state. The caller owns its durability; the
// server owns its semantics. It is fully self-describing (it embeds the input
// text and the complete evidence log) so a caller can resume after arbitrary
// delay. All belief numbers inside an inbound WireState are advisory: the
// server verifies the integrity tag and then recomputes the distribution from
// the accumulated log-odds, discarding the claimed values.
type WireState struct {
	StateID  uuid.UUID `json:"state_id"`
	Revision int       `json:"revision"`

	// Integrity is an HMAC-derived tag over the canonical encoding of the
	// state with this field blanked. A present-but-mismatched tag is fatal
	// for the turn.
	Integrity string `json:"integrity,omitempty"`

	// Seed drives outcome sampling in the scorer. It is derived from the
	// state id at init and recorded here so any turn's scoring is replayable
	// offline.
	Seed uint64 `json:"seed"`

	InputText string     `json:"input_text"`
	Belief    WireBelief `json:"belief"`
	Evidence  []Evidence `json:"evidence"`

	// LastAction is the most recently emitted action, present while the loop
	// is paused waiting for a user reply.
	LastAction *Action `json:"last_action,omitempty"`

	QueriesUsed int `json:"queries_used"`
	StepsUsed   int `json:"steps_used"`

	// ExitFlags records which termination predicates held after the most
	// recent update, for diagnostics.
	ExitFlags map[string]bool `json:"exit_flags,omitempty"`
}

// WireBelief is the serialized belief distribution. Probs and Ranking are
// derived values recomputed server-side on every accepted turn.
type WireBelief struct {
	Nodes   []WireNode            `json:"nodes"`
	Probs   map[uuid.UUID]float64 `json:"probs"`
	Ranking []uuid.UUID           `json:"ranking"`
}

// NodeStatus is the lifecycle state of a hypothesis node. Transitions are
// one-directional: active nodes may become merged or retired, never the
// reverse. Nodes are never deleted, preserving the audit trail.
type NodeStatus string

const (
	NodeActive  NodeStatus = "active"
	NodeMerged  NodeStatus = "merged"
	NodeRetired NodeStatus = "retired"
)

// WireNode is one candidate root-cause hypothesis.
type WireNode struct {
	ID   uuid.UUID `json:"id"`
	Text string    `json:"text"`

	// LogOdds is the authoritative accumulated belief mass for the node. The
	// probability distribution is a softmax over the log-odds of active nodes.
	LogOdds float64 `json:"log_odds"`

	// Prior is the seeder's initial diagnostic weight, kept for audit.
	Prior float64 `json:"prior,omitempty"`

	Supports []string   `json:"supports,omitempty"`
	Counters []string   `json:"counters,omitempty"`
	Status   NodeStatus `json:"status"`

	// LowStreak counts consecutive turns the node's probability has stayed
	// below the retirement floor.
	LowStreak int `json:"low_streak,omitempty"`
}

// -- Evidence --

// EvidenceKind categorizes one observation in the evidence log.
type EvidenceKind string

const (
	EvidenceUserAnswer   EvidenceKind = "user_answer"
	EvidenceEntryQuote   EvidenceKind = "entry_quote"
	EvidencePattern      EvidenceKind = "pattern_signal"
	EvidenceContextDatum EvidenceKind = "context_datum"
	EvidenceTestResult   EvidenceKind = "internal_test_result"
)

// Evidence is one immutable observation. The log is append-only; records are
// never rewritten after creation.
type Evidence struct {
	ID         uuid.UUID         `json:"id"`
	Kind       EvidenceKind      `json:"kind"`
	Payload    map[string]string `json:"payload"`
	AtRevision int               `json:"at_revision"`

	// SourceActionID correlates the evidence to the action that produced it.
	SourceActionID uuid.UUID `json:"source_action_id"`
}

// -- Actions --

// ActionKind enumerates every action the engine can select. The set is closed:
// the executor dispatches over it exhaustively, so adding a kind is a
// compile-time-checked change.
type ActionKind string

const (
	ActionAskUser          ActionKind = "ask_user"
	ActionHypothesize      ActionKind = "hypothesize"
	ActionClusterThemes    ActionKind = "cluster_themes"
	ActionCounterfactual   ActionKind = "counterfactual_test"
	ActionEvidenceRequest  ActionKind = "evidence_request"
	ActionSilenceCheck     ActionKind = "silence_check"
	ActionConfidenceUpdate ActionKind = "confidence_update"
	ActionStop             ActionKind = "stop"
)

// Action is the tagged variant selected by the scorer. Kind determines which
// of the optional fields are populated.
type Action struct {
	ID   uuid.UUID  `json:"id"`
	Kind ActionKind `json:"kind"`

	// ask_user
	Question     string      `json:"question,omitempty"`
	QuickOptions []string    `json:"quick_options,omitempty"`
	TargetIDs    []uuid.UUID `json:"target_ids,omitempty"`
	Rationale    string      `json:"rationale,omitempty"`

	// hypothesize
	SpawnCount int `json:"spawn_count,omitempty"`

	// cluster_themes
	Method string `json:"method,omitempty"`

	// counterfactual_test
	TestSpec string `json:"test_spec,omitempty"`

	// evidence_request
	RequestKind EvidenceKind `json:"request_kind,omitempty"`

	// stop
	Reason ExitReason `json:"reason,omitempty"`
}

// -- Results --

// ExitReason identifies which termination predicate ended the loop. Exactly
// one reason is reported per completed excavation.
type ExitReason string

const (
	ExitThreshold ExitReason = "threshold"
	ExitEpsilon   ExitReason = "diminishing_returns"
	ExitBudget    ExitReason = "budget"
	ExitGuardrail ExitReason = "guardrail"
)

// ConfirmedCrux is the top hypothesis at termination.
type ConfirmedCrux struct {
	NodeID     uuid.UUID `json:"node_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
}

// SecondaryTheme is a non-winning hypothesis that still cleared the
// confirmation bar.
type SecondaryTheme struct {
	NodeID     uuid.UUID `json:"node_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
}

// Result is the terminal payload of an excavation.
type Result struct {
	ConfirmedCrux   ConfirmedCrux    `json:"confirmed_crux"`
	SecondaryThemes []SecondaryTheme `json:"secondary_themes"`
	ReasoningTrail  string           `json:"reasoning_trail"`
	ExitReason      ExitReason       `json:"exit_reason"`

	// Crisis is populated only on a guardrail stop, replacing the hypothesis
	// narrative with safety resources.
	Crisis *CrisisResources `json:"crisis,omitempty"`

	CompletedAt time.Time `json:"completed_at"`
}

// CrisisResource is one support channel surfaced on a guardrail stop.
type CrisisResource struct {
	Name        string `json:"name"`
	Contact     string `json:"contact"`
	Description string `json:"description"`
}

// CrisisResources is the safety payload returned in place of a hypothesis
// result when distress indicators are detected.
type CrisisResources struct {
	Message        string           `json:"message"`
	Resources      []CrisisResource `json:"resources"`
	Recommendation string           `json:"recommendation"`
}
