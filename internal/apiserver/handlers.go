package apiserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/statecodec"
)

// Excavator is the turn surface the handlers drive. The engine satisfies it;
// tests substitute their own.
type Excavator interface {
	Init(ctx context.Context, inputText string) (*schemas.TurnResponse, error)
	Continue(ctx context.Context, st *schemas.WireState, ev *schemas.UserEvent) (*schemas.TurnResponse, error)
}

// Handlers hosts the turn endpoint. The service is stateless: everything a
// turn needs arrives in the request, so a replay-deduplication guard is the
// only cross-request memory the handler keeps.
type Handlers struct {
	engine Excavator
	replay *statecodec.ReplayGuard
	logger *zap.Logger
}

// NewHandlers builds the handler set.
func NewHandlers(engine Excavator, replay *statecodec.ReplayGuard, logger *zap.Logger) *Handlers {
	return &Handlers{engine: engine, replay: replay, logger: logger.Named("api")}
}

// HandleExcavate handles POST /v1/excavate in both modes. Init mode opens a
// fresh excavation from the raw entry text; continue mode resumes from the
// caller-held state, optionally absorbing a user reply first.
func (h *Handlers) HandleExcavate(c *gin.Context) {
	logger := h.logger.With(zap.String("request_id", c.GetString("request_id")))

	var req schemas.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", zap.Error(err))
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), typeValidation)
		return
	}

	switch req.Mode {
	case schemas.ModeInit:
		h.handleInit(c, logger, &req)
	case schemas.ModeContinue:
		h.handleContinue(c, logger, &req)
	}
}

func (h *Handlers) handleInit(c *gin.Context, logger *zap.Logger, req *schemas.TurnRequest) {
	if req.InputText == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST",
			"init mode requires input_text", typeValidation)
		return
	}

	resp, err := h.engine.Init(c.Request.Context(), req.InputText)
	if err != nil {
		logger.Error("init turn failed", zap.Error(err))
		writeTurnError(c, err)
		return
	}

	logger.Info("excavation opened",
		zap.Stringer("state_id", resp.State.StateID),
		zap.Bool("complete", resp.Complete))
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) handleContinue(c *gin.Context, logger *zap.Logger, req *schemas.TurnRequest) {
	if req.State == nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST",
			"continue mode requires state", typeValidation)
		return
	}

	// The replay guard wraps the whole turn: a retried request with the same
	// key and the same (state id, revision) gets the byte-identical prior
	// response before the stale-revision check can reject it.
	raw, replayed, err := h.replay.Do(req.IdempotencyKey, req.State.StateID, req.State.Revision, func() ([]byte, error) {
		if err := h.replay.CheckRevision(req.State.StateID, req.State.Revision); err != nil {
			return nil, err
		}
		resp, err := h.engine.Continue(c.Request.Context(), req.State, req.UserEvent)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	if err != nil {
		logger.Warn("continue turn rejected", zap.Error(err),
			zap.Stringer("state_id", req.State.StateID),
			zap.Int("revision", req.State.Revision))
		writeTurnError(c, err)
		return
	}

	if replayed {
		logger.Info("replayed cached turn response",
			zap.Stringer("state_id", req.State.StateID),
			zap.Int("revision", req.State.Revision))
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
