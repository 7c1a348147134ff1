package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/promorang/maturity/api/transport"
	"github.com/promorang/maturity/domain"
	"github.com/promorang/maturity/pkg/httpcontext"
	"github.com/promorang/maturity/pkg/maturity"
	maturityUC "github.com/promorang/maturity/usecase/maturity"
)

type MaturityHandler struct {
	baseHandler
	uc *maturityUC.UseCase
}

func NewMaturityHandler(uc *maturityUC.UseCase, adapter *httpcontext.Adapter, logger *zap.Logger) *MaturityHandler {
	return &MaturityHandler{
		baseHandler: newBaseHandler(adapter, logger),
		uc:          uc,
	}
}

// @Summary Current maturity state
// @Tags maturity
// @Router /api/maturity/state [get]
func (h *MaturityHandler) GetState(ctx *fasthttp.RequestCtx) {
	userID := h.userID(ctx)
	if userID == "" {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	view, err := h.uc.GetState(stdCtx, userID)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, stateResponse(view))
}

// @Summary Record a verified action
// @Tags maturity
// @Accept json
// @Router /api/maturity/action [post]
func (h *MaturityHandler) RecordAction(ctx *fasthttp.RequestCtx) {
	userID := h.userID(ctx)
	if userID == "" {
		return
	}

	var req transport.RecordActionRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.respondInvalid(ctx, "invalid payload")
		return
	}
	action, err := maturity.ParseAction(req.ActionType)
	if err != nil {
		h.respondError(ctx, domain.WrapError(domain.ErrCodeInvalid, "invalid action_type", err))
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	surface := req.Surface
	if surface == "" {
		surface = httpcontext.Surface(stdCtx)
	}
	record := &domain.ActionRecord{
		UserID:   userID,
		Action:   action,
		Surface:  maturity.Surface(surface),
		Metadata: req.Metadata,
	}

	view, err := h.uc.RecordAction(stdCtx, record)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	if view.State == nil {
		h.respondSuccess(ctx, http.StatusAccepted, transport.PendingActionResponse{Pending: true, ActionID: record.ID})
		return
	}
	status := http.StatusOK
	if view.Pending {
		status = http.StatusAccepted
	}
	h.respondSuccess(ctx, status, stateResponse(view))
}

// @Summary Access decision for one feature
// @Tags maturity
// @Router /api/maturity/features/{feature} [get]
func (h *MaturityHandler) Feature(ctx *fasthttp.RequestCtx) {
	userID := h.userID(ctx)
	if userID == "" {
		return
	}
	feature, _ := ctx.UserValue("feature").(string)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	view, err := h.uc.FeatureAccess(stdCtx, userID, maturity.Feature(feature))
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, view)
}

// @Summary Override the level of a demo or admin account
// @Tags maturity
// @Router /api/maturity/override [put]
func (h *MaturityHandler) Override(ctx *fasthttp.RequestCtx) {
	userID := h.userID(ctx)
	if userID == "" {
		return
	}

	var req transport.OverrideRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.Level == nil {
		h.respondInvalid(ctx, "level is required")
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	view, err := h.uc.OverrideLevel(stdCtx, userID, maturity.Level(*req.Level))
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, stateResponse(view))
}

// @Summary Verified actions of the caller, newest first
// @Tags maturity
// @Param limit query int false "max records (1-100)"
// @Router /api/maturity/actions [get]
func (h *MaturityHandler) Actions(ctx *fasthttp.RequestCtx) {
	userID := h.userID(ctx)
	if userID == "" {
		return
	}
	limit := 0
	if raw := ctx.QueryArgs().Peek("limit"); len(raw) > 0 {
		n, err := strconv.Atoi(string(raw))
		if err != nil || n < 0 {
			h.respondInvalid(ctx, "limit must be a positive integer")
			return
		}
		limit = n
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	records, err := h.uc.RecentActions(stdCtx, userID, limit)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, records)
}

func stateResponse(view *maturityUC.StateView) transport.MaturityStateResponse {
	state := view.State
	resp := transport.MaturityStateResponse{
		MaturityState:        int(state.Level),
		VerifiedActionsCount: state.ActionsCount,
		Visibility:           view.Visibility,
		Source:               state.Source,
		LevelLabel:           state.Level.Label(),
		ActionsRemaining:     maturity.RequiredActionsRemaining(state.Level, state.ActionsCount),
		Pending:              view.Pending,
	}
	if !state.UpdatedAt.IsZero() {
		updated := state.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}
