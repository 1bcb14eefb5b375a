package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/okian/trendcast/pkg/logger"
)

type deliverRequest struct {
	Targets []string `json:"targets" validate:"omitempty,dive,required"`
}

type deliverResponse struct {
	OpportunityID string   `json:"opportunity_id"`
	Queued        []string `json:"queued"`
}

// OpportunityHandler serves replication opportunities.
type OpportunityHandler struct {
	deps     Dependencies
	validate *validator.Validate
	log      logger.Logger
}

// NewOpportunityHandler creates an opportunity handler.
func NewOpportunityHandler(deps Dependencies, log logger.Logger) *OpportunityHandler {
	return &OpportunityHandler{deps: deps, validate: validator.New(), log: log}
}

// HandleGet handles GET /opportunities/{id}.
func (h *OpportunityHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	opp, err := h.deps.Opportunity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		failWith(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, opp)
}

// HandleDeliver handles POST /opportunities/{id}/deliver. Deliveries run
// asynchronously; the response lists the targets queued.
func (h *OpportunityHandler) HandleDeliver(w http.ResponseWriter, r *http.Request) {
	const op = "api.deliver"
	var req deliverRequest
	if err := decodeBody(r, &req); err != nil {
		failWith(w, r, h.log, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		failWith(w, r, h.log, WrapKind(op, ErrBadRequest, err))
		return
	}

	id := chi.URLParam(r, "id")
	queued, err := h.deps.Deliver(r.Context(), id, req.Targets...)
	if err != nil {
		failWith(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, deliverResponse{OpportunityID: id, Queued: queued})
}
