package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/okian/trendcast/internal/domain/model"
	"github.com/okian/trendcast/internal/domain/replication"
	"github.com/okian/trendcast/pkg/logger"
)

// planRequest is the body of POST /signatures/{id}/plan. Every field is
// optional.
type planRequest struct {
	Targets      []string `json:"targets" validate:"omitempty,dive,required"`
	StyleID      string   `json:"style_id" validate:"omitempty,max=128"`
	VariantCount int      `json:"variant_count" validate:"gte=0"`
}

type signaturesResponse struct {
	Signatures []model.TrendSignature `json:"signatures"`
}

type opportunitiesResponse struct {
	Opportunities []model.Opportunity `json:"opportunities"`
}

// SignatureHandler serves trend signatures and planning.
type SignatureHandler struct {
	deps     Dependencies
	validate *validator.Validate
	log      logger.Logger
}

// NewSignatureHandler creates a signature handler.
func NewSignatureHandler(deps Dependencies, log logger.Logger) *SignatureHandler {
	return &SignatureHandler{deps: deps, validate: validator.New(), log: log}
}

// HandleList handles GET /signatures: active trends, fastest first.
func (h *SignatureHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	sigs, err := h.deps.Signatures(r.Context())
	if err != nil {
		failWith(w, r, h.log, err)
		return
	}
	if sigs == nil {
		sigs = []model.TrendSignature{}
	}
	writeJSON(w, http.StatusOK, signaturesResponse{Signatures: sigs})
}

// HandleGet handles GET /signatures/{id}.
func (h *SignatureHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sig, err := h.deps.Signature(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		failWith(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// HandleOpportunities handles GET /signatures/{id}/opportunities.
func (h *SignatureHandler) HandleOpportunities(w http.ResponseWriter, r *http.Request) {
	opps, err := h.deps.Opportunities(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		failWith(w, r, h.log, err)
		return
	}
	if opps == nil {
		opps = []model.Opportunity{}
	}
	writeJSON(w, http.StatusOK, opportunitiesResponse{Opportunities: opps})
}

// HandlePlan handles POST /signatures/{id}/plan. An opportunity whose
// variants all failed is returned with 502 so callers can retry.
func (h *SignatureHandler) HandlePlan(w http.ResponseWriter, r *http.Request) {
	const op = "api.plan"
	var req planRequest
	if err := decodeBody(r, &req); err != nil {
		failWith(w, r, h.log, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		failWith(w, r, h.log, WrapKind(op, ErrBadRequest, err))
		return
	}

	opp, err := h.deps.Plan(r.Context(), chi.URLParam(r, "id"), replication.PlanRequest{
		Targets:      req.Targets,
		StyleID:      req.StyleID,
		VariantCount: req.VariantCount,
	})
	if err != nil {
		if opp.OpportunityID != "" {
			status, _ := statusFor(err)
			writeJSON(w, status, opp)
			return
		}
		failWith(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, opp)
}
