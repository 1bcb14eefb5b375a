package api

import (
	"net/http"

	"github.com/okian/trendcast/pkg/logger"
)

// CycleHandler triggers scan cycles on demand.
type CycleHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewCycleHandler creates a cycle handler.
func NewCycleHandler(deps Dependencies, log logger.Logger) *CycleHandler {
	return &CycleHandler{deps: deps, log: log}
}

// HandleRun handles POST /cycles and returns the cycle report.
func (h *CycleHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.RunCycle(r.Context())
	if err != nil {
		failWith(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
