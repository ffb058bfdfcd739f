package httpapi

import (
	"net/http"

	"illustrationd/pkg/types"
)

// health always answers 200 so orchestrators can tell a running but
// unusable process from a dead one.
//
// @Summary      Service health
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Router       /health/ [get]
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{Status: "healthy", Message: "Illustration generation service is ready"}
	if p := h.opts.Pipeline; p == nil || !p.Ready() {
		resp.Status = "unhealthy"
		resp.Message = "Model is not loaded"
		if p != nil {
			if st := p.Status(); st.Error != "" {
				resp.Message = st.Error
			} else if st.State != "" {
				resp.Message = "Model is " + st.State
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if p := h.opts.Pipeline; p != nil && p.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("loading"))
}

// status reports the pipeline state and loaded adapters.
//
// @Summary      Pipeline status
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	if h.opts.Pipeline == nil {
		writeJSON(w, http.StatusOK, types.StatusResponse{State: "unconfigured", Adapters: []types.AdapterStatus{}})
		return
	}
	writeJSON(w, http.StatusOK, h.opts.Pipeline.Status())
}
