package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"illustrationd/internal/illustration"
	"illustrationd/pkg/types"
)

// generate serves both illustration kinds.
//
// @Summary      Generate an illustration
// @Description  Memory illustrations render the prompt conditioned on the user's avatar. Subject illustrations restyle the user's subject photo and ignore the prompt.
// @Tags         images
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      types.GenerateRequest  true  "Generation parameters"
// @Success      200   {object}  types.S3ImageResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      401   {object}  types.ErrorResponse
// @Failure      404   {object}  types.ErrorResponse
// @Failure      415   {object}  types.ErrorResponse
// @Failure      422   {object}  types.ErrorResponse
// @Failure      429   {object}  types.ErrorResponse
// @Failure      500   {object}  types.ErrorResponse
// @Failure      503   {object}  types.ErrorResponse
// @Router       /v1/images/memory [post]
// @Router       /v1/images/subject [post]
func (h *handlers) generate(kind illustration.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.opts.Images == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "image generation is not configured")
			return
		}
		var in types.GenerateRequest
		if !h.decodeJSON(w, r, &in) {
			return
		}
		req, err := illustration.NewRequest(kind, in, h.opts.Defaults)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}

		// Shutdown cancels in-flight generation too.
		ctx, cancel := joinContexts(h.opts.BaseContext, r.Context())
		defer cancel()
		uri, err := h.opts.Images.Generate(ctx, req)
		if err != nil {
			h.fail(w, r, err, "generation")
			return
		}
		writeJSON(w, http.StatusOK, types.S3ImageResponse{Data: []types.S3ImageData{{S3URI: uri}}})
	}
}

// fail writes err unless the client has gone away.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error, what string) {
	if r.Context().Err() != nil {
		h.log.Debug().Str("request_id", middleware.GetReqID(r.Context())).Err(err).Msg(what + " abandoned by client")
		return
	}
	if h.opts.BaseContext.Err() != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure(what)
	}
	writeJSONError(w, status, err.Error())
}
