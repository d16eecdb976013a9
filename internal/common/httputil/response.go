package httputil

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorResponse carries a short machine-readable reason string. No
// internal detail (backing stores, stack traces) is ever included.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError sends a JSON error body with the given reason and status.
func WriteError(ctx *fasthttp.RequestCtx, statusCode int, reason string) {
	body, _ := json.Marshal(ErrorResponse{Error: reason})
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// WriteJSON sends an arbitrary JSON payload.
func WriteJSON(ctx *fasthttp.RequestCtx, statusCode int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		WriteError(ctx, fasthttp.StatusInternalServerError, "InternalError")
		return
	}
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
