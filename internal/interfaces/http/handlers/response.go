// Package handlers implements the HTTP edge: request binding, response
// shaping, and the translation of the core's typed errors into statuses.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/credcore/pkg/errors"
)

// errorResponse is the uniform error body.
type errorResponse struct {
	Error    string                 `json:"error"`
	Kind     string                 `json:"kind"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// respondError translates a core error into its HTTP shape. The meaning of
// each status originates in the core's error taxonomy; this edge only maps.
func respondError(c *gin.Context, err error) {
	if appErr, ok := errors.AsAppError(err); ok {
		resp := errorResponse{
			Error:    appErr.Error(),
			Kind:     string(appErr.Kind()),
			Metadata: appErr.Metadata(),
		}
		if retryAfter, ok := resp.Metadata["retry_after"].(string); ok {
			c.Header("Retry-After", retryAfter)
		}
		c.JSON(appErr.HTTPStatus(), resp)
		return
	}
	c.JSON(http.StatusInternalServerError, errorResponse{
		Error: "internal error",
		Kind:  string(errors.KindInternal),
	})
}
