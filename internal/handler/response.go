package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// apiResponse is the envelope of every JSON response. Code is 0 on success
// and the HTTP status otherwise.
type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

var clock = time.Now

// Ok writes data with meta stamped with the response time in UTC.
func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    stamp(meta),
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    stamp(meta),
	})
}

func stamp(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["utcTimestamp"] = clock().UTC().Format(time.RFC3339)
	return out
}
