package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"allocator/internal/service"
)

const maxParamsBytes = 1 << 20

type IntentHandler struct {
	Dispatcher *service.Dispatcher
	Logger     *zap.Logger
}

func (h *IntentHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/intents")
	g.GET("", h.list)
	g.GET("/:intent", h.run)
	g.POST("/:intent", h.run)
}

func (h *IntentHandler) list(c *gin.Context) {
	if h.Dispatcher == nil {
		Error(c, http.StatusInternalServerError, "dispatcher unavailable", nil)
		return
	}
	Ok(c, h.Dispatcher.Names(), nil)
}

// run executes the intent named in the path. The request body, when present,
// is the intent's JSON params.
func (h *IntentHandler) run(c *gin.Context) {
	if h.Dispatcher == nil {
		Error(c, http.StatusInternalServerError, "dispatcher unavailable", nil)
		return
	}
	name := strings.TrimSpace(c.Param("intent"))
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxParamsBytes))
	if err != nil {
		Error(c, http.StatusBadRequest, "read body: "+err.Error(), nil)
		return
	}

	result, err := h.Dispatcher.Run(c.Request.Context(), name, body)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrUnknownIntent):
			status = http.StatusNotFound
		case errors.Is(err, service.ErrBadParams):
			status = http.StatusBadRequest
		}
		if status == http.StatusInternalServerError && h.Logger != nil {
			h.Logger.Error("intent request failed", zap.String("intent", name), zap.Error(err))
		}
		Error(c, status, err.Error(), map[string]any{"intent": name})
		return
	}
	Ok(c, result, map[string]any{"intent": name})
}
