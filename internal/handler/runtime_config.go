package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"allocator/internal/config"
	"allocator/internal/models"
	"allocator/internal/repository"
	"allocator/internal/service"
)

// RuntimeConfigHandler reads and replaces allocation overrides per scope.
type RuntimeConfigHandler struct {
	Ledger repository.Ledger
}

func (h *RuntimeConfigHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/runtime-config")
	g.GET("/:scope", h.get)
	g.PUT("/:scope", h.put)
}

func validScope(scope string) bool {
	switch scope {
	case service.ScopeCommon, "paper", "live":
		return true
	}
	return false
}

func (h *RuntimeConfigHandler) get(c *gin.Context) {
	if h.Ledger == nil {
		Error(c, http.StatusInternalServerError, "ledger unavailable", nil)
		return
	}
	scope := strings.TrimSpace(c.Param("scope"))
	if !validScope(scope) {
		Error(c, http.StatusBadRequest, "invalid scope", nil)
		return
	}
	rows, err := h.Ledger.ListRuntimeConfigs(c.Request.Context(), scope)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if len(rows) == 0 {
		Error(c, http.StatusNotFound, "runtime config not found", nil)
		return
	}
	Ok(c, gin.H{
		"scope":       rows[0].Scope,
		"value":       json.RawMessage(rows[0].Value),
		"description": rows[0].Description,
		"updatedAt":   rows[0].UpdatedAt,
	}, nil)
}

func (h *RuntimeConfigHandler) put(c *gin.Context) {
	if h.Ledger == nil {
		Error(c, http.StatusInternalServerError, "ledger unavailable", nil)
		return
	}
	scope := strings.TrimSpace(c.Param("scope"))
	if !validScope(scope) {
		Error(c, http.StatusBadRequest, "invalid scope", nil)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxParamsBytes))
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	// The override must be an object that decodes as allocation config.
	var probe config.AllocationConfig
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&probe); err != nil || !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		Error(c, http.StatusBadRequest, "invalid allocation override", nil)
		return
	}
	item := &models.RuntimeConfig{
		Scope:       scope,
		Value:       datatypes.JSON(raw),
		Description: strings.TrimSpace(c.Query("description")),
	}
	if err := h.Ledger.UpsertRuntimeConfig(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"scope": scope, "value": json.RawMessage(raw)}, nil)
}
