package paas

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# Allocator Service

Turns strategy signals into netted broker orders and reconciles fills into
per-strategy holdings.

## Access via PaaS

Base path (through gateway):
- /api/v1/services/allocator/

## Auth

All /api/* routes require a Bearer token (validated by the PaaS gateway).
Health and metrics endpoints are public.

## Routes

- GET /healthz
- GET /readyz
- GET /metrics
- GET /api/v1/intents
- POST /api/v1/intents/allocation   {"strategies": [...], "dryRun": false, "orderProperties": {...}}
- POST /api/v1/intents/reconciliation
- POST /api/v1/intents/close-all    {"dryRun": false, "orderProperties": {...}}
- POST /api/v1/intents/cash-balancer {"dryRun": false}
- GET  /api/v1/intents/summary
- GET  /api/v1/runtime-config/:scope
- PUT  /api/v1/runtime-config/:scope
`)
	})
}
