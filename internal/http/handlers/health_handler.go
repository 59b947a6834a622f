// Health HTTP handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-expense-backend/internal/repo"
)

// HealthResponse reports service and dependency status.
type HealthResponse struct {
	Status        string `json:"status"`
	Database      string `json:"database"`
	LLMConfigured bool   `json:"llm_configured"`
}

// Health reports liveness plus a database ping and whether the extraction
// provider is configured. A failing database degrades the overall status but
// still answers 200; orchestrators that need a hard signal should check the
// `status` field.
func (h *Handlers) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:        "healthy",
		Database:      "connected",
		LLMConfigured: h.opts.LLMConfigured,
	}
	if h.db == nil {
		resp.Status = "degraded"
		resp.Database = "not configured"
	} else if err := repo.Ping(h.db); err != nil {
		resp.Status = "degraded"
		resp.Database = "unreachable"
	}
	ok(c, http.StatusOK, resp)
}
