package generation

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/naigate/server/internal/module/metering"
	"github.com/naigate/server/internal/shared/response"
)

// Identity headers consumed by the gateway.
const (
	AdminTokenHeader = "X-Admin-Token"
	CardKeyHeader    = "X-Card-Key"
	RoleHeader       = "X-Caller-Role"
)

// Handler handles generation API requests.
type Handler struct {
	service *Service
}

// NewHandler creates a new generation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers generation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/generate", h.Generate)
	r.POST("/mj", h.MJ)
}

// identityFrom derives the caller identity for this request from transport
// headers. Never persisted; recomputed per request.
func identityFrom(c *gin.Context) metering.Identity {
	return metering.Identity{
		SourceAddr: c.ClientIP(),
		AdminToken: c.GetHeader(AdminTokenHeader),
		CardKey:    c.GetHeader(CardKeyHeader),
	}
}

// Generate handles an image generation request.
func (h *Handler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.Generate(c.Request.Context(), identityFrom(c), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	resp := GenerateResponse{
		Image: "data:image/png;base64," + base64.StdEncoding.EncodeToString(result.Image),
		Role:  string(result.Decision.Role),
	}
	if result.Decision.Role == metering.RoleVip {
		remaining := result.Decision.Remaining
		resp.Remaining = &remaining
	}

	c.Header(RoleHeader, string(result.Decision.Role))
	c.JSON(http.StatusOK, resp)
}

// MJ handles a Midjourney relay request.
func (h *Handler) MJ(c *gin.Context) {
	var req MJRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	reply, decision, err := h.service.MJ(c.Request.Context(), identityFrom(c), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	if decision != nil {
		c.Header(RoleHeader, string(decision.Role))
	}
	c.Data(http.StatusOK, "application/json", reply)
}
