package generation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/naigate/server/internal/module/metering"
	"github.com/naigate/server/internal/shared/response"
)

// AdminHandler manages prepaid cards. Every route requires the configured
// admin token.
type AdminHandler struct {
	credits    *metering.CreditStore
	adminToken string
}

// NewAdminHandler creates the card management handler.
func NewAdminHandler(credits *metering.CreditStore, adminToken string) *AdminHandler {
	return &AdminHandler{
		credits:    credits,
		adminToken: strings.TrimSpace(adminToken),
	}
}

// RegisterRoutes registers admin routes behind the token check.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.Use(h.requireAdmin())
	r.PUT("/cards/:id", h.SetCard)
	r.GET("/cards/:id", h.GetCard)
}

func (h *AdminHandler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.adminToken == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				gin.H{"error": "admin token is not configured"})
			return
		}
		if strings.TrimSpace(c.GetHeader(AdminTokenHeader)) != h.adminToken {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin token required"})
			return
		}
		c.Next()
	}
}

// SetCard writes a card balance.
func (h *AdminHandler) SetCard(c *gin.Context) {
	cardID := c.Param("id")

	var req CardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.credits.SetBalance(c.Request.Context(), cardID, req.Balance); err != nil {
		response.FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, CardResponse{CardID: cardID, Balance: req.Balance})
}

// GetCard reads a card balance.
func (h *AdminHandler) GetCard(c *gin.Context) {
	cardID := c.Param("id")

	balance, err := h.credits.Balance(c.Request.Context(), cardID)
	if errors.Is(err, metering.ErrCardNotFound) {
		response.Error(c, http.StatusNotFound, "card not found")
		return
	}
	if err != nil {
		response.FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, CardResponse{CardID: cardID, Balance: balance})
}
