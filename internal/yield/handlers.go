package yield

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// PrincipalResolver returns the custody amount, in centavos, that a
// payment's yield would accrue on. Implemented by an adapter over the
// payment store.
type PrincipalResolver interface {
	CustodyPrincipal(ctx context.Context, paymentID string) (int64, error)
}

// Handler provides HTTP endpoints for yield operations.
type Handler struct {
	service    *Service
	principals PrincipalResolver
}

// NewHandler creates a new yield handler.
func NewHandler(service *Service, principals PrincipalResolver) *Handler {
	return &Handler{service: service, principals: principals}
}

// RegisterRoutes sets up public yield routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payments/:id/yield", h.GetSummary)
}

// RegisterProtectedRoutes sets up yield routes that require auth.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/payments/:id/yield/activate", h.Activate)
}

// Activate handles POST /v1/payments/:id/yield/activate
func (h *Handler) Activate(c *gin.Context) {
	ctx := c.Request.Context()
	paymentID := c.Param("id")

	principal, err := h.principals.CustodyPrincipal(ctx, paymentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
		return
	}

	a, err := h.service.Activate(ctx, paymentID, principal)
	if err != nil {
		if errors.Is(err, ErrAlreadyActive) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_active",
				"message": "Yield is already activated for this payment",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "activation_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"activation": a})
}

// GetSummary handles GET /v1/payments/:id/yield
func (h *Handler) GetSummary(c *gin.Context) {
	summary, err := h.service.SummaryFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrActivationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No yield activation for this payment",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, summary)
}
