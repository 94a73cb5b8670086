package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/davigut/pactum/internal/validation"
)

// EscrowSummary is the custody view attached to payment status
// responses. Populated by an adapter over the escrow store.
type EscrowSummary struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	CustodyAmount  string `json:"custodyAmount"`
	ReleaseAmount  string `json:"releaseAmount"`
	CustodyEnd     string `json:"custodyEnd,omitempty"`
	OnchainTxHash  string `json:"onchainTxHash,omitempty"`
	DisputeStatus  string `json:"disputeStatus,omitempty"`
	YieldActivated bool   `json:"yieldActivated"`
}

// EscrowViewer resolves the custody summary for a payment, if any.
type EscrowViewer interface {
	Summary(ctx context.Context, paymentID string) (*EscrowSummary, error)
}

// Handler provides HTTP endpoints for payment operations.
type Handler struct {
	service *Service
	escrows EscrowViewer
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service, escrows EscrowViewer) *Handler {
	return &Handler{service: service, escrows: escrows}
}

// RegisterRoutes sets up public payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payments/:id", h.GetPayment)
	r.GET("/payments/:id/status", h.GetStatus)
}

// RegisterProtectedRoutes sets up payment routes that require auth.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.CreatePayment)
	r.POST("/payments/:id/approve/payer", h.approve(PartyPayer))
	r.POST("/payments/:id/approve/payee", h.approve(PartyPayee))
}

// CreatePayment handles POST /v1/payments
func (h *Handler) CreatePayment(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.Type == "" {
		req.Type = TypeStandard
	}
	if req.Currency == "" {
		req.Currency = "MXN"
	}

	p, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": verrs.Error(),
				"details": verrs,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "payment_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"payment": p})
}

// GetPayment handles GET /v1/payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Payment not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// GetStatus handles GET /v1/payments/:id/status. Returns the payment,
// its custody summary, and the full event history.
func (h *Handler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	p, err := h.service.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Payment not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	events, err := h.service.Events(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	resp := gin.H{
		"payment": p,
		"events":  events,
	}
	if h.escrows != nil {
		if summary, err := h.escrows.Summary(ctx, id); err == nil && summary != nil {
			resp["escrow"] = summary
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) approve(party Party) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := h.service.Approve(c.Request.Context(), c.Param("id"), party)
		if err != nil {
			status := http.StatusInternalServerError
			code := "internal_error"
			switch {
			case errors.Is(err, ErrPaymentNotFound):
				status = http.StatusNotFound
				code = "not_found"
			case errors.Is(err, ErrInvalidState):
				status = http.StatusConflict
				code = "invalid_state"
			}
			c.JSON(status, gin.H{"error": code, "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"payment": p})
	}
}
