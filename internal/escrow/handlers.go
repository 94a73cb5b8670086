package escrow

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/davigut/pactum/internal/dispute"
)

// DisputeService is the dispute surface the escrow endpoints expose.
type DisputeService interface {
	Open(ctx context.Context, paymentID, raisedBy, reason string) (*dispute.Dispute, error)
	OpenFor(ctx context.Context, paymentID string) (*dispute.Dispute, error)
	Resolve(ctx context.Context, disputeID string, outcome dispute.Outcome, resolvedBy, note string) (*dispute.Dispute, error)
}

// Handler provides HTTP endpoints addressed by escrow id.
type Handler struct {
	store    Store
	disputes DisputeService
}

// NewHandler creates a new escrow handler.
func NewHandler(store Store, disputes DisputeService) *Handler {
	return &Handler{store: store, disputes: disputes}
}

// RegisterRoutes sets up public escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escrow/:id", h.GetEscrow)
}

// RegisterProtectedRoutes sets up escrow routes that require auth.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/escrow/:id/dispute", h.OpenDispute)
}

// RegisterAdminRoutes sets up operator-only escrow routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/escrow/:id/dispute/resolve", h.ResolveDispute)
}

// GetEscrow handles GET /escrow/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	es, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrEscrowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to load escrow",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": es})
}

// OpenDisputeRequest raises a dispute against an escrow's payment.
type OpenDisputeRequest struct {
	RaisedBy string `json:"raisedBy" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
}

// OpenDispute handles POST /escrow/:id/dispute
func (h *Handler) OpenDispute(c *gin.Context) {
	var req OpenDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "raisedBy and reason are required",
		})
		return
	}

	es, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrEscrowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to load escrow",
		})
		return
	}

	d, err := h.disputes.Open(c.Request.Context(), es.PaymentID, req.RaisedBy, req.Reason)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "dispute_failed",
			"message": "Failed to open dispute",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// ResolveDisputeRequest closes an escrow's open dispute.
type ResolveDisputeRequest struct {
	Outcome    dispute.Outcome `json:"outcome" binding:"required"`
	ResolvedBy string          `json:"resolvedBy" binding:"required"`
	Note       string          `json:"note"`
}

// ResolveDispute handles POST /escrow/:id/dispute/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "outcome and resolvedBy are required",
		})
		return
	}

	es, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrEscrowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to load escrow",
		})
		return
	}

	open, err := h.disputes.OpenFor(c.Request.Context(), es.PaymentID)
	if err != nil {
		if errors.Is(err, dispute.ErrDisputeNotFound) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "no_open_dispute",
				"message": "No open dispute for this escrow",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to load dispute",
		})
		return
	}

	d, err := h.disputes.Resolve(c.Request.Context(), open.ID, req.Outcome, req.ResolvedBy, req.Note)
	if err != nil {
		if errors.Is(err, dispute.ErrAlreadyResolved) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_resolved",
				"message": "Dispute already resolved",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "resolve_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}
