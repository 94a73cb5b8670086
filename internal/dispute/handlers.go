package dispute

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for dispute operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public dispute routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payments/:id/disputes", h.ListDisputes)
	r.GET("/disputes/:id", h.GetDispute)
	r.GET("/disputes/:id/messages", h.ListMessages)
}

// RegisterProtectedRoutes sets up dispute routes that require auth.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/payments/:id/disputes", h.OpenDispute)
	r.POST("/disputes/:id/messages", h.AddMessage)
}

// RegisterAdminRoutes sets up operator-only dispute routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/disputes/:id/resolve", h.ResolveDispute)
}

// OpenRequest is the payload for raising a dispute.
type OpenRequest struct {
	RaisedBy string `json:"raisedBy" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
}

// OpenDispute handles POST /v1/payments/:id/disputes
func (h *Handler) OpenDispute(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "raisedBy and reason are required",
		})
		return
	}

	d, err := h.service.Open(c.Request.Context(), c.Param("id"), req.RaisedBy, req.Reason)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "dispute_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// ListDisputes handles GET /v1/payments/:id/disputes
func (h *Handler) ListDisputes(c *gin.Context) {
	disputes, err := h.service.ListByPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	d, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrDisputeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Dispute not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ResolveRequest is the payload for resolving a dispute.
type ResolveRequest struct {
	Outcome    Outcome `json:"outcome" binding:"required"`
	ResolvedBy string  `json:"resolvedBy" binding:"required"`
	Note       string  `json:"note"`
}

// ResolveDispute handles POST /v1/admin/disputes/:id/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "outcome and resolvedBy are required",
		})
		return
	}

	d, err := h.service.Resolve(c.Request.Context(), c.Param("id"), req.Outcome, req.ResolvedBy, req.Note)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrDisputeNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrAlreadyResolved):
			status = http.StatusConflict
			code = "already_resolved"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// MessageRequest is the payload for posting to a dispute thread.
type MessageRequest struct {
	Author string `json:"author" binding:"required"`
	Body   string `json:"body" binding:"required"`
}

// AddMessage handles POST /v1/disputes/:id/messages
func (h *Handler) AddMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "author and body are required",
		})
		return
	}

	m, err := h.service.AddMessage(c.Request.Context(), c.Param("id"), req.Author, req.Body)
	if err != nil {
		if errors.Is(err, ErrDisputeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Dispute not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": m})
}

// ListMessages handles GET /v1/disputes/:id/messages
func (h *Handler) ListMessages(c *gin.Context) {
	messages, err := h.service.Messages(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}
