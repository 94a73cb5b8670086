package notify

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/davigut/pactum/internal/security"
)

// Handler provides HTTP endpoints for webhook subscription management
type Handler struct {
	store Store
}

// NewHandler creates a new notification handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up webhook subscription routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.CreateSubscription)
	r.GET("/webhooks", h.ListSubscriptions)
	r.DELETE("/webhooks/:subscriptionId", h.DeleteSubscription)
}

// CreateSubscriptionRequest for registering a webhook endpoint
type CreateSubscriptionRequest struct {
	Email  string   `json:"email" binding:"required"`
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events"`
}

// CreateSubscription handles POST /webhooks
func (h *Handler) CreateSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	// The dispatcher POSTs to this URL from inside the platform, so it
	// must not point at anything internal.
	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}

	// Empty events means the subscriber receives everything.
	events := make([]EventType, len(req.Events))
	for i, e := range req.Events {
		events[i] = EventType(e)
	}

	secret := generateSecret()
	sub := &Subscription{
		ID:        generateID("sub_"),
		Email:     req.Email,
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create subscription",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"subscription": gin.H{
			"id":        sub.ID,
			"email":     sub.Email,
			"url":       sub.URL,
			"events":    sub.Events,
			"active":    sub.Active,
			"createdAt": sub.CreatedAt,
		},
		"secret": secret, // Only shown once!
		"usage": gin.H{
			"signature": "Verify with HMAC-SHA256(payload, secret)",
			"header":    "X-Pactum-Signature",
		},
	})
}

// ListSubscriptions handles GET /webhooks?email=...
func (h *Handler) ListSubscriptions(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "email query parameter is required",
		})
		return
	}

	subs, err := h.store.GetByEmail(c.Request.Context(), email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list subscriptions",
		})
		return
	}

	// Don't expose secrets
	out := make([]gin.H, len(subs))
	for i, sub := range subs {
		out[i] = gin.H{
			"id":          sub.ID,
			"email":       sub.Email,
			"url":         sub.URL,
			"events":      sub.Events,
			"active":      sub.Active,
			"createdAt":   sub.CreatedAt,
			"lastSuccess": sub.LastSuccess,
			"lastError":   sub.LastError,
		}
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": out})
}

// DeleteSubscription handles DELETE /webhooks/:subscriptionId
func (h *Handler) DeleteSubscription(c *gin.Context) {
	id := c.Param("subscriptionId")

	if _, err := h.store.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Subscription not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete subscription",
		})
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete subscription",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "deleted",
		"message": "Subscription deleted",
	})
}

func generateID(prefix string) string {
	b := make([]byte, 12)
	rand.Read(b)
	return prefix + hex.EncodeToString(b)
}

func generateSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
