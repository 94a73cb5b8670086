package multisig

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/davigut/pactum/internal/validation"
)

// Handler provides HTTP endpoints for multisig operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new multisig handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up multisig routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/multisig/requests/:id", h.GetRequest)
	r.POST("/multisig/requests/:id/signatures", h.AddSignature)
	r.POST("/multisig/requests/:id/execute", h.Execute)
}

// RegisterAdminRoutes sets up operator-only multisig routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/multisig/wallets", h.CreateWallet)
	r.GET("/multisig/wallets/:id", h.GetWallet)
}

// CreateWalletRequest is the payload for registering a wallet config.
type CreateWalletRequest struct {
	Address   string   `json:"address" binding:"required"`
	Owners    []string `json:"owners" binding:"required"`
	Threshold int      `json:"threshold" binding:"required"`
}

// CreateWallet handles POST /v1/admin/multisig/wallets
func (h *Handler) CreateWallet(c *gin.Context) {
	var req CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "address, owners, and threshold are required",
		})
		return
	}

	validators := []func() *validation.ValidationError{
		validation.ValidAddress("address", req.Address),
	}
	for _, o := range req.Owners {
		validators = append(validators, validation.ValidAddress("owners", o))
	}
	if errs := validation.Validate(validators...); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	w, err := h.service.CreateWallet(c.Request.Context(), req.Address, req.Owners, req.Threshold)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_wallet",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"wallet": w})
}

// GetWallet handles GET /v1/admin/multisig/wallets/:id
func (h *Handler) GetWallet(c *gin.Context) {
	w, err := h.service.GetWallet(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Wallet not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// GetRequest handles GET /v1/multisig/requests/:id
func (h *Handler) GetRequest(c *gin.Context) {
	r, sigs, log, err := h.service.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Approval request not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"request":    r,
		"signatures": sigs,
		"txLog":      log,
	})
}

// SignatureRequest is the payload for submitting a signature.
type SignatureRequest struct {
	Signer    string `json:"signer" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// AddSignature handles POST /v1/multisig/requests/:id/signatures
func (h *Handler) AddSignature(c *gin.Context) {
	var req SignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "signer and signature are required",
		})
		return
	}

	result, err := h.service.AddSignature(c.Request.Context(), c.Param("id"), req.Signer, req.Signature)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrRequestNotFound), errors.Is(err, ErrWalletNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrNotAnOwner):
			status = http.StatusForbidden
			code = "not_an_owner"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Execute handles POST /v1/multisig/requests/:id/execute
func (h *Handler) Execute(c *gin.Context) {
	result, err := h.service.ExecuteIfReady(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Approval request not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "execution_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, result)
}
