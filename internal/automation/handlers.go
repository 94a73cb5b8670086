package automation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the manual automation trigger.
type Handler struct {
	sched *Scheduler
}

// NewHandler creates automation HTTP handlers.
func NewHandler(sched *Scheduler) *Handler {
	return &Handler{sched: sched}
}

// RegisterAdminRoutes mounts the operator-only trigger endpoint.
func (h *Handler) RegisterAdminRoutes(r gin.IRoutes) {
	r.POST("/automation/trigger", h.trigger)
}

// TriggerRequest names the process to run.
type TriggerRequest struct {
	Process string `json:"process" binding:"required"`
}

func (h *Handler) trigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if err := h.sched.Trigger(c.Request.Context(), req.Process); err != nil {
		if errors.Is(err, ErrUnknownProcess) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unknown_process",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "process_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "completed",
		"process": req.Process,
	})
}
