package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"memberhub-backend/models"
	"memberhub-backend/workflow"
)

// AttendanceEngine is what the handler needs from the workflow layer.
type AttendanceEngine interface {
	CheckIn(ctx context.Context, eventID uuid.UUID, wallet, secret string) (*models.CheckInResult, error)
	RetryFailed(ctx context.Context, eventID uuid.UUID, wallet string) (*models.RetryResult, error)
}

type CheckinHandler struct {
	engine AttendanceEngine
}

func NewCheckinHandler(engine AttendanceEngine) *CheckinHandler {
	return &CheckinHandler{engine: engine}
}

// CheckIn handles POST /events/:id/checkin. A 200 response means attendance
// was recorded; side-effect failures ride along in the result body.
func (h *CheckinHandler) CheckIn(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid event ID"})
		return
	}

	var req models.CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	wallet := c.GetHeader("wallet-address")
	if wallet == "" {
		wallet = req.WalletAddress
	}
	if wallet == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Wallet address is required"})
		return
	}

	log.Printf("Checking in participant: event=%s, wallet=%s", eventID, wallet)

	result, err := h.engine.CheckIn(c, eventID, wallet, req.QRSecretToken)
	if err != nil {
		renderWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Successfully checked in to event",
		"data":    result,
	})
}

// RetryFailed handles POST /events/:id/retry, re-attempting flagged NFT and
// reward side effects for an attended subscription.
func (h *CheckinHandler) RetryFailed(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid event ID"})
		return
	}

	wallet := c.GetHeader("wallet-address")
	if wallet == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Wallet address is required"})
		return
	}

	log.Printf("Retrying failed side effects: event=%s, wallet=%s", eventID, wallet)

	result, err := h.engine.RetryFailed(c, eventID, wallet)
	if err != nil {
		renderWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Retry completed",
		"results": result,
	})
}

func renderWorkflowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, workflow.ErrEventNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Event not found"})
	case errors.Is(err, workflow.ErrInvalidSecret):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Invalid check-in secret"})
	case errors.Is(err, workflow.ErrNotSubscribed):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "No subscription found for this event. Please subscribe first."})
	case errors.Is(err, workflow.ErrAlreadyCheckedIn):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Participant has already checked in to this event"})
	case errors.Is(err, workflow.ErrNotAttended):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Retry is only available after check-in"})
	case errors.Is(err, workflow.ErrRetryThrottled):
		c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "message": "Retry attempted too soon, please wait before retrying"})
	default:
		log.Printf("Unexpected workflow error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
	}
}
