package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"memberhub-backend/models"
	"memberhub-backend/workflow"
)

// EventStore is the slice of persistence the event handlers need.
type EventStore interface {
	CreateEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	ListEvents(ctx context.Context, activeOnly bool, limit, offset int) ([]models.Event, int, error)
	UpdateEvent(ctx context.Context, id uuid.UUID, req models.UpdateEventRequest) (*models.Event, error)
	DeactivateEvent(ctx context.Context, id uuid.UUID) (bool, error)
	GetSubscription(ctx context.Context, eventID uuid.UUID, wallet string) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, eventID uuid.UUID, wallet string) (*models.Subscription, error)
	ReactivateSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	CancelSubscription(ctx context.Context, eventID uuid.UUID, wallet string) (bool, error)
	ListEventSubscriptions(ctx context.Context, eventID uuid.UUID) ([]models.Subscription, error)
	CountEventParticipants(ctx context.Context, eventID uuid.UUID) (int64, error)
}

type EventHandler struct {
	store EventStore
}

func NewEventHandler(store EventStore) *EventHandler {
	return &EventHandler{store: store}
}

func (h *EventHandler) CreateEvent(c *gin.Context) {
	var req models.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	// Reward spec is all-or-nothing
	if (req.RewardTokenID == nil) != (req.RewardAmount == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Reward token and amount must be provided together"})
		return
	}
	if req.RewardAmount != nil && *req.RewardAmount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Reward amount must be positive"})
		return
	}

	log.Printf("Creating event: %s", req.Name)

	event := &models.Event{
		ID:              uuid.New(),
		Name:            req.Name,
		Location:        req.Location,
		EventDate:       req.EventDate,
		MaxParticipants: req.MaxParticipants,
		Active:          true,
		RewardTokenID:   req.RewardTokenID,
		RewardAmount:    req.RewardAmount,
		AuditTopicID:    req.AuditTopicID,
		QRSecretToken:   generateSecretToken(),
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if req.Description != "" {
		event.Description = &req.Description
	}

	if err := h.store.CreateEvent(c, event); err != nil {
		log.Printf("Failed to create event: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to create event"})
		return
	}

	// The secret is returned once, at creation, so the organizer can embed
	// it in the event's QR code. It is never served again.
	c.JSON(http.StatusCreated, gin.H{
		"success":         true,
		"event":           event,
		"qr_secret_token": event.QRSecretToken,
	})
}

func (h *EventHandler) GetEvents(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	activeOnly := c.DefaultQuery("active", "true") != "false"

	events, total, err := h.store.ListEvents(c, activeOnly, limit, (page-1)*limit)
	if err != nil {
		log.Printf("Database query error in GetEvents: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

func (h *EventHandler) GetEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid event ID"})
		return
	}

	event, err := h.store.GetEvent(c, eventID)
	if err != nil {
		log.Printf("Database query error in GetEvent: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Event not found"})
		return
	}

	c.JSON(http.StatusOK, event)
}

func (h *EventHandler) UpdateEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid event ID"})
		return
	}

	var req models.UpdateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	event, err := h.store.UpdateEvent(c, eventID, req)
	if err != nil {
		log.Printf("Failed to update event %s: %v", eventID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to update event"})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Event not found"})
		return
	}

	c.JSON(http.StatusOK, event)
}

// DeactivateEvent soft-deactivates; subscriptions and attendance records stay.
func (h *EventHandler) DeactivateEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid event ID"})
		return
	}

	deactivated, err := h.store.DeactivateEvent(c, eventID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to deactivate event"})
		return
	}
	if !deactivated {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Event not found"})
		return
	}

	log.Printf("Event %s deactivated", eventID)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Event deactivated"})
}

// Subscribe handles POST /events/:id/subscribe. Re-subscribing after a
// cancellation reactivates the original subscription row.
func (h *EventHandler) Subscribe(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid event ID"})
		return
	}

	wallet := walletFromRequest(c)
	if wallet == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Wallet address is required"})
		return
	}
	if !common.IsHexAddress(wallet) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid wallet address"})
		return
	}
	wallet = workflow.NormalizeWallet(wallet)

	event, err := h.store.GetEvent(c, eventID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Event not found"})
		return
	}
	if !event.Active {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Event is no longer active"})
		return
	}

	existing, err := h.store.GetSubscription(c, eventID, wallet)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	if existing != nil {
		switch existing.Status {
		case models.SubscriptionActive:
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Already subscribed to this event"})
			return
		case models.SubscriptionAttended:
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Already attended this event"})
			return
		case models.SubscriptionCancelled:
			sub, err := h.store.ReactivateSubscription(c, existing.ID)
			if err != nil {
				log.Printf("Failed to reactivate subscription %s: %v", existing.ID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to re-subscribe"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Subscription reactivated", "data": sub})
			return
		}
	}

	if event.MaxParticipants != nil {
		count, err := h.store.CountEventParticipants(c, eventID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
			return
		}
		if count >= int64(*event.MaxParticipants) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Event is full"})
			return
		}
	}

	sub, err := h.store.CreateSubscription(c, eventID, wallet)
	if err != nil {
		log.Printf("Failed to create subscription: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to subscribe"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Successfully subscribed to event", "data": sub})
}

// CancelSubscription handles POST /events/:id/cancel. Attended subscriptions
// are final and cannot be cancelled.
func (h *EventHandler) CancelSubscription(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid event ID"})
		return
	}

	wallet := walletFromRequest(c)
	if wallet == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Wallet address is required"})
		return
	}
	wallet = workflow.NormalizeWallet(wallet)

	cancelled, err := h.store.CancelSubscription(c, eventID, wallet)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}
	if !cancelled {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No active subscription to cancel"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Subscription cancelled"})
}

func (h *EventHandler) GetEventSubscriptions(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid event ID"})
		return
	}

	event, err := h.store.GetEvent(c, eventID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Event not found"})
		return
	}

	subs, err := h.store.ListEventSubscriptions(c, eventID)
	if err != nil {
		log.Printf("Database query error in GetEventSubscriptions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

func walletFromRequest(c *gin.Context) string {
	if wallet := c.GetHeader("wallet-address"); wallet != "" {
		return wallet
	}
	var body struct {
		WalletAddress string `json:"walletAddress"`
	}
	if err := c.ShouldBindJSON(&body); err == nil {
		return body.WalletAddress
	}
	return ""
}

// generateSecretToken generates the shared secret embedded in the event's
// QR code.
func generateSecretToken() string {
	randomBytes := make([]byte, 16)
	rand.Read(randomBytes)
	return hex.EncodeToString(randomBytes)
}
