package models

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a scheduled gathering that members can subscribe to and
// check in at. The QR secret token is generated once at creation and never
// updated afterwards; it is compared verbatim against the token presented
// during check-in.
type Event struct {
	ID              uuid.UUID `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	Description     *string   `json:"description,omitempty" db:"description"`
	Location        string    `json:"location" db:"location"`
	EventDate       time.Time `json:"event_date" db:"event_date"`
	MaxParticipants *int      `json:"max_participants,omitempty" db:"max_participants"` // nil = unbounded
	Active          bool      `json:"active" db:"active"`
	RewardTokenID   *string   `json:"reward_token_id,omitempty" db:"reward_token_id"`
	RewardAmount    *int64    `json:"reward_amount,omitempty" db:"reward_amount"`
	AuditTopicID    *string   `json:"audit_topic_id,omitempty" db:"audit_topic_id"`
	QRSecretToken   string    `json:"-" db:"qr_secret_token"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// HasReward reports whether a reward spec is configured. The schema enforces
// that token id and amount are either both present or both absent.
func (e *Event) HasReward() bool {
	return e.RewardTokenID != nil && e.RewardAmount != nil
}

type CreateEventRequest struct {
	Name            string    `json:"name" binding:"required"`
	Description     string    `json:"description"`
	Location        string    `json:"location"`
	EventDate       time.Time `json:"event_date" binding:"required"`
	MaxParticipants *int      `json:"max_participants"`
	RewardTokenID   *string   `json:"reward_token_id"`
	RewardAmount    *int64    `json:"reward_amount"`
	AuditTopicID    *string   `json:"audit_topic_id"`
}

type UpdateEventRequest struct {
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Location        string     `json:"location"`
	EventDate       *time.Time `json:"event_date"`
	MaxParticipants *int       `json:"max_participants"`
}
