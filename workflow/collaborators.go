package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"memberhub-backend/models"
)

// Store is the slice of persistence the engine needs. Lookups return
// (nil, nil) when the document does not exist.
type Store interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	GetSubscription(ctx context.Context, eventID uuid.UUID, wallet string) (*models.Subscription, error)
	GetProfile(ctx context.Context, wallet string) (*models.Profile, error)
	CountAttended(ctx context.Context, wallet string) (int64, error)
	ClaimAttendance(ctx context.Context, id uuid.UUID, version int, firstTime bool, at time.Time) (bool, error)
	SetNFTOutcome(ctx context.Context, id uuid.UUID, minted, failed bool, errText string) error
	SetRewardOutcome(ctx context.Context, id uuid.UUID, sent, failed bool, errText string) error
	RecordRetry(ctx context.Context, id uuid.UUID, version int, at time.Time) (bool, error)
	AppendMembershipToken(ctx context.Context, wallet string, serial int64) error
}

// Credential identifies one minted membership NFT.
type Credential struct {
	TokenID string
	Serial  int64
}

type MintRequest struct {
	Wallet      string
	Name        string
	Email       string
	MetadataRef string
}

// CredentialIssuer mints a membership NFT and transfers it to a wallet. The
// engine assumes, but cannot enforce, that implementations tolerate being
// asked to transfer a credential the destination already holds.
type CredentialIssuer interface {
	Mint(ctx context.Context, req MintRequest) (*Credential, error)
	Transfer(ctx context.Context, tokenID string, serial int64, destination string) (string, error)
}

type DistributeRequest struct {
	EventID     string
	TokenID     string
	Amount      int64
	Destination string
}

type DistributeResult struct {
	Success bool
	TxID    string
	Message string
}

// RewardDistributor moves reward tokens from the treasury to a participant.
type RewardDistributor interface {
	Distribute(ctx context.Context, req DistributeRequest) (*DistributeResult, error)
}

// AuditLog receives workflow notifications. Implementations must never block
// the caller; emission is fire-and-forget.
type AuditLog interface {
	Emit(topic string, event interface{})
}

// CheckInAudit is the payload appended to the event's audit topic after a
// check-in commits.
type CheckInAudit struct {
	EventID       string    `json:"event_id"`
	EventName     string    `json:"event_name"`
	WalletAddress string    `json:"wallet_address"`
	IsFirstTime   bool      `json:"is_first_time"`
	NFTMinted     bool      `json:"nft_minted"`
	RewardSent    bool      `json:"reward_sent"`
	CheckedInAt   time.Time `json:"checked_in_at"`
}
