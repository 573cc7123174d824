package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription status constants
const (
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
	SubscriptionAttended  = "attended"
)

// Subscription ties one participant (by wallet address) to one event.
// (event_id, wallet_address) pairs are unique; re-subscribing reactivates the
// existing row instead of creating a new one. Once status reaches "attended"
// it never reverts, and is_first_time is never recomputed afterwards. The
// version column is bumped on every write and used as a compare-and-swap
// guard for the attended transition.
type Subscription struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	EventID       uuid.UUID  `json:"event_id" db:"event_id"`
	WalletAddress string     `json:"wallet_address" db:"wallet_address"`
	Status        string     `json:"status" db:"status"`
	SubscribedAt  time.Time  `json:"subscribed_at" db:"subscribed_at"`
	AttendedAt    *time.Time `json:"attended_at,omitempty" db:"attended_at"`
	IsFirstTime   bool       `json:"is_first_time" db:"is_first_time"`
	NFTMinted     bool       `json:"nft_minted" db:"nft_minted"`
	NFTFailed     bool       `json:"nft_failed" db:"nft_failed"`
	NFTError      string     `json:"nft_error,omitempty" db:"nft_error"`
	RewardSent    bool       `json:"reward_sent" db:"reward_sent"`
	RewardFailed  bool       `json:"reward_failed" db:"reward_failed"`
	RewardError   string     `json:"reward_error,omitempty" db:"reward_error"`
	RetryCount    int        `json:"retry_count" db:"retry_count"`
	LastRetryAt   *time.Time `json:"last_retry_at,omitempty" db:"last_retry_at"`
	Version       int        `json:"-" db:"version"`
}

type CheckInRequest struct {
	QRSecretToken string `json:"qrSecretToken" binding:"required"`
	WalletAddress string `json:"walletAddress"`
}

// CheckInResult is returned with HTTP 200 even when a side-effect branch
// failed: attendance itself succeeded, and the failure flags let the caller
// surface a partially-completed state.
type CheckInResult struct {
	IsFirstTime       bool   `json:"isFirstTime"`
	MemberNFTMinted   bool   `json:"memberNftMinted"`
	RewardDistributed bool   `json:"rewardDistributed"`
	NFTTransferFailed bool   `json:"nftTransferFailed,omitempty"`
	NFTError          string `json:"nftError,omitempty"`
	RewardFailed      bool   `json:"rewardFailed,omitempty"`
	RewardError       string `json:"rewardError,omitempty"`
}

// RetryOutcome reports one retry branch. Attempted is false when the branch
// had nothing flagged as failed.
type RetryOutcome struct {
	Attempted bool   `json:"attempted"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
}

type RetryResult struct {
	NFT    RetryOutcome `json:"nft"`
	Reward RetryOutcome `json:"reward"`
}
