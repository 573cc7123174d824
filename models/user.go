package models

import (
	"time"
)

// Profile holds a member's identity record keyed by wallet address, including
// the membership NFT serials already issued to the wallet and a coarse
// "has ever attended" flag. The workflow only mutates it when a credential is
// successfully issued and transferred.
type Profile struct {
	WalletAddress     string    `json:"wallet_address" db:"wallet_address"`
	Name              *string   `json:"name" db:"name"`
	Email             *string   `json:"email" db:"email"`
	MembershipSerials []int64   `json:"membership_serials" db:"membership_serials"`
	HasAttended       bool      `json:"has_attended" db:"has_attended"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

type UpsertProfileRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	Name          string `json:"name"`
	Email         string `json:"email"`
}
