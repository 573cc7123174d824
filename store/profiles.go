package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"memberhub-backend/models"
)

const profileColumns = `
	wallet_address, name, email, membership_serials, has_attended, created_at, updated_at
`

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var profile models.Profile
	err := row.Scan(
		&profile.WalletAddress,
		&profile.Name,
		&profile.Email,
		&profile.MembershipSerials,
		&profile.HasAttended,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// GetProfile returns nil without error when no profile exists for the wallet.
func (s *Store) GetProfile(ctx context.Context, wallet string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE wallet_address = $1`
	return scanProfile(s.db.QueryRow(ctx, query, wallet))
}

func (s *Store) UpsertProfile(ctx context.Context, wallet string, name, email *string) (*models.Profile, error) {
	query := `
		INSERT INTO profiles (wallet_address, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (wallet_address) DO UPDATE SET
			name = COALESCE(EXCLUDED.name, profiles.name),
			email = COALESCE(EXCLUDED.email, profiles.email),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + profileColumns
	return scanProfile(s.db.QueryRow(ctx, query, wallet, name, email, time.Now()))
}

// AppendMembershipToken records a successfully issued membership NFT serial
// on the wallet's profile and marks the wallet as having attended. The
// profile row is created on the fly if the member never registered one.
func (s *Store) AppendMembershipToken(ctx context.Context, wallet string, serial int64) error {
	query := `
		INSERT INTO profiles (wallet_address, membership_serials, has_attended, created_at, updated_at)
		VALUES ($1, ARRAY[$2::BIGINT], true, $3, $3)
		ON CONFLICT (wallet_address) DO UPDATE SET
			membership_serials = array_append(profiles.membership_serials, $2),
			has_attended = true,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.Exec(ctx, query, wallet, serial, time.Now())
	return err
}
