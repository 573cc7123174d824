package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"memberhub-backend/models"
)

const subscriptionColumns = `
	id, event_id, wallet_address, status, subscribed_at, attended_at,
	is_first_time, nft_minted, nft_failed, nft_error,
	reward_sent, reward_failed, reward_error,
	retry_count, last_retry_at, version
`

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var sub models.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.EventID,
		&sub.WalletAddress,
		&sub.Status,
		&sub.SubscribedAt,
		&sub.AttendedAt,
		&sub.IsFirstTime,
		&sub.NFTMinted,
		&sub.NFTFailed,
		&sub.NFTError,
		&sub.RewardSent,
		&sub.RewardFailed,
		&sub.RewardError,
		&sub.RetryCount,
		&sub.LastRetryAt,
		&sub.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// GetSubscription returns nil without error when no subscription exists for
// the (event, wallet) pair. Wallet addresses are stored lowercased.
func (s *Store) GetSubscription(ctx context.Context, eventID uuid.UUID, wallet string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE event_id = $1 AND wallet_address = $2`
	return scanSubscription(s.db.QueryRow(ctx, query, eventID, wallet))
}

func (s *Store) CreateSubscription(ctx context.Context, eventID uuid.UUID, wallet string) (*models.Subscription, error) {
	query := `
		INSERT INTO subscriptions (id, event_id, wallet_address, status, subscribed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + subscriptionColumns
	return scanSubscription(s.db.QueryRow(ctx, query,
		uuid.New(), eventID, wallet, models.SubscriptionActive, time.Now(),
	))
}

// ReactivateSubscription flips a cancelled subscription back to active and
// resets its subscription timestamp. It refuses to touch rows in any other
// status, so an attended subscription can never be reactivated.
func (s *Store) ReactivateSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET status = $2, subscribed_at = $3, version = version + 1, updated_at = $3
		WHERE id = $1 AND status = $4
		RETURNING ` + subscriptionColumns
	return scanSubscription(s.db.QueryRow(ctx, query,
		id, models.SubscriptionActive, time.Now(), models.SubscriptionCancelled,
	))
}

// CancelSubscription only cancels active subscriptions; attended rows are
// final. Returns false when nothing was cancelled.
func (s *Store) CancelSubscription(ctx context.Context, eventID uuid.UUID, wallet string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE subscriptions
		SET status = $3, version = version + 1, updated_at = $4
		WHERE event_id = $1 AND wallet_address = $2 AND status = $5
	`, eventID, wallet, models.SubscriptionCancelled, time.Now(), models.SubscriptionActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListEventSubscriptions(ctx context.Context, eventID uuid.UUID) ([]models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE event_id = $1 ORDER BY subscribed_at DESC`
	rows, err := s.db.Query(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		err := rows.Scan(
			&sub.ID,
			&sub.EventID,
			&sub.WalletAddress,
			&sub.Status,
			&sub.SubscribedAt,
			&sub.AttendedAt,
			&sub.IsFirstTime,
			&sub.NFTMinted,
			&sub.NFTFailed,
			&sub.NFTError,
			&sub.RewardSent,
			&sub.RewardFailed,
			&sub.RewardError,
			&sub.RetryCount,
			&sub.LastRetryAt,
			&sub.Version,
		)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// CountEventParticipants counts subscriptions holding a spot (active or
// attended), used for the capacity check.
func (s *Store) CountEventParticipants(ctx context.Context, eventID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM subscriptions
		WHERE event_id = $1 AND status IN ($2, $3)
	`, eventID, models.SubscriptionActive, models.SubscriptionAttended).Scan(&count)
	return count, err
}

// CountAttended counts attended subscriptions for a wallet across all events.
// A zero count means the next check-in is the wallet's first.
func (s *Store) CountAttended(ctx context.Context, wallet string) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM subscriptions
		WHERE wallet_address = $1 AND status = $2
	`, wallet, models.SubscriptionAttended).Scan(&count)
	return count, err
}

// ClaimAttendance performs the compare-and-swap transition to attended. The
// version and status predicates guarantee at most one caller wins; a false
// return means another check-in got there first.
func (s *Store) ClaimAttendance(ctx context.Context, id uuid.UUID, version int, firstTime bool, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE subscriptions
		SET status = $3, attended_at = $4, is_first_time = $5,
		    version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $2 AND status <> $3
	`, id, version, models.SubscriptionAttended, at, firstTime)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) SetNFTOutcome(ctx context.Context, id uuid.UUID, minted, failed bool, errText string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE subscriptions
		SET nft_minted = $2, nft_failed = $3, nft_error = $4,
		    version = version + 1, updated_at = $5
		WHERE id = $1
	`, id, minted, failed, errText, time.Now())
	return err
}

func (s *Store) SetRewardOutcome(ctx context.Context, id uuid.UUID, sent, failed bool, errText string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE subscriptions
		SET reward_sent = $2, reward_failed = $3, reward_error = $4,
		    version = version + 1, updated_at = $5
		WHERE id = $1
	`, id, sent, failed, errText, time.Now())
	return err
}

// RecordRetry claims one retry attempt with the same version
// compare-and-swap ClaimAttendance uses, so two retries racing past the
// backoff gate consume a single attempt. A false return means another
// retry got there first.
func (s *Store) RecordRetry(ctx context.Context, id uuid.UUID, version int, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE subscriptions
		SET retry_count = retry_count + 1, last_retry_at = $3,
		    version = version + 1, updated_at = $3
		WHERE id = $1 AND version = $2
	`, id, version, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
