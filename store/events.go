package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"memberhub-backend/models"
)

const eventColumns = `
	id, name, description, location, event_date, max_participants, active,
	reward_token_id, reward_amount, audit_topic_id, qr_secret_token,
	created_at, updated_at
`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var event models.Event
	err := row.Scan(
		&event.ID,
		&event.Name,
		&event.Description,
		&event.Location,
		&event.EventDate,
		&event.MaxParticipants,
		&event.Active,
		&event.RewardTokenID,
		&event.RewardAmount,
		&event.AuditTopicID,
		&event.QRSecretToken,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (s *Store) CreateEvent(ctx context.Context, event *models.Event) error {
	query := `
		INSERT INTO events (id, name, description, location, event_date, max_participants,
			active, reward_token_id, reward_amount, audit_topic_id, qr_secret_token,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`
	_, err := s.db.Exec(ctx, query,
		event.ID,
		event.Name,
		event.Description,
		event.Location,
		event.EventDate,
		event.MaxParticipants,
		event.Active,
		event.RewardTokenID,
		event.RewardAmount,
		event.AuditTopicID,
		event.QRSecretToken,
		event.CreatedAt,
	)
	return err
}

// GetEvent returns nil without error when the event does not exist.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	return scanEvent(s.db.QueryRow(ctx, query, id))
}

func (s *Store) ListEvents(ctx context.Context, activeOnly bool, limit, offset int) ([]models.Event, int, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	countQuery := `SELECT COUNT(*) FROM events`
	if activeOnly {
		query += ` WHERE active = true`
		countQuery += ` WHERE active = true`
	}
	query += ` ORDER BY event_date DESC LIMIT $1 OFFSET $2`

	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var event models.Event
		err := rows.Scan(
			&event.ID,
			&event.Name,
			&event.Description,
			&event.Location,
			&event.EventDate,
			&event.MaxParticipants,
			&event.Active,
			&event.RewardTokenID,
			&event.RewardAmount,
			&event.AuditTopicID,
			&event.QRSecretToken,
			&event.CreatedAt,
			&event.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

// UpdateEvent patches event metadata. The QR secret token is immutable once
// set and deliberately not part of this statement.
func (s *Store) UpdateEvent(ctx context.Context, id uuid.UUID, req models.UpdateEventRequest) (*models.Event, error) {
	query := `
		UPDATE events
		SET name = COALESCE(NULLIF($2, ''), name),
		    description = COALESCE(NULLIF($3, ''), description),
		    location = COALESCE(NULLIF($4, ''), location),
		    event_date = COALESCE($5, event_date),
		    max_participants = COALESCE($6, max_participants),
		    updated_at = $7
		WHERE id = $1
		RETURNING ` + eventColumns
	return scanEvent(s.db.QueryRow(ctx, query,
		id,
		req.Name,
		req.Description,
		req.Location,
		req.EventDate,
		req.MaxParticipants,
		time.Now(),
	))
}

// DeactivateEvent soft-deletes: events are never hard-deleted by this workflow.
func (s *Store) DeactivateEvent(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE events SET active = false, updated_at = $2 WHERE id = $1`,
		id, time.Now(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
