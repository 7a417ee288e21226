// Package totem keeps the registry of capture kiosks and their refresh
// tokens. Totems authenticate with device-level JWTs, not user accounts.
package totem

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"presenca/internal/apperr"
)

// Totem is one registered capture device, bound to a room.
type Totem struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists totem registrations in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert ensures a totem record exists and is bound to the room.
func (r *Repository) Upsert(ctx context.Context, totemID, roomID string) error {
	if totemID == "" {
		return apperr.Validation("totem id is required")
	}
	if roomID == "" {
		return apperr.Validation("room id is required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO totems (id, room_id)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET room_id = EXCLUDED.room_id
	`, totemID, roomID)
	return err
}

// Get returns a totem by id.
func (r *Repository) Get(ctx context.Context, totemID string) (Totem, error) {
	var t Totem
	err := r.db.QueryRowContext(ctx, `
		SELECT id, room_id, created_at FROM totems WHERE id = $1
	`, totemID).Scan(&t.ID, &t.RoomID, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Totem{}, apperr.NotFound("totem not found")
	}
	return t, err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, totemID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO totem_refresh_tokens (totem_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, totemID, token, expiresAt)
	return err
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE totem_refresh_tokens SET revoked = TRUE WHERE token = $1
	`, token)
	return err
}
