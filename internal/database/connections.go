package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertConnection records the socket a user is currently connected on.
func (db *DB) UpsertConnection(ctx context.Context, userID, socketID string) error {
	query := `
		INSERT INTO socket_connections (user_id, socket_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET socket_id = EXCLUDED.socket_id,
		    updated_at = CURRENT_TIMESTAMP
		WHERE socket_connections.socket_id IS DISTINCT FROM EXCLUDED.socket_id
	`
	if _, err := db.ExecContext(ctx, query, userID, socketID); err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return nil
}

// SetUserLocation persists the location monitored for a user.
func (db *DB) SetUserLocation(ctx context.Context, userID, location string) error {
	query := `
		INSERT INTO socket_connections (user_id, location)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET location = EXCLUDED.location,
		    updated_at = CURRENT_TIMESTAMP
	`
	if _, err := db.ExecContext(ctx, query, userID, location); err != nil {
		return fmt.Errorf("failed to set user location: %w", err)
	}
	return nil
}

// GetUserLocation returns the stored location for a user. ok is false when
// the user has no binding or no location set.
func (db *DB) GetUserLocation(ctx context.Context, userID string) (location string, ok bool, err error) {
	var loc sql.NullString
	err = db.QueryRowContext(ctx,
		`SELECT location FROM socket_connections WHERE user_id = $1`, userID,
	).Scan(&loc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get user location: %w", err)
	}
	if !loc.Valid || loc.String == "" {
		return "", false, nil
	}
	return loc.String, true, nil
}

// GetConnection loads a user's binding.
func (db *DB) GetConnection(ctx context.Context, userID string) (*Connection, error) {
	var c Connection
	err := db.QueryRowContext(ctx, `
		SELECT user_id, socket_id, location, created_at, updated_at
		FROM socket_connections
		WHERE user_id = $1
	`, userID).Scan(&c.UserID, &c.SocketID, &c.Location, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return &c, nil
}
