package database

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

const alertColumns = `id, user_id, name, description, location, parameter,
		       operator, threshold_value, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	var a Alert
	if err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Name,
		&a.Description,
		&a.Location,
		&a.Parameter,
		&a.Threshold.Operator,
		&a.Threshold.Value,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAlerts returns every alert ordered by location, then creation time.
func (db *DB) ListAlerts(ctx context.Context) ([]*Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		ORDER BY location, created_at, id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// SetAlertStatus sets status on every alert in ids with a single statement.
// Rows already in that status are left untouched; the rows actually changed
// are returned.
func (db *DB) SetAlertStatus(ctx context.Context, ids []string, status string) ([]AlertStatusChange, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		UPDATE alerts
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ANY($2::uuid[]) AND status <> $1
		RETURNING id, user_id, status, updated_at
	`

	rows, err := db.QueryContext(ctx, query, status, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to update alert status: %w", err)
	}
	defer rows.Close()

	var changes []AlertStatusChange
	for rows.Next() {
		var c AlertStatusChange
		if err := rows.Scan(&c.ID, &c.UserID, &c.Status, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		changes = append(changes, c)
	}

	return changes, rows.Err()
}

// CreateAlert inserts a new alert and fills in its generated fields.
func (db *DB) CreateAlert(ctx context.Context, a *Alert) error {
	query := `
		INSERT INTO alerts (
			user_id, name, description, location, parameter, operator, threshold_value
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, status, created_at, updated_at
	`

	err := db.QueryRowContext(ctx, query,
		a.UserID,
		a.Name,
		a.Description,
		a.Location,
		a.Parameter,
		a.Threshold.Operator,
		a.Threshold.Value,
	).Scan(&a.ID, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// ListAlertsByUser returns one page of a user's alerts, newest first, and
// the user's total alert count.
func (db *DB) ListAlertsByUser(ctx context.Context, userID string, page, limit int) ([]*Alert, int, error) {
	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := db.QueryContext(ctx, query, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*Alert, 0, limit)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}

	return alerts, total, rows.Err()
}
