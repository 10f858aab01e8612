package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/amparo-line/amparo/internal/model"
)

// The volunteers table is owned by the identity collaborator; the core only
// ever reads it.

func (s *Store) GetVolunteer(ctx context.Context, id uuid.UUID) (*model.Volunteer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, role, status, is_on_duty, phone, push_endpoint
		FROM volunteers WHERE id = $1`, id)

	var v model.Volunteer
	err := row.Scan(&v.ID, &v.Name, &v.Role, &v.Status, &v.IsOnDuty, &v.Phone, &v.PushEndpoint)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan volunteer: %w", err)
	}
	return &v, nil
}

// ListActiveVolunteers returns every active volunteer; onDutyOnly narrows
// to the preferentially-notified set.
func (s *Store) ListActiveVolunteers(ctx context.Context, onDutyOnly bool) ([]model.Volunteer, error) {
	q := `
		SELECT id, name, role, status, is_on_duty, phone, push_endpoint
		FROM volunteers WHERE status = $1`
	if onDutyOnly {
		q += ` AND is_on_duty`
	}
	rows, err := s.pool.Query(ctx, q, model.VolunteerActive)
	if err != nil {
		return nil, fmt.Errorf("list volunteers: %w", err)
	}
	defer rows.Close()

	var out []model.Volunteer
	for rows.Next() {
		var v model.Volunteer
		if err := rows.Scan(&v.ID, &v.Name, &v.Role, &v.Status, &v.IsOnDuty, &v.Phone, &v.PushEndpoint); err != nil {
			return nil, fmt.Errorf("scan volunteer: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate volunteers: %w", err)
	}
	return out, nil
}
