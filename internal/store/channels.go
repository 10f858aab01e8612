package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ChannelEnabled reports whether intake is switched on for a transport
// channel. Unknown channels are disabled; an operator has to opt a channel
// in before it accepts traffic.
func (s *Store) ChannelEnabled(ctx context.Context, name string) (bool, error) {
	var enabled bool
	err := s.pool.QueryRow(ctx,
		`SELECT enabled FROM channels WHERE name = $1`, name).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read channel config: %w", err)
	}
	return enabled, nil
}
