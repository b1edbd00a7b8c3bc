/*
Copyright 2025 The Courier Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"fmt"
	"time"
)

// DeleteEventsBefore removes at most limit events older than cutoff and
// returns the number deleted. The janitor calls this in chunks to keep lock
// durations short.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM events WHERE id IN (
			SELECT id FROM events WHERE created_at < $1 LIMIT $2
		)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// DeleteTerminalMessagesBefore removes at most limit terminal messages older
// than cutoff. Queued messages are never touched.
func (s *Store) DeleteTerminalMessagesBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE id IN (
			SELECT id FROM messages
			WHERE status IN ('delivered', 'failed', 'dead') AND created_at < $1
			LIMIT $2
		)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete old messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// DeleteRateBucketsBefore disposes of minute windows older than cutoff.
func (s *Store) DeleteRateBucketsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limit_tracking WHERE minute_window < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete rate buckets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
