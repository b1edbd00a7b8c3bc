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

	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/model"
)

// IncrementUsage bumps the monthly delivery counter for the bucket, creating
// it lazily. The upsert is atomic so concurrent workers cannot lose updates.
func (t *Tx) IncrementUsage(ctx context.Context, projectID uuid.UUID, period string, channel model.Channel) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO usage (project_id, period, message_type, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (project_id, period, message_type)
		DO UPDATE SET count = usage.count + 1`,
		projectID, period, channel)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// UsageTotal sums the project's delivery count across channels for a period.
func (s *Store) UsageTotal(ctx context.Context, projectID uuid.UUID, period string) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(count), 0) FROM usage
		WHERE project_id = $1 AND period = $2`, projectID, period)
	if err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return total, nil
}

// UsageBuckets returns the per-channel buckets for a period.
func (s *Store) UsageBuckets(ctx context.Context, projectID uuid.UUID, period string) ([]model.UsageBucket, error) {
	buckets := []model.UsageBucket{}
	err := s.db.SelectContext(ctx, &buckets, `
		SELECT id, project_id, period, message_type, count FROM usage
		WHERE project_id = $1 AND period = $2
		ORDER BY message_type ASC`, projectID, period)
	if err != nil {
		return nil, fmt.Errorf("list usage buckets: %w", err)
	}
	return buckets, nil
}
