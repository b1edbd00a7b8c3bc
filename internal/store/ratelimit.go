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

	"github.com/google/uuid"
)

// IncrementRateBucket consumes one token from the project's tumbling minute
// window and returns the new count. Insert-on-conflict-update makes the
// increment atomic under concurrent API writers.
func (s *Store) IncrementRateBucket(ctx context.Context, projectID uuid.UUID, window time.Time) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `
		INSERT INTO rate_limit_tracking (project_id, minute_window, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (project_id, minute_window)
		DO UPDATE SET count = rate_limit_tracking.count + 1
		RETURNING count`,
		projectID, window)
	if err != nil {
		return 0, fmt.Errorf("increment rate bucket: %w", err)
	}
	return count, nil
}
