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

// InsertAdminEvent appends a control-plane audit record.
func (s *Store) InsertAdminEvent(ctx context.Context, ev *model.AdminEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_events (id, actor, action, project_id, detail)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.Actor, ev.Action, ev.ProjectID, ev.Detail)
	if err != nil {
		return fmt.Errorf("insert admin event: %w", err)
	}
	return nil
}
