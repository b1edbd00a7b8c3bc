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
	"github.com/jmoiron/sqlx"

	"github.com/courierhq/courier/internal/model"
)

func insertEvent(ctx context.Context, q sqlx.ExtContext, ev *model.Event) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO events (id, message_id, project_id, event_type, provider_response)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.MessageID, ev.ProjectID, ev.EventType, ev.ProviderResponse)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// InsertEvent appends a timeline entry within the transaction.
func (t *Tx) InsertEvent(ctx context.Context, ev *model.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	return insertEvent(ctx, t.tx, ev)
}

// EventsByMessage returns the timeline of a message, oldest first, scoped to
// the owning project.
func (s *Store) EventsByMessage(ctx context.Context, projectID, messageID uuid.UUID) ([]model.Event, error) {
	events := []model.Event{}
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, message_id, project_id, event_type, provider_response, created_at
		FROM events
		WHERE message_id = $1 AND project_id = $2
		ORDER BY created_at ASC`, messageID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
