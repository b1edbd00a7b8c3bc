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

	"github.com/courierhq/courier/internal/model"
)

const messageColumns = `id, project_id, type, status, from_address, to_address, subject, body,
	metadata, idempotency_key, attempts, max_attempts, next_attempt_at, scheduled_for,
	created_at, updated_at`

// CreateMessage atomically inserts a message and its requested event. A lost
// race on the idempotency unique index surfaces as
// ErrDuplicateIdempotencyKey with nothing persisted.
func (s *Store) CreateMessage(ctx context.Context, m *model.Message) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.GetContext(ctx, m, `
		INSERT INTO messages (id, project_id, type, status, from_address, to_address,
			subject, body, metadata, idempotency_key, attempts, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+messageColumns,
		m.ID, m.ProjectID, m.Type, m.Status, m.FromAddress, m.ToAddress,
		m.Subject, m.Body, m.Metadata, m.IdempotencyKey, m.Attempts, m.MaxAttempts)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert message: %w", err)
	}

	if err := insertEvent(ctx, tx, &model.Event{
		ID:        uuid.New(),
		MessageID: m.ID,
		ProjectID: m.ProjectID,
		EventType: model.EventRequested,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MessageForProject fetches a message scoped to its owning project.
func (s *Store) MessageForProject(ctx context.Context, projectID, id uuid.UUID) (*model.Message, error) {
	var m model.Message
	err := s.db.GetContext(ctx, &m,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND project_id = $2`,
		id, projectID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", notFound(err))
	}
	return &m, nil
}

// MessageByIdempotencyKey resolves the winner of an idempotency race.
func (s *Store) MessageByIdempotencyKey(ctx context.Context, projectID uuid.UUID, key string) (*model.Message, error) {
	var m model.Message
	err := s.db.GetContext(ctx, &m,
		`SELECT `+messageColumns+` FROM messages WHERE project_id = $1 AND idempotency_key = $2`,
		projectID, key)
	if err != nil {
		return nil, fmt.Errorf("get message by idempotency key: %w", notFound(err))
	}
	return &m, nil
}

// ListMessages returns project messages newest first, optionally filtered by
// status.
func (s *Store) ListMessages(ctx context.Context, projectID uuid.UUID, status model.MessageStatus, limit, offset int) ([]model.Message, error) {
	msgs := []model.Message{}
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &msgs, `
			SELECT `+messageColumns+` FROM messages
			WHERE project_id = $1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			projectID, limit, offset)
	} else {
		err = s.db.SelectContext(ctx, &msgs, `
			SELECT `+messageColumns+` FROM messages
			WHERE project_id = $1 AND status = $2
			ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
			projectID, status, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// ClaimQueued locks up to limit ready messages in FIFO order. SKIP LOCKED
// gives concurrent workers disjoint batches without coordination; the locks
// are held until the surrounding transaction ends.
func (t *Tx) ClaimQueued(ctx context.Context, limit int) ([]model.Message, error) {
	msgs := []model.Message{}
	err := t.tx.SelectContext(ctx, &msgs, `
		SELECT `+messageColumns+` FROM messages
		WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= now())
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim queued: %w", err)
	}
	return msgs, nil
}

// ProjectByID fetches a project inside the claim transaction, for the
// suspension re-check.
func (t *Tx) ProjectByID(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	var p model.Project
	err := t.tx.GetContext(ctx, &p,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", notFound(err))
	}
	return &p, nil
}

// IncrementAttempts bumps the attempt counter and returns the new value.
func (t *Tx) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := t.tx.GetContext(ctx, &attempts, `
		UPDATE messages SET attempts = attempts + 1, updated_at = now()
		WHERE id = $1
		RETURNING attempts`, id)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}

// SetStatus transitions a message to the given status.
func (t *Tx) SetStatus(ctx context.Context, id uuid.UUID, status model.MessageStatus) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE messages SET status = $2, updated_at = now()
		WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	return nil
}

// ScheduleRetry keeps the message queued and sets its next-attempt time.
func (t *Tx) ScheduleRetry(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE messages SET next_attempt_at = $2, updated_at = now()
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}
