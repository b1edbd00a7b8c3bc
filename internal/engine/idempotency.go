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

package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/store"
)

// IdempotencyGuard consults the idempotency index at enqueue time. The
// read here is an optimization; the unique index on
// (project_id, idempotency_key) is the ultimate arbiter under races.
type IdempotencyGuard struct {
	store *store.Store
}

// NewIdempotencyGuard creates the guard.
func NewIdempotencyGuard(s *store.Store) *IdempotencyGuard {
	return &IdempotencyGuard{store: s}
}

// Check returns the existing message for (projectID, key), or nil when the
// key is fresh. A nil key is always fresh.
func (g *IdempotencyGuard) Check(ctx context.Context, projectID uuid.UUID, key *string) (*model.Message, error) {
	if key == nil || *key == "" {
		return nil, nil
	}
	m, err := g.store.MessageByIdempotencyKey(ctx, projectID, *key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}
