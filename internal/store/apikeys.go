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

// APIKeyByHash looks up an active (non-revoked) API key by its SHA-256 hex
// digest. Revoked keys are invisible to this lookup.
func (s *Store) APIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	var k model.APIKey
	err := s.db.GetContext(ctx, &k, `
		SELECT id, project_id, key_hash, name, created_at, last_used_at, revoked_at
		FROM api_keys
		WHERE key_hash = $1 AND revoked_at IS NULL`, keyHash)
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", notFound(err))
	}
	return &k, nil
}

// CreateAPIKey inserts a key record. The caller supplies the hash; plaintext
// keys never reach the store.
func (s *Store) CreateAPIKey(ctx context.Context, k *model.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, project_id, key_hash, name)
		VALUES ($1, $2, $3, $4)`,
		k.ID, k.ProjectID, k.KeyHash, k.Name)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// TouchAPIKey updates last_used_at. Best-effort; callers may ignore the error.
func (s *Store) TouchAPIKey(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}
