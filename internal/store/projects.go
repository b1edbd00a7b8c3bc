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

const projectColumns = `id, name, owner_email, status, monthly_limit, rate_limit_per_minute, created_at`

// ProjectByID fetches a project.
func (s *Store) ProjectByID(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	var p model.Project
	err := s.db.GetContext(ctx, &p,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", notFound(err))
	}
	return &p, nil
}

// ListProjects returns projects ordered by creation time, newest first.
func (s *Store) ListProjects(ctx context.Context, limit, offset int) ([]model.Project, error) {
	projects := []model.Project{}
	err := s.db.SelectContext(ctx, &projects,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// CreateProject inserts a new tenant.
func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	err := s.db.GetContext(ctx, p, `
		INSERT INTO projects (id, name, owner_email, status, monthly_limit, rate_limit_per_minute)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+projectColumns,
		p.ID, p.Name, p.OwnerEmail, p.Status, p.MonthlyLimit, p.RateLimitPerMinute)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// ProjectPatch carries the admin-updatable project fields. Nil fields are
// left unchanged; SetMonthlyLimit/SetRateLimit distinguish "clear the limit"
// from "leave it alone".
type ProjectPatch struct {
	Status             *model.ProjectStatus
	MonthlyLimit       *int64
	SetMonthlyLimit    bool
	RateLimitPerMinute *int64
	SetRateLimit       bool
}

// UpdateProject applies a patch and returns the updated row.
func (s *Store) UpdateProject(ctx context.Context, id uuid.UUID, patch ProjectPatch) (*model.Project, error) {
	var p model.Project
	err := s.db.GetContext(ctx, &p, `
		UPDATE projects SET
			status = COALESCE($2, status),
			monthly_limit = CASE WHEN $3 THEN $4 ELSE monthly_limit END,
			rate_limit_per_minute = CASE WHEN $5 THEN $6 ELSE rate_limit_per_minute END
		WHERE id = $1
		RETURNING `+projectColumns,
		id, patch.Status, patch.SetMonthlyLimit, patch.MonthlyLimit,
		patch.SetRateLimit, patch.RateLimitPerMinute)
	if err != nil {
		return nil, fmt.Errorf("update project: %w", notFound(err))
	}
	return &p, nil
}
