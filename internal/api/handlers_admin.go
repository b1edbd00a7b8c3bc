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

package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/store"
)

// requireAdminKey gates admin routes on a static bearer token. Write
// endpoints accept only the write key; read endpoints accept either.
func (s *Server) requireAdminKey(write bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, errUnauthorized, "missing or malformed Authorization header", nil)
				return
			}
			if !s.adminKeyValid(token, write) {
				writeError(w, http.StatusForbidden, errForbidden, "insufficient admin privileges", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) adminKeyValid(token string, write bool) bool {
	if s.adminWriteKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.adminWriteKey)) == 1 {
		return true
	}
	if write {
		return false
	}
	return s.adminReadKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.adminReadKey)) == 1
}

func (s *Server) handleAdminListProjects(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1, 200)
	offset := queryInt(r, "offset", 0, 0, 1<<30)
	projects, err := s.store.ListProjects(r.Context(), limit, offset)
	if err != nil {
		writeInternal(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleAdminGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errValidation, "invalid project id", nil)
		return
	}
	project, err := s.store.ProjectByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, errNotFound, "project not found", nil)
			return
		}
		writeInternal(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

type createProjectRequest struct {
	Name               string `json:"name" validate:"required,max=255"`
	OwnerEmail         string `json:"owner_email" validate:"required,email"`
	MonthlyLimit       *int64 `json:"monthly_limit" validate:"omitempty,gte=0"`
	RateLimitPerMinute *int64 `json:"rate_limit_per_minute" validate:"omitempty,gte=1"`
}

// handleAdminCreateProject creates a project with its first API key. The
// plaintext key appears in this response and nowhere else.
func (s *Server) handleAdminCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errValidation, "malformed JSON body", nil)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, errValidation, err.Error(), nil)
		return
	}

	project := &model.Project{
		ID:                 uuid.New(),
		Name:               req.Name,
		OwnerEmail:         req.OwnerEmail,
		Status:             model.ProjectActive,
		MonthlyLimit:       req.MonthlyLimit,
		RateLimitPerMinute: req.RateLimitPerMinute,
	}
	if err := s.store.CreateProject(r.Context(), project); err != nil {
		writeInternal(w, s.logger, err)
		return
	}

	plaintext, err := generateKey()
	if err != nil {
		writeInternal(w, s.logger, err)
		return
	}
	key := &model.APIKey{
		ID:        uuid.New(),
		ProjectID: project.ID,
		KeyHash:   HashKey(plaintext),
		Name:      "default",
	}
	if err := s.store.CreateAPIKey(r.Context(), key); err != nil {
		writeInternal(w, s.logger, err)
		return
	}

	s.auditor.Record("admin", "project.create", &project.ID, mustDetail(map[string]any{
		"name": project.Name,
	}))
	writeJSON(w, http.StatusCreated, map[string]any{
		"project": project,
		"api_key": plaintext,
	})
}

type patchProjectRequest struct {
	Status             *string `json:"status" validate:"omitempty,oneof=active suspended"`
	MonthlyLimit       *int64  `json:"monthly_limit" validate:"omitempty,gte=0"`
	RateLimitPerMinute *int64  `json:"rate_limit_per_minute" validate:"omitempty,gte=1"`
}

func (s *Server) handleAdminPatchProject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errValidation, "invalid project id", nil)
		return
	}

	var req patchProjectRequest
	raw := map[string]json.RawMessage{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, errValidation, "malformed JSON body", nil)
		return
	}
	for k, v := range raw {
		var dstErr error
		switch k {
		case "status":
			dstErr = json.Unmarshal(v, &req.Status)
		case "monthly_limit":
			dstErr = json.Unmarshal(v, &req.MonthlyLimit)
		case "rate_limit_per_minute":
			dstErr = json.Unmarshal(v, &req.RateLimitPerMinute)
		}
		if dstErr != nil {
			writeError(w, http.StatusBadRequest, errValidation, fmt.Sprintf("invalid value for %s", k), nil)
			return
		}
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, errValidation, err.Error(), nil)
		return
	}

	// Presence in the body distinguishes "clear the limit" (explicit null)
	// from "leave it alone" (absent key).
	patch := store.ProjectPatch{
		MonthlyLimit:       req.MonthlyLimit,
		RateLimitPerMinute: req.RateLimitPerMinute,
	}
	if req.Status != nil {
		st := model.ProjectStatus(*req.Status)
		patch.Status = &st
	}
	_, patch.SetMonthlyLimit = raw["monthly_limit"]
	_, patch.SetRateLimit = raw["rate_limit_per_minute"]

	project, err := s.store.UpdateProject(r.Context(), id, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, errNotFound, "project not found", nil)
			return
		}
		writeInternal(w, s.logger, err)
		return
	}

	s.auditor.Record("admin", "project.update", &project.ID, mustDetail(map[string]any{
		"fields": keysOf(raw),
	}))
	writeJSON(w, http.StatusOK, project)
}

func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "ck_" + hex.EncodeToString(buf), nil
}

func mustDetail(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func keysOf(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
