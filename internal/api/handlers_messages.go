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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/engine"
	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/store"
)

// createMessageRequest is the POST /v1/messages body. Type defaults to
// email when omitted.
type createMessageRequest struct {
	Type           string          `json:"type" validate:"omitempty,oneof=email sms whatsapp push"`
	To             string          `json:"to" validate:"required,max=512"`
	From           string          `json:"from" validate:"required,max=512"`
	Subject        *string         `json:"subject" validate:"omitempty,max=1024"`
	Body           string          `json:"body" validate:"required"`
	Metadata       json.RawMessage `json:"metadata"`
	IdempotencyKey *string         `json:"idempotency_key" validate:"omitempty,min=1,max=255"`
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	ac, ok := authFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthorized, "unauthenticated", nil)
		return
	}

	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusBadRequest, errValidation, "request body exceeds 100 KiB", nil)
			return
		}
		writeError(w, http.StatusBadRequest, errValidation, "malformed JSON body", nil)
		return
	}
	if req.Type == "" {
		req.Type = string(model.ChannelEmail)
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, errValidation, err.Error(), nil)
		return
	}

	res, err := s.enqueuer.Accept(r.Context(), engine.AcceptRequest{
		ProjectID:      ac.ProjectID,
		Channel:        model.Channel(req.Type),
		From:           req.From,
		To:             req.To,
		Subject:        req.Subject,
		Body:           req.Body,
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.writeAcceptError(w, err)
		return
	}

	if res.Duplicate {
		writeJSON(w, http.StatusOK, map[string]any{
			"message_id": res.Message.ID,
			"status":     res.Message.Status,
			"duplicate":  true,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message_id": res.Message.ID,
		"status":     res.Message.Status,
	})
}

func (s *Server) writeAcceptError(w http.ResponseWriter, err error) {
	var quotaErr *engine.QuotaExceededError
	var rateErr *engine.RateLimitedError
	switch {
	case errors.Is(err, engine.ErrProjectNotFound):
		writeError(w, http.StatusUnauthorized, errUnauthorized, "unknown project", nil)
	case errors.Is(err, engine.ErrProjectSuspended):
		writeError(w, http.StatusForbidden, errProjectSuspended, "project is suspended", nil)
	case errors.As(err, &quotaErr):
		writeError(w, http.StatusTooManyRequests, errQuotaExceeded, "monthly quota exceeded", map[string]any{
			"quota": map[string]any{"limit": quotaErr.Limit, "current": quotaErr.Current},
		})
	case errors.As(err, &rateErr):
		writeError(w, http.StatusTooManyRequests, errRateLimited, "rate limit exceeded", map[string]any{
			"rate_limit": map[string]any{"limit": rateErr.Limit, "current": rateErr.Current, "window": "per_minute"},
		})
	default:
		writeInternal(w, s.logger, err)
	}
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	ac, ok := authFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthorized, "unauthenticated", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errValidation, "invalid message id", nil)
		return
	}

	msg, err := s.store.MessageForProject(r.Context(), ac.ProjectID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, errNotFound, "message not found", nil)
			return
		}
		writeInternal(w, s.logger, err)
		return
	}
	events, err := s.store.EventsByMessage(r.Context(), ac.ProjectID, id)
	if err != nil {
		writeInternal(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": msg,
		"events":  events,
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	ac, ok := authFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthorized, "unauthenticated", nil)
		return
	}

	var status model.MessageStatus
	if v := r.URL.Query().Get("status"); v != "" {
		status = model.MessageStatus(v)
		switch status {
		case model.StatusQueued, model.StatusDelivered, model.StatusFailed, model.StatusDead:
		default:
			writeError(w, http.StatusBadRequest, errValidation, "invalid status filter", nil)
			return
		}
	}
	limit := queryInt(r, "limit", 50, 1, 200)
	offset := queryInt(r, "offset", 0, 0, 1<<30)

	msgs, err := s.store.ListMessages(r.Context(), ac.ProjectID, status, limit, offset)
	if err != nil {
		writeInternal(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"limit":    limit,
		"offset":   offset,
	})
}

func queryInt(r *http.Request, name string, def, min, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		return def
	}
	if n > max {
		return max
	}
	return n
}
