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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/metrics"
	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/store"
)

// AcceptRequest is one enqueue attempt, already authenticated and validated
// at the transport boundary.
type AcceptRequest struct {
	ProjectID      uuid.UUID
	Channel        model.Channel
	From           string
	To             string
	Subject        *string
	Body           string
	Metadata       json.RawMessage
	IdempotencyKey *string
}

// AcceptResult is the outcome of a successful admission. Duplicate means the
// idempotency key matched an existing message; Message is then the winner.
type AcceptResult struct {
	Message   *model.Message
	Duplicate bool
}

// Enqueuer orchestrates admission: suspension, quota, rate limit,
// idempotency, then the atomic insert of message plus requested event.
//
// The ordering is deliberate. Suspension is free and always fatal. The quota
// check is read-only. The rate limiter consumes a token, so it must not be
// charged for requests that would die on suspension or quota. The
// idempotency read precedes the insert, but the unique index is what
// actually decides races.
type Enqueuer struct {
	store   *store.Store
	quota   *QuotaController
	rate    *RateLimiter
	guard   *IdempotencyGuard
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewEnqueuer wires the admission pipeline.
func NewEnqueuer(s *store.Store, quota *QuotaController, rate *RateLimiter, guard *IdempotencyGuard, m *metrics.Metrics, logger *zap.Logger) *Enqueuer {
	return &Enqueuer{
		store:   s,
		quota:   quota,
		rate:    rate,
		guard:   guard,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Accept admits a message into the queue or rejects it with a typed error
// (ErrProjectNotFound, ErrProjectSuspended, *QuotaExceededError,
// *RateLimitedError). If the request is cancelled before the insert commits,
// nothing is persisted.
func (e *Enqueuer) Accept(ctx context.Context, req AcceptRequest) (*AcceptResult, error) {
	now := e.now()

	project, err := e.store.ProjectByID(ctx, req.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("load project: %w", err)
	}
	if project.Status == model.ProjectSuspended {
		e.metrics.AdmissionRejected.WithLabelValues("project_suspended").Inc()
		return nil, ErrProjectSuspended
	}

	if err := e.quota.Check(ctx, project, now); err != nil {
		var quotaErr *QuotaExceededError
		if errors.As(err, &quotaErr) {
			e.metrics.AdmissionRejected.WithLabelValues("monthly_quota_exceeded").Inc()
		}
		return nil, err
	}

	if err := e.rate.Acquire(ctx, project, now); err != nil {
		var rateErr *RateLimitedError
		if errors.As(err, &rateErr) {
			e.metrics.AdmissionRejected.WithLabelValues("rate_limit_exceeded").Inc()
		}
		return nil, err
	}

	if existing, err := e.guard.Check(ctx, req.ProjectID, req.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		e.metrics.IdempotentReplays.Inc()
		return &AcceptResult{Message: existing, Duplicate: true}, nil
	}

	msg := &model.Message{
		ID:             uuid.New(),
		ProjectID:      req.ProjectID,
		Type:           req.Channel,
		Status:         model.StatusQueued,
		FromAddress:    req.From,
		ToAddress:      req.To,
		Subject:        req.Subject,
		Body:           req.Body,
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
		Attempts:       0,
		MaxAttempts:    model.DefaultMaxAttempts,
	}

	if err := e.store.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			// Lost the insert race; the unique index picked a winner.
			winner, guardErr := e.guard.Check(ctx, req.ProjectID, req.IdempotencyKey)
			if guardErr != nil {
				return nil, guardErr
			}
			if winner == nil {
				return nil, fmt.Errorf("idempotency conflict for project %s but winner not found", req.ProjectID)
			}
			e.metrics.IdempotentReplays.Inc()
			return &AcceptResult{Message: winner, Duplicate: true}, nil
		}
		return nil, fmt.Errorf("create message: %w", err)
	}

	e.metrics.MessagesAccepted.Inc()
	e.logger.Info("message accepted",
		zap.String("message_id", msg.ID.String()),
		zap.String("project_id", req.ProjectID.String()),
		zap.String("channel", string(req.Channel)))
	return &AcceptResult{Message: msg}, nil
}
