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

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/store"
)

var _ = Describe("Enqueuer", func() {
	var (
		st        *store.Store
		mock      sqlmock.Sqlmock
		enq       *Enqueuer
		projectID uuid.UUID
	)

	BeforeEach(func() {
		st, mock = newMockStore()
		m := newTestMetrics()
		enq = NewEnqueuer(st,
			NewQuotaController(st),
			NewRateLimiter(st),
			NewIdempotencyGuard(st),
			m, zap.NewNop())
		projectID = uuid.New()
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	request := func() AcceptRequest {
		return AcceptRequest{
			ProjectID: projectID,
			Channel:   model.ChannelEmail,
			From:      "noreply@example.com",
			To:        "user@example.com",
			Body:      "hello",
		}
	}

	Context("with an unlimited active project", func() {
		BeforeEach(func() {
			mock.ExpectQuery("FROM projects WHERE id").
				WithArgs(projectID).
				WillReturnRows(projectRow(projectID, model.ProjectActive, nil, nil))
		})

		It("accepts the message and records the requested event", func() {
			mock.ExpectBegin()
			mock.ExpectQuery("INSERT INTO messages").
				WillReturnRows(messageRow(&model.Message{
					ID:          uuid.New(),
					ProjectID:   projectID,
					Type:        model.ChannelEmail,
					Status:      model.StatusQueued,
					FromAddress: "noreply@example.com",
					ToAddress:   "user@example.com",
					Body:        "hello",
					MaxAttempts: model.DefaultMaxAttempts,
				}))
			mock.ExpectExec("INSERT INTO events").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			res, err := enq.Accept(context.Background(), request())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Duplicate).To(BeFalse())
			Expect(res.Message.Status).To(Equal(model.StatusQueued))
			Expect(res.Message.MaxAttempts).To(Equal(model.DefaultMaxAttempts))
		})
	})

	Context("with a suspended project", func() {
		It("rejects without touching quota or rate limit", func() {
			mock.ExpectQuery("FROM projects WHERE id").
				WithArgs(projectID).
				WillReturnRows(projectRow(projectID, model.ProjectSuspended, nil, nil))

			_, err := enq.Accept(context.Background(), request())
			Expect(err).To(MatchError(ErrProjectSuspended))
		})
	})

	Context("with an unknown project", func() {
		It("rejects with ErrProjectNotFound", func() {
			mock.ExpectQuery("FROM projects WHERE id").
				WithArgs(projectID).
				WillReturnError(errNoRows())

			_, err := enq.Accept(context.Background(), request())
			Expect(err).To(MatchError(ErrProjectNotFound))
		})
	})

	Context("with the monthly quota reached", func() {
		It("rejects without consuming a rate-limit token", func() {
			limit := int64(5)
			mock.ExpectQuery("FROM projects WHERE id").
				WithArgs(projectID).
				WillReturnRows(projectRow(projectID, model.ProjectActive, &limit, nil))
			mock.ExpectQuery("FROM usage").
				WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(5)))

			_, err := enq.Accept(context.Background(), request())
			var quotaErr *QuotaExceededError
			Expect(err).To(BeAssignableToTypeOf(quotaErr))
			Expect(err.(*QuotaExceededError).Limit).To(Equal(int64(5)))
			Expect(err.(*QuotaExceededError).Current).To(Equal(int64(5)))
		})
	})

	Context("with the per-minute rate limit exceeded", func() {
		It("rejects with the new bucket count", func() {
			rate := int64(3)
			mock.ExpectQuery("FROM projects WHERE id").
				WithArgs(projectID).
				WillReturnRows(projectRow(projectID, model.ProjectActive, nil, &rate))
			mock.ExpectQuery("INSERT INTO rate_limit_tracking").
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

			_, err := enq.Accept(context.Background(), request())
			var rateErr *RateLimitedError
			Expect(err).To(BeAssignableToTypeOf(rateErr))
			Expect(err.(*RateLimitedError).Current).To(Equal(int64(4)))
		})
	})

	Context("with a duplicate idempotency key", func() {
		It("returns the existing message without inserting", func() {
			key := "k1"
			existing := &model.Message{
				ID:             uuid.New(),
				ProjectID:      projectID,
				Type:           model.ChannelEmail,
				Status:         model.StatusDelivered,
				FromAddress:    "noreply@example.com",
				ToAddress:      "user@example.com",
				Body:           "hello",
				IdempotencyKey: &key,
				MaxAttempts:    model.DefaultMaxAttempts,
			}

			mock.ExpectQuery("FROM projects WHERE id").
				WithArgs(projectID).
				WillReturnRows(projectRow(projectID, model.ProjectActive, nil, nil))
			mock.ExpectQuery("idempotency_key").
				WithArgs(projectID, key).
				WillReturnRows(messageRow(existing))

			req := request()
			req.IdempotencyKey = &key
			res, err := enq.Accept(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Duplicate).To(BeTrue())
			Expect(res.Message.ID).To(Equal(existing.ID))
		})
	})

	Context("losing an idempotency insert race", func() {
		It("re-reads and returns the winner", func() {
			key := "k1"
			winner := &model.Message{
				ID:             uuid.New(),
				ProjectID:      projectID,
				Type:           model.ChannelEmail,
				Status:         model.StatusQueued,
				FromAddress:    "noreply@example.com",
				ToAddress:      "user@example.com",
				Body:           "hello",
				IdempotencyKey: &key,
				MaxAttempts:    model.DefaultMaxAttempts,
			}

			mock.ExpectQuery("FROM projects WHERE id").
				WithArgs(projectID).
				WillReturnRows(projectRow(projectID, model.ProjectActive, nil, nil))
			// Guard read misses, then the insert collides with the unique
			// index because a concurrent request won.
			mock.ExpectQuery("idempotency_key").
				WithArgs(projectID, key).
				WillReturnError(errNoRows())
			mock.ExpectBegin()
			mock.ExpectQuery("INSERT INTO messages").
				WillReturnError(&pgconn.PgError{Code: "23505"})
			mock.ExpectRollback()
			mock.ExpectQuery("idempotency_key").
				WithArgs(projectID, key).
				WillReturnRows(messageRow(winner))

			req := request()
			req.IdempotencyKey = &key
			res, err := enq.Accept(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Duplicate).To(BeTrue())
			Expect(res.Message.ID).To(Equal(winner.ID))
		})
	})
})
