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
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/metrics"
	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/provider"
	"github.com/courierhq/courier/internal/store"
)

// scriptedSender returns its queued results in order.
type scriptedSender struct {
	results []provider.Result
	calls   int
}

func (f *scriptedSender) Send(_ context.Context, _ *model.Message) provider.Result {
	res := f.results[f.calls%len(f.results)]
	f.calls++
	return res
}

var _ = Describe("Dispatcher", func() {
	var (
		st        *store.Store
		mock      sqlmock.Sqlmock
		sender    *scriptedSender
		disp      *Dispatcher
		projectID uuid.UUID
		msg       *model.Message
	)

	BeforeEach(func() {
		st, mock = newMockStore()
		sender = &scriptedSender{}
		disp = NewDispatcher(st, sender, newTestMetrics(), zap.NewNop(), DispatcherConfig{
			PollInterval: time.Second,
			BatchSize:    10,
		})
		projectID = uuid.New()
		msg = &model.Message{
			ID:          uuid.New(),
			ProjectID:   projectID,
			Type:        model.ChannelEmail,
			Status:      model.StatusQueued,
			FromAddress: "noreply@example.com",
			ToAddress:   "user@example.com",
			Body:        "hello",
			Attempts:    0,
			MaxAttempts: model.DefaultMaxAttempts,
		}
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	expectClaim := func(rows *sqlmock.Rows) {
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WillReturnRows(rows)
	}

	It("commits an empty poll without processing", func() {
		expectClaim(sqlmock.NewRows(splitCols(messageCols)))
		mock.ExpectCommit()

		n, err := disp.Poll(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})

	It("delivers a message and increments usage", func() {
		sender.results = []provider.Result{{
			Success:  true,
			Response: json.RawMessage(`{"provider_message_id":"abc"}`),
		}}

		expectClaim(messageRow(msg))
		mock.ExpectQuery("FROM projects WHERE id").
			WithArgs(projectID).
			WillReturnRows(projectRow(projectID, model.ProjectActive, nil, nil))
		mock.ExpectQuery("attempts").
			WithArgs(msg.ID).
			WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(1))
		mock.ExpectExec("UPDATE messages SET status").
			WithArgs(msg.ID, string(model.StatusDelivered)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO events").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO usage").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		n, err := disp.Poll(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
		Expect(sender.calls).To(Equal(1))
		Expect(disp.Stats().Delivered).To(Equal(uint64(1)))
	})

	It("schedules a retry on a retryable failure", func() {
		sender.results = []provider.Result{{
			Success:      false,
			Retryable:    true,
			ErrorMessage: "provider timeout",
		}}

		expectClaim(messageRow(msg))
		mock.ExpectQuery("FROM projects WHERE id").
			WithArgs(projectID).
			WillReturnRows(projectRow(projectID, model.ProjectActive, nil, nil))
		mock.ExpectQuery("attempts").
			WithArgs(msg.ID).
			WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(1))
		mock.ExpectExec("SET next_attempt_at").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO events").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, err := disp.Poll(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(disp.Stats().Retried).To(Equal(uint64(1)))
	})

	It("marks a permanent failure failed without scheduling", func() {
		sender.results = []provider.Result{{
			Success:      false,
			Retryable:    false,
			ErrorMessage: "invalid recipient",
		}}

		expectClaim(messageRow(msg))
		mock.ExpectQuery("FROM projects WHERE id").
			WithArgs(projectID).
			WillReturnRows(projectRow(projectID, model.ProjectActive, nil, nil))
		mock.ExpectQuery("attempts").
			WithArgs(msg.ID).
			WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(1))
		mock.ExpectExec("UPDATE messages SET status").
			WithArgs(msg.ID, string(model.StatusFailed)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO events").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, err := disp.Poll(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(disp.Stats().Failed).To(Equal(uint64(1)))
	})

	It("dead-letters a message that exhausted its attempts", func() {
		msg.Attempts = msg.MaxAttempts

		expectClaim(messageRow(msg))
		mock.ExpectQuery("FROM projects WHERE id").
			WithArgs(projectID).
			WillReturnRows(projectRow(projectID, model.ProjectActive, nil, nil))
		mock.ExpectExec("UPDATE messages SET status").
			WithArgs(msg.ID, string(model.StatusDead)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO events").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, err := disp.Poll(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(sender.calls).To(BeZero(), "no provider call for a dead message")
		Expect(disp.Stats().Dead).To(Equal(uint64(1)))
	})

	It("skips a suspended project's message untouched", func() {
		expectClaim(messageRow(msg))
		mock.ExpectQuery("FROM projects WHERE id").
			WithArgs(projectID).
			WillReturnRows(projectRow(projectID, model.ProjectSuspended, nil, nil))
		mock.ExpectExec("INSERT INTO events").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, err := disp.Poll(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(sender.calls).To(BeZero())
		Expect(disp.Stats().Skipped).To(Equal(uint64(1)))
	})

	It("observes send duration with the dispatcher clock", func() {
		reg := prometheus.NewRegistry()
		disp = NewDispatcher(st, sender, metrics.New(reg), zap.NewNop(), DispatcherConfig{
			PollInterval: time.Second,
			BatchSize:    10,
		})
		base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		ticks := 0
		disp.now = func() time.Time {
			t := base.Add(time.Duration(ticks) * 250 * time.Millisecond)
			ticks++
			return t
		}
		sender.results = []provider.Result{{Success: true}}

		expectClaim(messageRow(msg))
		mock.ExpectQuery("FROM projects WHERE id").
			WithArgs(projectID).
			WillReturnRows(projectRow(projectID, model.ProjectActive, nil, nil))
		mock.ExpectQuery("attempts").
			WithArgs(msg.ID).
			WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(1))
		mock.ExpectExec("UPDATE messages SET status").
			WithArgs(msg.ID, string(model.StatusDelivered)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO events").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO usage").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, err := disp.Poll(context.Background())
		Expect(err).NotTo(HaveOccurred())

		// The clock advances 250ms per call; the two calls bracketing the
		// send yield exactly one 0.25s observation.
		fams, err := reg.Gather()
		Expect(err).NotTo(HaveOccurred())
		var count uint64
		var sum float64
		for _, mf := range fams {
			if mf.GetName() != "courier_provider_send_duration_seconds" {
				continue
			}
			for _, m := range mf.GetMetric() {
				count += m.GetHistogram().GetSampleCount()
				sum += m.GetHistogram().GetSampleSum()
			}
		}
		Expect(count).To(Equal(uint64(1)))
		Expect(sum).To(Equal(0.25))
	})

	It("rolls back the batch when a store write fails", func() {
		sender.results = []provider.Result{{Success: true}}

		expectClaim(messageRow(msg))
		mock.ExpectQuery("FROM projects WHERE id").
			WithArgs(projectID).
			WillReturnRows(projectRow(projectID, model.ProjectActive, nil, nil))
		mock.ExpectQuery("attempts").
			WithArgs(msg.ID).
			WillReturnError(errNoRows())
		mock.ExpectRollback()

		_, err := disp.Poll(context.Background())
		Expect(err).To(HaveOccurred())
	})
})
