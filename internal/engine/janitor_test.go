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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/store"
)

var _ = Describe("Janitor", func() {
	var (
		st   *store.Store
		mock sqlmock.Sqlmock
		j    *Janitor
	)

	BeforeEach(func() {
		st, mock = newMockStore()
		j = NewJanitor(st, newTestMetrics(), zap.NewNop())
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("sweeps events, terminal messages, and stale rate buckets", func() {
		mock.ExpectExec("DELETE FROM events").
			WillReturnResult(sqlmock.NewResult(0, 12))
		mock.ExpectExec("DELETE FROM messages").
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec("DELETE FROM rate_limit_tracking").
			WillReturnResult(sqlmock.NewResult(0, 40))

		j.sweep(context.Background())
	})

	It("keeps deleting in chunks until a short chunk", func() {
		// A full chunk signals more rows; a short one ends the loop.
		mock.ExpectExec("DELETE FROM events").
			WillReturnResult(sqlmock.NewResult(0, purgeChunkSize))
		mock.ExpectExec("DELETE FROM events").
			WillReturnResult(sqlmock.NewResult(0, 7))
		mock.ExpectExec("DELETE FROM messages").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM rate_limit_tracking").
			WillReturnResult(sqlmock.NewResult(0, 0))

		j.sweep(context.Background())
	})

	It("continues past a failed sweep stage", func() {
		mock.ExpectExec("DELETE FROM events").
			WillReturnError(context.DeadlineExceeded)
		mock.ExpectExec("DELETE FROM messages").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM rate_limit_tracking").
			WillReturnResult(sqlmock.NewResult(0, 0))

		j.sweep(context.Background())
	})
})
