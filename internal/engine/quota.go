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
	"time"

	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/store"
)

// QuotaController evaluates the monthly quota against the usage ledger. The
// check is advisory: it is not transactional with the enqueue, which is
// acceptable because usage only grows on successful delivery and the ceiling
// is a fairness boundary, not a billing gate.
type QuotaController struct {
	store *store.Store
}

// NewQuotaController creates the controller.
func NewQuotaController(s *store.Store) *QuotaController {
	return &QuotaController{store: s}
}

// Check returns nil when the project may enqueue, or a *QuotaExceededError
// once current usage has reached the monthly limit. Projects without a limit
// are unlimited.
func (q *QuotaController) Check(ctx context.Context, p *model.Project, now time.Time) error {
	if p.MonthlyLimit == nil {
		return nil
	}
	current, err := q.store.UsageTotal(ctx, p.ID, model.Period(now))
	if err != nil {
		return err
	}
	if current >= *p.MonthlyLimit {
		return &QuotaExceededError{Limit: *p.MonthlyLimit, Current: current}
	}
	return nil
}
