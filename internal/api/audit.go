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
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/store"
)

const auditBuffer = 256

// Auditor records control-plane writes off the request path. Records flow
// through a bounded channel; when the buffer is full the record is dropped
// with a warning rather than blocking the admin request.
type Auditor struct {
	store  *store.Store
	logger *zap.Logger
	ch     chan *model.AdminEvent
	wg     sync.WaitGroup
}

// NewAuditor starts the drain goroutine.
func NewAuditor(s *store.Store, logger *zap.Logger) *Auditor {
	a := &Auditor{
		store:  s,
		logger: logger,
		ch:     make(chan *model.AdminEvent, auditBuffer),
	}
	a.wg.Add(1)
	go a.drain()
	return a
}

// Record enqueues an audit event. Never blocks.
func (a *Auditor) Record(actor, action string, projectID *uuid.UUID, detail []byte) {
	ev := &model.AdminEvent{
		ID:        uuid.New(),
		Actor:     actor,
		Action:    action,
		ProjectID: projectID,
		Detail:    detail,
	}
	select {
	case a.ch <- ev:
	default:
		a.logger.Warn("audit buffer full, dropping record",
			zap.String("action", action))
	}
}

func (a *Auditor) drain() {
	defer a.wg.Done()
	for ev := range a.ch {
		if err := a.store.InsertAdminEvent(context.Background(), ev); err != nil {
			a.logger.Error("audit write failed",
				zap.String("action", ev.Action),
				zap.Error(err))
		}
	}
}

// Close flushes buffered records and stops the drain goroutine.
func (a *Auditor) Close() {
	close(a.ch)
	a.wg.Wait()
}
