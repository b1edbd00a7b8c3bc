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

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/courierhq/courier/internal/model"
)

// MockEmail is the stand-in email adapter. It accepts every message and
// fabricates a provider message id, which is enough for the engine: the
// engine only cares about the classified verdict.
type MockEmail struct{}

// NewMockEmail creates the mock email adapter.
func NewMockEmail() *MockEmail { return &MockEmail{} }

func (m *MockEmail) Channel() model.Channel { return model.ChannelEmail }

func (m *MockEmail) Send(ctx context.Context, msg *model.Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	payload, err := json.Marshal(map[string]string{
		"provider":            "mock-email",
		"provider_message_id": fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		"to":                  msg.ToAddress,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Success: true, Response: payload}, nil
}
