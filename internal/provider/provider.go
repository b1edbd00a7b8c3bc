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

// Package provider defines the channel adapter contract and the broker that
// routes messages to adapters. The engine never inspects provider payloads;
// adapters classify their own errors.
package provider

import (
	"context"
	"encoding/json"

	"github.com/courierhq/courier/internal/model"
)

// Result is an adapter's classified verdict for one send.
type Result struct {
	Success   bool
	Retryable bool
	// Response is the opaque provider payload recorded on the event.
	Response json.RawMessage
	// ErrorMessage is set when Success is false.
	ErrorMessage string
}

// Adapter delivers one message on a single channel. Send must classify every
// failure as retryable or permanent; a returned error means the adapter
// itself broke and is treated as a retryable transient.
type Adapter interface {
	Channel() model.Channel
	Send(ctx context.Context, m *model.Message) (Result, error)
}
