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

// Package model defines the persistent entities shared by the store, the
// delivery engine, and the API layer.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProjectStatus is the tenant lifecycle state.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectSuspended ProjectStatus = "suspended"
)

// Channel identifies the delivery channel of a message.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelPush     Channel = "push"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelPush:
		return true
	}
	return false
}

// MessageStatus is the message lifecycle state. Delivered, failed and dead
// are terminal; only queued messages are claimable.
type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
	StatusDead      MessageStatus = "dead"
)

// Terminal reports whether the status permits no further transitions.
func (s MessageStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusDead
}

// EventType classifies a timeline entry.
type EventType string

const (
	EventRequested EventType = "requested"
	EventQueued    EventType = "queued"
	EventSent      EventType = "sent"
	EventDelivered EventType = "delivered"
	EventFailed    EventType = "failed"
	EventBounced   EventType = "bounced"
	EventOpened    EventType = "opened"
	EventClicked   EventType = "clicked"
	EventDead      EventType = "dead"
	EventSkipped   EventType = "skipped"
)

// DefaultMaxAttempts is applied to messages accepted without an explicit
// attempt ceiling.
const DefaultMaxAttempts = 3

// Project is a tenant. Limits are nil when unlimited.
type Project struct {
	ID                 uuid.UUID     `db:"id" json:"id"`
	Name               string        `db:"name" json:"name"`
	OwnerEmail         string        `db:"owner_email" json:"owner_email"`
	Status             ProjectStatus `db:"status" json:"status"`
	MonthlyLimit       *int64        `db:"monthly_limit" json:"monthly_limit,omitempty"`
	RateLimitPerMinute *int64        `db:"rate_limit_per_minute" json:"rate_limit_per_minute,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
}

// APIKey authenticates a project. Only the SHA-256 hex digest of the key is
// ever stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	ProjectID  uuid.UUID  `db:"project_id" json:"project_id"`
	KeyHash    string     `db:"key_hash" json:"-"`
	Name       string     `db:"name" json:"name"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// Message is one durable delivery intent.
type Message struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	ProjectID      uuid.UUID       `db:"project_id" json:"project_id"`
	Type           Channel         `db:"type" json:"type"`
	Status         MessageStatus   `db:"status" json:"status"`
	FromAddress    string          `db:"from_address" json:"from"`
	ToAddress      string          `db:"to_address" json:"to"`
	Subject        *string         `db:"subject" json:"subject,omitempty"`
	Body           string          `db:"body" json:"body"`
	Metadata       json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	IdempotencyKey *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Attempts       int             `db:"attempts" json:"attempts"`
	MaxAttempts    int             `db:"max_attempts" json:"max_attempts"`
	NextAttemptAt  *time.Time      `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	ScheduledFor   *time.Time      `db:"scheduled_for" json:"scheduled_for,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Event is an append-only observation of a message lifecycle transition.
type Event struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	MessageID        uuid.UUID       `db:"message_id" json:"message_id"`
	ProjectID        uuid.UUID       `db:"project_id" json:"project_id"`
	EventType        EventType       `db:"event_type" json:"event_type"`
	ProviderResponse json.RawMessage `db:"provider_response" json:"provider_response,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// UsageBucket is the per-project, per-month, per-channel delivery counter.
type UsageBucket struct {
	ID          int64     `db:"id" json:"-"`
	ProjectID   uuid.UUID `db:"project_id" json:"project_id"`
	Period      string    `db:"period" json:"period"`
	MessageType Channel   `db:"message_type" json:"message_type"`
	Count       int64     `db:"count" json:"count"`
}

// AdminEvent is an audit record of a control-plane write.
type AdminEvent struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Actor     string          `db:"actor" json:"actor"`
	Action    string          `db:"action" json:"action"`
	ProjectID *uuid.UUID      `db:"project_id" json:"project_id,omitempty"`
	Detail    json.RawMessage `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Period formats t as the calendar-month usage key, e.g. "2025-06".
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// MinuteWindow truncates t to the tumbling rate-limit window.
func MinuteWindow(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}
