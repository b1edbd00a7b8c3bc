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

// Package metrics holds the prometheus collectors injected into the engine
// and API components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the service collectors. Construct one per process with
// New and pass it down; components must not register their own collectors.
type Metrics struct {
	MessagesAccepted  prometheus.Counter
	AdmissionRejected *prometheus.CounterVec // reason
	IdempotentReplays prometheus.Counter
	MessagesProcessed *prometheus.CounterVec   // outcome: delivered|retried|failed|dead|skipped
	ProviderSendSecs  *prometheus.HistogramVec // channel, outcome
	ClaimBatchSize    prometheus.Histogram
	JanitorRowsPurged *prometheus.CounterVec // table
	DispatcherPolls   prometheus.Counter
	DispatcherErrors  prometheus.Counter
}

// New registers the collectors against reg. Tests pass an isolated registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "courier_messages_accepted_total",
			Help: "Messages accepted into the queue.",
		}),
		AdmissionRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_admission_rejected_total",
			Help: "Enqueue rejections by reason.",
		}, []string{"reason"}),
		IdempotentReplays: factory.NewCounter(prometheus.CounterOpts{
			Name: "courier_idempotent_replays_total",
			Help: "Enqueue requests answered from the idempotency index.",
		}),
		MessagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_messages_processed_total",
			Help: "Dispatcher outcomes per processed message.",
		}, []string{"outcome"}),
		ProviderSendSecs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_provider_send_duration_seconds",
			Help:    "Provider send call duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel", "outcome"}),
		ClaimBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "courier_claim_batch_size",
			Help:    "Messages claimed per dispatcher poll.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		JanitorRowsPurged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_janitor_rows_purged_total",
			Help: "Rows removed by the retention janitor.",
		}, []string{"table"}),
		DispatcherPolls: factory.NewCounter(prometheus.CounterOpts{
			Name: "courier_dispatcher_polls_total",
			Help: "Dispatcher poll iterations.",
		}),
		DispatcherErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "courier_dispatcher_errors_total",
			Help: "Dispatcher polls that failed before commit.",
		}),
	}
}
