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

// Package api is the HTTP surface: message admission, customer reads, the
// admin control plane, health and metrics.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/engine"
	"github.com/courierhq/courier/internal/store"
)

// Acceptor is the admission pipeline surface the handlers call.
type Acceptor interface {
	Accept(ctx context.Context, req engine.AcceptRequest) (*engine.AcceptResult, error)
}

// Server holds the handler dependencies.
type Server struct {
	store         *store.Store
	enqueuer      Acceptor
	auditor       *Auditor
	validate      *validator.Validate
	logger        *zap.Logger
	adminReadKey  string
	adminWriteKey string
	registry      *prometheus.Registry
}

// ServerConfig carries the admin tokens.
type ServerConfig struct {
	AdminReadKey  string
	AdminWriteKey string
}

// NewServer wires the handlers.
func NewServer(s *store.Store, enq Acceptor, auditor *Auditor, registry *prometheus.Registry, logger *zap.Logger, cfg ServerConfig) *Server {
	return &Server{
		store:         s,
		enqueuer:      enq,
		auditor:       auditor,
		validate:      validator.New(),
		logger:        logger,
		adminReadKey:  cfg.AdminReadKey,
		adminWriteKey: cfg.AdminWriteKey,
		registry:      registry,
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer(s.logger))
	r.Use(requestLogger(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(limitBody)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/messages", s.handleCreateMessage)
			r.Get("/messages", s.handleListMessages)
			r.Get("/messages/{id}", s.handleGetMessage)
			r.Get("/usage", s.handleGetUsage)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdminKey(false))
				r.Get("/projects", s.handleAdminListProjects)
				r.Get("/projects/{id}", s.handleAdminGetProject)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdminKey(true))
				r.Post("/projects", s.handleAdminCreateProject)
				r.Patch("/projects/{id}", s.handleAdminPatchProject)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, errInternal, "database unreachable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
