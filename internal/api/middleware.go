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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/model"
	"github.com/courierhq/courier/internal/store"
)

// maxBodyBytes caps inbound request bodies at 100 KiB.
const maxBodyBytes = 100 << 10

type ctxKey int

const authCtxKey ctxKey = 0

// AuthenticatedContext carries the resolved tenant identity through the
// request, in place of mutating the request itself.
type AuthenticatedContext struct {
	ProjectID uuid.UUID
	APIKeyID  uuid.UUID
}

func authFrom(ctx context.Context) (AuthenticatedContext, bool) {
	ac, ok := ctx.Value(authCtxKey).(AuthenticatedContext)
	return ac, ok
}

// HashKey returns the stored form of an API key. Plaintext keys are never
// persisted.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}

// recoverer converts panics into internal_error responses; stack traces
// never reach the client.
func recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"))
					writeError(w, http.StatusInternalServerError, errInternal, "internal error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the Bearer API key against the active-key index and
// attaches the AuthenticatedContext. Unknown or revoked keys get 401; a key
// whose project is not active gets 403.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, errUnauthorized, "missing or malformed Authorization header", nil)
			return
		}

		key, err := s.store.APIKeyByHash(r.Context(), HashKey(token))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, errUnauthorized, "invalid API key", nil)
				return
			}
			writeInternal(w, s.logger, err)
			return
		}

		project, err := s.store.ProjectByID(r.Context(), key.ProjectID)
		if err != nil {
			writeInternal(w, s.logger, err)
			return
		}
		if project.Status != model.ProjectActive {
			writeError(w, http.StatusForbidden, errProjectSuspended, "project is suspended", nil)
			return
		}

		// Best effort; a failed touch never fails the request.
		if err := s.store.TouchAPIKey(r.Context(), key.ID); err != nil {
			s.logger.Warn("touch api key failed", zap.Error(err))
		}

		ac := AuthenticatedContext{ProjectID: project.ID, APIKeyID: key.ID}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authCtxKey, ac)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	return token, token != ""
}
