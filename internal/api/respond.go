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
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Error kinds surfaced to clients. Every error response is the envelope
// {"error": <kind>, "message": <human>, ...metadata}.
const (
	errValidation       = "validation_error"
	errUnauthorized     = "unauthorized"
	errForbidden        = "forbidden"
	errProjectSuspended = "project_suspended"
	errNotFound         = "not_found"
	errQuotaExceeded    = "monthly_quota_exceeded"
	errRateLimited      = "rate_limit_exceeded"
	errInternal         = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError emits the error envelope. extra keys are merged into the
// envelope alongside error and message.
func writeError(w http.ResponseWriter, status int, kind, message string, extra map[string]any) {
	body := map[string]any{
		"error":   kind,
		"message": message,
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func writeInternal(w http.ResponseWriter, logger *zap.Logger, err error) {
	logger.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, errInternal, "internal error", nil)
}
