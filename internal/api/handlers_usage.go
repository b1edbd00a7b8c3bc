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
	"net/http"
	"regexp"
	"time"

	"github.com/courierhq/courier/internal/model"
)

var periodPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// handleGetUsage reports the per-channel usage buckets and total for a
// period, defaulting to the current month.
func (s *Server) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	ac, ok := authFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthorized, "unauthenticated", nil)
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = model.Period(time.Now())
	} else if !periodPattern.MatchString(period) {
		writeError(w, http.StatusBadRequest, errValidation, "period must be YYYY-MM", nil)
		return
	}

	buckets, err := s.store.UsageBuckets(r.Context(), ac.ProjectID, period)
	if err != nil {
		writeInternal(w, s.logger, err)
		return
	}
	var total int64
	for _, b := range buckets {
		total += b.Count
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"period":  period,
		"total":   total,
		"buckets": buckets,
	})
}
