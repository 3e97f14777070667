// SPDX-License-Identifier: MIT

package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ManuGH/presenced/internal/log"
	"github.com/ManuGH/presenced/internal/presence"
	"github.com/ManuGH/presenced/internal/userkey"
)

type presenceResponse struct {
	Statuses []presence.Status `json:"statuses"`
}

// handlePresence answers a one-shot presence query for a comma-separated
// list of users. It shares the batch cap and the per-user status shape with
// the focus path; clients that need updates should use the socket.
func (g *Gateway) handlePresence(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "gateway")

	raw := r.URL.Query().Get("users")
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "missing users parameter")
		return
	}

	seen := make(map[string]struct{})
	users := make([]string, 0, 8)
	for _, part := range strings.Split(raw, ",") {
		user, err := userkey.Normalize(part)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user key")
			return
		}
		if _, dup := seen[user]; dup {
			continue
		}
		seen[user] = struct{}{}
		users = append(users, user)
	}

	statuses, err := g.reg.Snapshot(r.Context(), users)
	if err != nil {
		var tooLarge *presence.BatchTooLargeError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, tooLarge.Error())
			return
		}
		logger.Error().Err(err).Str("event", "snapshot.store_error").Msg("presence snapshot failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, presenceResponse{Statuses: statuses})
}
