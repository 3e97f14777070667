// SPDX-License-Identifier: MIT

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/presenced/internal/log"
	"github.com/ManuGH/presenced/internal/presence"
	"github.com/ManuGH/presenced/internal/userkey"
)

type loginRequest struct {
	User string `json:"user"`
}

type loginResponse struct {
	User     string `json:"user"`
	ServerID string `json:"server_id"`
}

// handleLogin registers a user key with the service. Login is idempotent:
// it normalizes the key, records it in the known-users set and tells the
// client which server answered. Presence itself only changes over the socket.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "gateway")

	r.Body = http.MaxBytesReader(w, r.Body, 4<<10)
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	user, err := userkey.Normalize(req.User)
	if err != nil {
		if !errors.Is(err, userkey.ErrInvalid) {
			logger.Error().Err(err).Msg("user key normalization failed")
		}
		writeError(w, http.StatusBadRequest, "invalid user key")
		return
	}

	if err := g.st.SAdd(r.Context(), presence.UsersSetKey(), user); err != nil {
		logger.Error().Err(err).Str("event", "login.store_error").Msg("failed to record login")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	logger.Info().
		Str("event", "login.accepted").
		Str(log.FieldUserKey, user).
		Msg("user logged in")

	writeJSON(w, http.StatusOK, loginResponse{
		User:     user,
		ServerID: g.reg.ServerID(),
	})
}
