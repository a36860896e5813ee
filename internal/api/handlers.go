package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/mcwarden/warden/internal/notify"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth is the unauthenticated liveness probe
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports process and rcon liveness plus the challenge counter
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"server_running":  r.deps.Proc.IsRunning(),
		"server_pid":      r.deps.Proc.PID(),
		"rcon_reachable":  r.deps.Rcon.TestConnection(),
		"challenge_count": r.deps.Stats.ChallengeCount(),
		"challenge_start": r.deps.Stats.CurrentStart(),
	})
}

// handleStats returns the full challenge aggregate with formatted elapsed times
func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	data := r.deps.Stats.Snapshot()

	players := make(map[string]int, len(data.Players))
	for name, p := range data.Players {
		players[name] = p.DeathCount
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"challenge_count": data.ChallengeCount,
		"players":         players,
		"challenge_start": data.CurrentChallengeStartAt,
		"first_start":     data.FirstChallengeStartAt,
		"challenge_time":  r.deps.Stats.Elapsed(),
		"total_time":      r.deps.Stats.TotalElapsed(),
	})
}

// handleDeaths returns the recent death history, newest first
func (r *Router) handleDeaths(w http.ResponseWriter, req *http.Request) {
	if r.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "death history is not enabled")
		return
	}
	limit := 20
	if s := req.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	records, err := r.deps.History.RecentDeaths(req.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deaths": records})
}

// RconRequest is the request body for RCON commands
type RconRequest struct {
	Command string `json:"command"`
}

// RconResponse is the response body for RCON commands
type RconResponse struct {
	Output string `json:"output"`
}

// handleRconCommand executes an RCON command (admin only)
func (r *Router) handleRconCommand(w http.ResponseWriter, req *http.Request) {
	var rconReq RconRequest
	if err := json.NewDecoder(req.Body).Decode(&rconReq); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if rconReq.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	output, err := r.deps.Rcon.Command(rconReq.Command)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, RconResponse{Output: output})
}

// handleReset starts the world reset workflow in the background (admin only)
func (r *Router) handleReset(w http.ResponseWriter, req *http.Request) {
	if r.deps.Reset == nil {
		writeError(w, http.StatusServiceUnavailable, "world reset is not configured")
		return
	}
	go func() {
		if ok := r.deps.Reset(context.Background()); !ok {
			log.Printf("[api] requested world reset did not complete")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reset started"})
}

// handleListConfirmations lists pending accept/decline prompts (admin only)
func (r *Router) handleListConfirmations(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": r.deps.Confirm.Pending(),
	})
}

// ConfirmRequest is the request body for resolving a confirmation
type ConfirmRequest struct {
	Accept bool `json:"accept"`
}

// handleResolveConfirmation settles a pending prompt by token (admin only)
func (r *Router) handleResolveConfirmation(w http.ResponseWriter, req *http.Request) {
	token := req.PathValue("token")

	var body ConfirmRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := r.deps.Confirm.Resolve(token, body.Accept); err != nil {
		writeError(w, http.StatusNotFound, notify.ErrUnknownConfirmation.Error())
		return
	}
	outcome := "declined"
	if body.Accept {
		outcome = "accepted"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": outcome})
}
