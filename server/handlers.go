package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Tigermouthbear/ttvattendance/attendance"
	"github.com/Tigermouthbear/ttvattendance/db"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	DB        *sql.DB
	Channel   string
	Projector *attendance.Projector
	Store     *attendance.Store
}

// NewHandlers creates a Handlers instance with the given dependencies.
func NewHandlers(dbc *sql.DB, channel string, projector *attendance.Projector, store *attendance.Store) *Handlers {
	return &Handlers{DB: dbc, Channel: channel, Projector: projector, Store: store}
}

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.DB.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.DB.PingContext(r.Context()) }},
		{"credentials", func() error {
			var count int
			err := h.DB.QueryRowContext(r.Context(),
				"SELECT COUNT(*) FROM oauth_tokens WHERE provider='twitch'").Scan(&count)
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("missing app token")
			}
			return nil
		}},
		{"leaderboard", func() error {
			if h.Projector.Snapshot() == nil {
				return fmt.Errorf("leaderboard not built yet")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus returns a lightweight tracker status summary.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	resp := map[string]any{"channel": h.Channel}

	var openStream string
	_ = h.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, "tracker_open_stream:"+h.Channel).Scan(&openStream)
	resp["live"] = openStream != ""
	if openStream != "" {
		resp["open_stream"] = openStream
	}
	if last := db.Heartbeat(ctx, h.DB, "tracker_last_poll:"+h.Channel); !last.IsZero() {
		resp["last_poll"] = last.Format(time.RFC3339)
	}
	if b := h.Projector.Snapshot(); b != nil {
		resp["total_sessions"] = b.TotalSessions
		resp["leaderboard_built_at"] = b.BuiltAt.UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// HandleStreamers routes /api/v1/streamers/{channel}[/stats].
func (h *Handlers) HandleStreamers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/streamers/")
	parts := strings.Split(path, "/")
	channel := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	if channel == "" || !strings.EqualFold(channel, h.Channel) {
		http.NotFound(w, r)
		return
	}
	switch tail {
	case "":
		h.handleLeaderboardPage(w, r)
	case "stats":
		h.handleStats(w, r)
	default:
		http.NotFound(w, r)
	}
}

// handleLeaderboardPage serves one page of the current leaderboard snapshot.
func (h *Handlers) handleLeaderboardPage(w http.ResponseWriter, r *http.Request) {
	n := parseIntQuery(r, "page", 1)
	page, ok := h.Projector.PageFor(n)
	if !ok {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(page)
}

// handleStats serves population statistics, optionally restricted to a
// yyyymmdd range via ?from= and ?to=.
func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	from := parseIntQuery(r, "from", 0)
	to := parseIntQuery(r, "to", 0)
	stats, err := h.Store.Summary(r.Context(), from, to)
	if err != nil {
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
