// Package tracker drives the attendance poll cycle: it keeps the app token
// fresh, watches stream liveness, folds chatter rosters into the attendance
// store while a stream is live, and rebuilds the leaderboard projection.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Tigermouthbear/ttvattendance/attendance"
	"github.com/Tigermouthbear/ttvattendance/telemetry"
)

// State is the session-tracking state carried between polls. The zero value
// is OFFLINE. Date is the session id (yyyymmdd in the reference zone), fixed
// when the stream goes live and never recomputed mid-session.
type State struct {
	Live bool
	Date int
}

// Event describes what a liveness observation did to the state.
type Event int

const (
	EventNone Event = iota
	EventWentLive
	EventWentOffline
)

// DateInt formats now in zone as a yyyymmdd integer.
func DateInt(now time.Time, zone *time.Location) int {
	t := now.In(zone)
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// Transition applies one liveness observation to prev and returns the next
// state. A new session id is derived only on the offline-to-live edge, so a
// stream running past local midnight keeps the date it started with.
func Transition(prev State, live bool, now time.Time, zone *time.Location) (State, Event) {
	switch {
	case live && !prev.Live:
		return State{Live: true, Date: DateInt(now, zone)}, EventWentLive
	case !live && prev.Live:
		return State{}, EventWentOffline
	default:
		return prev, EventNone
	}
}

// TokenManager keeps the upstream bearer credential valid.
type TokenManager interface {
	EnsureValid(ctx context.Context) error
}

// Gateway is the upstream roster/live-status source. Both calls may fail
// transiently; the tracker treats any error as "try again next cycle", never
// as a liveness transition.
type Gateway interface {
	CheckLive(ctx context.Context) (bool, error)
	FetchRoster(ctx context.Context) (attendance.Roster, error)
}

// Store is the slice of the attendance store the tracker writes through.
type Store interface {
	attendance.RankSource
	OpenOrContinueSession(ctx context.Context, date int) (attendance.Session, error)
	RecordObservation(ctx context.Context, date, headcount int, roster attendance.Roster) error
}

// Tracker runs the poll loop for one channel.
type Tracker struct {
	Channel   string
	Gateway   Gateway
	Tokens    TokenManager
	Store     Store
	Projector *attendance.Projector

	// KV is used for best-effort heartbeat/status rows; may be nil.
	KV *sql.DB

	Interval   time.Duration
	Zone       *time.Location
	MinPresent int
	PageSize   int
	BatchSize  int

	// Clock defaults to the real clock; tests inject a fake.
	Clock clockwork.Clock
	// FallbackSleep is the fixed backoff after a failed cycle (default 60s).
	FallbackSleep time.Duration

	state State
}

func (t *Tracker) clock() clockwork.Clock {
	if t.Clock == nil {
		return clockwork.NewRealClock()
	}
	return t.Clock
}

// Run executes poll cycles until ctx is cancelled and returns ctx.Err().
// Cycle errors are logged and absorbed with a fixed fallback sleep; the loop
// itself only ever stops on cancellation, so the caller can block on Run for
// a clean shutdown.
func (t *Tracker) Run(ctx context.Context) error {
	clk := t.clock()
	fallback := t.FallbackSleep
	if fallback <= 0 {
		fallback = time.Minute
	}
	slog.Info("attendance tracker starting",
		slog.String("channel", t.Channel),
		slog.Duration("interval", t.Interval),
		slog.String("zone", t.Zone.String()))

	// Serve a leaderboard from existing history before the first poll lands.
	if err := t.rebuild(ctx); err != nil {
		slog.Warn("initial leaderboard build failed", slog.Any("err", err))
	}

	for {
		if ctx.Err() != nil {
			slog.Info("attendance tracker stopped", slog.String("channel", t.Channel))
			return ctx.Err()
		}
		start := clk.Now()
		err := t.cycle(ctx)
		sleep := t.Interval - clk.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("attendance tracker stopped", slog.String("channel", t.Channel))
				return ctx.Err()
			}
			telemetry.PollFailures.Inc()
			slog.Error("poll cycle failed", slog.String("channel", t.Channel), slog.Any("err", err))
			sleep = fallback
		}
		select {
		case <-ctx.Done():
			slog.Info("attendance tracker stopped", slog.String("channel", t.Channel))
			return ctx.Err()
		case <-clk.After(sleep):
		}
	}
}

// cycle performs one full poll. Any error aborts the cycle without touching
// the session state beyond what already committed.
func (t *Tracker) cycle(ctx context.Context) error {
	cctx, span := telemetry.StartSpan(ctx, "poll_cycle")
	defer span.End()
	clk := t.clock()
	start := clk.Now()
	telemetry.PollCycles.Inc()
	t.heartbeat(cctx)

	if err := t.Tokens.EnsureValid(cctx); err != nil {
		return fmt.Errorf("ensure token: %w", err)
	}

	live, err := t.Gateway.CheckLive(cctx)
	if err != nil {
		// Transient failure: keep the current state, try again next cycle.
		return fmt.Errorf("liveness check: %w", err)
	}

	next, ev := Transition(t.state, live, clk.Now(), t.Zone)
	t.state = next
	switch ev {
	case EventWentLive:
		telemetry.SetLive(true)
		slog.Info("stream went online", slog.String("channel", t.Channel), slog.Int("stream", next.Date))
	case EventWentOffline:
		telemetry.SetLive(false)
		slog.Info("stream went offline", slog.String("channel", t.Channel))
	}
	if !next.Live {
		return nil
	}

	if _, err := t.Store.OpenOrContinueSession(cctx, next.Date); err != nil {
		return err
	}
	roster, err := t.Gateway.FetchRoster(cctx)
	if err != nil {
		return fmt.Errorf("fetch roster: %w", err)
	}
	if err := t.Store.RecordObservation(cctx, next.Date, roster.Headcount, roster); err != nil {
		return err
	}
	telemetry.HeadcountGauge.Set(float64(roster.Headcount))

	if err := t.rebuild(cctx); err != nil {
		return err
	}

	elapsed := clk.Since(start)
	telemetry.CycleDuration.Observe(elapsed.Seconds())
	slog.Info("attendance updated",
		slog.String("channel", t.Channel),
		slog.Int("stream", next.Date),
		slog.Int("headcount", roster.Headcount),
		slog.Duration("took", elapsed))
	return nil
}

// rebuild recomputes the leaderboard snapshot from the store.
func (t *Tracker) rebuild(ctx context.Context) error {
	board, err := attendance.BuildLeaderboard(ctx, t.Store, t.PageSize, t.BatchSize, t.MinPresent)
	if err != nil {
		return fmt.Errorf("build leaderboard: %w", err)
	}
	t.Projector.Update(board)
	telemetry.SessionsGauge.Set(float64(board.TotalSessions))
	rows := 0
	for _, p := range board.Pages {
		rows += len(p.Data)
	}
	telemetry.RankedViewersGauge.Set(float64(rows))
	return nil
}

// heartbeat records the last poll attempt and the open session for /status.
// Best-effort: a failed write is logged, never fails the cycle.
func (t *Tracker) heartbeat(ctx context.Context) {
	if t.KV == nil {
		return
	}
	_, err := t.KV.ExecContext(ctx, `INSERT INTO kv (key,value,updated_at) VALUES ($1,$2,NOW())
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
		"tracker_last_poll:"+t.Channel, t.clock().Now().UTC().Format(time.RFC3339))
	if err != nil {
		slog.Warn("heartbeat write failed", slog.String("channel", t.Channel), slog.Any("err", err))
	}
	open := ""
	if t.state.Live {
		open = fmt.Sprintf("%d", t.state.Date)
	}
	_, err = t.KV.ExecContext(ctx, `INSERT INTO kv (key,value,updated_at) VALUES ($1,$2,NOW())
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
		"tracker_open_stream:"+t.Channel, open)
	if err != nil {
		slog.Warn("open-stream marker write failed", slog.String("channel", t.Channel), slog.Any("err", err))
	}
}
