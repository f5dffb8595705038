package attendance

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/lib/pq"
)

// Session is one continuous live broadcast, identified by the calendar date
// (yyyymmdd, reference zone) on which it began.
type Session struct {
	Date    int
	Avg     float64
	Samples int
}

// ViewerRow is one viewer's aggregate record as delivered by the ranked scan.
type ViewerRow struct {
	Name    string
	Role    Role
	Present int
	Absent  int
	Minutes int64
}

// Stats summarizes the tracked population across all recorded streams.
type Stats struct {
	Streams   int `json:"streams"`
	Unique    int `json:"unique_viewers"`
	Active    int `json:"active_viewers"`    // attended more than half of the streams
	Dedicated int `json:"dedicated_viewers"` // attended every stream
}

// PersistenceError wraps a storage-layer failure. The poll cycle aborts on it
// without partial effect and retries on the next cycle.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("attendance: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

func perr(op string, err error) error { return &PersistenceError{Op: op, Err: err} }

// Store is the durable attendance aggregation for a single channel. All
// mutation happens inside single transactions, so concurrent leaderboard
// readers observe either a fully-pre-update or fully-post-update snapshot.
type Store struct {
	db       *sql.DB
	channel  string
	interval time.Duration // watch time credited per observed poll
}

func NewStore(db *sql.DB, channel string, pollInterval time.Duration) *Store {
	return &Store{db: db, channel: channel, interval: pollInterval}
}

func (s *Store) Channel() string { return s.channel }

// OpenOrContinueSession ensures a stream row exists for date and returns it.
// Safe to call every poll; the existing row is returned unchanged.
func (s *Store) OpenOrContinueSession(ctx context.Context, date int) (Session, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO streams (channel, stream_date, avg_viewers, num_avg, created_at)
		 VALUES ($1, $2, 0, 0, NOW())
		 ON CONFLICT (channel, stream_date) DO NOTHING`, s.channel, date)
	if err != nil {
		return Session{}, perr("open session", err)
	}
	sess := Session{Date: date}
	err = s.db.QueryRowContext(ctx,
		`SELECT avg_viewers, num_avg FROM streams WHERE channel=$1 AND stream_date=$2`,
		s.channel, date).Scan(&sess.Avg, &sess.Samples)
	if err != nil {
		return Session{}, perr("read session", err)
	}
	return sess, nil
}

// RecordObservation folds one poll into the store: the stream's running
// average advances by the incremental-mean formula, and every chatter in the
// roster gets its record upserted. The whole fold is a single transaction.
//
// A stream date is appended to a viewer's attended list at most once per
// session (guarded by last_stream), while watch_seconds grows by the poll
// interval on every observed poll, repeats included.
func (s *Store) RecordObservation(ctx context.Context, date, headcount int, roster Roster) error {
	if err := roster.validate(); err != nil {
		return fmt.Errorf("record observation: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return perr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE streams
		 SET avg_viewers=(avg_viewers*num_avg + $3) / (num_avg + 1),
		     num_avg=num_avg + 1,
		     updated_at=NOW()
		 WHERE channel=$1 AND stream_date=$2`, s.channel, date, headcount)
	if err != nil {
		return perr("update stream average", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return perr("update stream average", fmt.Errorf("stream %d not open", date))
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO attendance (channel, name, role, streams, present, last_stream, watch_seconds)
		 VALUES ($1, $2, $3, ARRAY[$4::integer], 1, $4, $5)
		 ON CONFLICT (channel, name) DO UPDATE SET
		   role=EXCLUDED.role,
		   streams=CASE WHEN attendance.last_stream=$4 THEN attendance.streams ELSE attendance.streams || $4::integer END,
		   present=CASE WHEN attendance.last_stream=$4 THEN attendance.present ELSE attendance.present + 1 END,
		   last_stream=$4,
		   watch_seconds=attendance.watch_seconds + $5`)
	if err != nil {
		return perr("prepare viewer upsert", err)
	}
	defer func() { _ = stmt.Close() }()

	credit := int64(s.interval / time.Second)
	for name, role := range roster.Chatters {
		if _, err := stmt.ExecContext(ctx, s.channel, name, string(role), date, credit); err != nil {
			return perr("upsert viewer "+name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return perr("commit", err)
	}
	return nil
}

// TotalSessions counts all streams ever opened for the channel.
func (s *Store) TotalSessions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM streams WHERE channel=$1`, s.channel).Scan(&n); err != nil {
		return 0, perr("count streams", err)
	}
	return n, nil
}

// ForEachRankedDescending streams the viewer population ordered by present
// count descending (name ascending within a tie) in batches of at most
// batchSize rows. Viewers below minPresent are excluded. The scan runs inside
// a single repeatable-read transaction, so the caller sees one point-in-time
// snapshot regardless of concurrent poll folds.
func (s *Store) ForEachRankedDescending(ctx context.Context, batchSize, minPresent int, fn func([]ViewerRow) error) error {
	if batchSize <= 0 {
		batchSize = 10000
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return perr("begin ranked scan", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM streams WHERE channel=$1`, s.channel).Scan(&total); err != nil {
		return perr("count streams", err)
	}

	// Keyset cursor over the (channel, present DESC, name ASC) index.
	curPresent := math.MaxInt32
	curName := ""
	for {
		batch, err := s.rankedBatch(ctx, tx, batchSize, minPresent, curPresent, curName, total)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		last := batch[len(batch)-1]
		curPresent, curName = last.Present, last.Name
		if len(batch) < batchSize {
			return nil
		}
	}
}

func (s *Store) rankedBatch(ctx context.Context, tx *sql.Tx, batchSize, minPresent, curPresent int, curName string, total int) ([]ViewerRow, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT name, role, present, watch_seconds FROM attendance
		 WHERE channel=$1 AND present >= $2
		   AND (present < $3 OR (present = $3 AND name > $4))
		 ORDER BY present DESC, name ASC
		 LIMIT $5`, s.channel, minPresent, curPresent, curName, batchSize)
	if err != nil {
		return nil, perr("ranked scan", err)
	}
	defer func() { _ = rows.Close() }()

	batch := make([]ViewerRow, 0, batchSize)
	for rows.Next() {
		var v ViewerRow
		var role string
		var secs int64
		if err := rows.Scan(&v.Name, &role, &v.Present, &secs); err != nil {
			return nil, perr("scan viewer row", err)
		}
		if !ValidRole(role) {
			return nil, perr("scan viewer row", fmt.Errorf("viewer %q has unknown role %q", v.Name, role))
		}
		v.Role = Role(role)
		v.Absent = total - v.Present
		v.Minutes = secs / 60
		batch = append(batch, v)
	}
	if err := rows.Err(); err != nil {
		return nil, perr("ranked scan", err)
	}
	return batch, nil
}

// Summary computes population statistics across all recorded streams,
// optionally restricted to the inclusive yyyymmdd range [minDate, maxDate].
// Pass 0 for either bound to leave that end open. The broadcaster's own
// record is excluded.
func (s *Store) Summary(ctx context.Context, minDate, maxDate int) (Stats, error) {
	// An unset upper bound means "through the latest stream", whether or not a
	// lower bound was given.
	if maxDate == 0 {
		maxDate = math.MaxInt32
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return Stats{}, perr("begin summary", err)
	}
	defer func() { _ = tx.Rollback() }()

	var st Stats
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM streams WHERE channel=$1 AND stream_date BETWEEN $2 AND $3`,
		s.channel, minDate, maxDate).Scan(&st.Streams); err != nil {
		return Stats{}, perr("count streams", err)
	}
	if st.Streams == 0 {
		return st, nil
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT streams FROM attendance WHERE channel=$1 AND role <> $2`,
		s.channel, string(RoleCaster))
	if err != nil {
		return Stats{}, perr("summary scan", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var attended pq.Int32Array
		if err := rows.Scan(&attended); err != nil {
			return Stats{}, perr("scan attended streams", err)
		}
		n := 0
		for _, d := range attended {
			if int(d) >= minDate && int(d) <= maxDate {
				n++
			}
		}
		if n == 0 {
			continue
		}
		st.Unique++
		switch {
		case n == st.Streams:
			st.Dedicated++
		case n > st.Streams/2:
			st.Active++
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, perr("summary scan", err)
	}
	return st, nil
}
