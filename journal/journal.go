// Package journal persists pipeline events (accepted runs, scoring results,
// stale responses, channel transitions, user actions) to SQLite so a
// session can be inspected after the fact.
//
// Writes are asynchronous: Record never blocks the pipeline loop. A full
// buffer falls back to a synchronous insert.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/mailsentry/idgen"
)

// Entry statuses.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusStale    = "stale"
	StatusCanceled = "canceled"
)

// Entry is one journaled event.
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Component  string    `json:"component"` // "guard", "scoring", "channel", "action"
	Operation  string    `json:"operation"`
	Identity   string    `json:"identity,omitempty"`
	Token      string    `json:"token,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Detail     string    `json:"detail,omitempty"` // JSON
}

// Filter narrows Recent.
type Filter struct {
	Component string
	Operation string
	Limit     int // default 50
}

// Journal writes entries through a buffered channel drained by a single
// goroutine.
type Journal struct {
	db      *sql.DB
	ownsDB  bool
	newID   idgen.Generator
	now     func() time.Time
	logger  *slog.Logger
	ch      chan *Entry
	stop    chan struct{}
	done    chan struct{}
	flushed chan chan struct{}
}

// Option configures a Journal.
type Option func(*Journal)

// WithIDGenerator sets the entry ID generator. Default: "evt_" + UUIDv7.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(j *Journal) { j.newID = gen }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// WithBuffer sets the async buffer size. Default: 256.
func WithBuffer(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.ch = make(chan *Entry, n)
		}
	}
}

// Open opens (or creates) the journal database at path. ":memory:" is
// accepted for tests.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	j := newJournal(db, opts...)
	j.ownsDB = true
	return j, nil
}

func newJournal(db *sql.DB, opts ...Option) *Journal {
	j := &Journal{
		db:      db,
		newID:   idgen.Prefixed("evt_", idgen.Default),
		now:     time.Now,
		logger:  slog.Default(),
		ch:      make(chan *Entry, 256),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		flushed: make(chan chan struct{}),
	}
	for _, o := range opts {
		o(j)
	}
	go j.flushLoop()
	return j
}

// Log inserts e synchronously.
func (j *Journal) Log(ctx context.Context, e Entry) error {
	j.fill(&e)
	return runTx(ctx, j.db, func(tx *sql.Tx) error { return insert(ctx, tx, &e) })
}

// Record queues e for asynchronous persistence.
func (j *Journal) Record(e Entry) {
	j.fill(&e)
	select {
	case j.ch <- &e:
	default:
		j.logger.Warn("journal: buffer full, sync fallback", "component", e.Component, "operation", e.Operation)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := runTx(ctx, j.db, func(tx *sql.Tx) error { return insert(ctx, tx, &e) }); err != nil {
			j.logger.Error("journal: sync fallback failed", "error", err)
		}
	}
}

// Event builds an Entry, marshalling detail to JSON and deriving the status
// from err.
func Event(component, operation string, detail any, err error) Entry {
	e := Entry{Component: component, Operation: operation, Status: StatusOK}
	if detail != nil {
		if b, merr := json.Marshal(detail); merr == nil {
			e.Detail = string(b)
		}
	}
	if err != nil {
		e.Status = StatusError
		e.Error = err.Error()
	}
	return e
}

// Flush blocks until every entry queued before the call is written.
func (j *Journal) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case j.flushed <- ack:
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recent returns the newest entries matching f.
func (j *Journal) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	q := `SELECT entry_id, timestamp, component, operation, identity, token,
		status, error, duration_ms, detail
		FROM pipeline_events WHERE 1=1`
	var args []any
	if f.Component != "" {
		q += " AND component = ?"
		args = append(args, f.Component)
	}
	if f.Operation != "" {
		q += " AND operation = ?"
		args = append(args, f.Operation)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += " ORDER BY timestamp DESC, entry_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var identity, token, errMsg sql.NullString
		var dur sql.NullInt64
		if err := rows.Scan(&e.ID, &ts, &e.Component, &e.Operation,
			&identity, &token, &e.Status, &errMsg, &dur, &e.Detail); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		e.Identity = identity.String
		e.Token = token.String
		e.Error = errMsg.String
		e.DurationMs = dur.Int64
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than maxAge.
func (j *Journal) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	threshold := j.now().Add(-maxAge).UnixMilli()
	res, err := j.db.ExecContext(ctx, "DELETE FROM pipeline_events WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("journal: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close drains the buffer, stops the writer and closes the database if
// Open created it.
func (j *Journal) Close() error {
	close(j.stop)
	<-j.done
	if j.ownsDB {
		return j.db.Close()
	}
	return nil
}

func (j *Journal) fill(e *Entry) {
	if e.ID == "" {
		e.ID = j.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = j.now()
	}
	if e.Status == "" {
		e.Status = StatusOK
		if e.Error != "" {
			e.Status = StatusError
		}
	}
	if e.Detail == "" {
		e.Detail = "{}"
	}
}

func (j *Journal) flushLoop() {
	defer close(j.done)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	batch := make([]*Entry, 0, 64)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := runTx(ctx, j.db, func(tx *sql.Tx) error {
			for _, e := range batch {
				if err := insert(ctx, tx, e); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			j.logger.Error("journal: flush failed", "entries", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	drain := func() {
		for {
			select {
			case e := <-j.ch:
				batch = append(batch, e)
			default:
				flush()
				return
			}
		}
	}

	for {
		select {
		case <-j.stop:
			drain()
			return
		case ack := <-j.flushed:
			drain()
			close(ack)
		case e := <-j.ch:
			batch = append(batch, e)
			if len(batch) >= 64 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func insert(ctx context.Context, tx *sql.Tx, e *Entry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pipeline_events
		(entry_id, timestamp, component, operation, identity, token,
		 status, error, duration_ms, detail)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Timestamp.UnixMilli(), e.Component, e.Operation,
		nullable(e.Identity), nullable(e.Token), e.Status, nullable(e.Error),
		e.DurationMs, e.Detail)
	if err != nil {
		return fmt.Errorf("journal: insert %s: %w", e.ID, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
