package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"nationcraft.ai/internal/persistence/snapshot"
	"nationcraft.ai/internal/sim/world"
)

// SQLiteIndex is a queryable secondary copy of the audit trail and flush history.
// Writes are queued and applied by a single goroutine; a full queue drops the row.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropAudit atomic.Uint64
	dropFlush atomic.Uint64
	failTotal atomic.Uint64
}

type reqKind int

const (
	reqAudit reqKind = iota + 1
	reqFlush
	reqSync
)

type req struct {
	kind reqKind

	audit world.AuditEntry
	flush FlushRecord
	done  chan struct{}
}

// FlushRecord describes one successful write of the durable blob.
type FlushRecord struct {
	Seq      uint64 `json:"seq"`
	Backend  string `json:"backend"`
	ServerID string `json:"server_id"`
	Nations  int    `json:"nations"`
	Members  int    `json:"members"`
	Digest   string `json:"digest,omitempty"`
	SavedAt  string `json:"saved_at"`
}

// NewFlushRecord summarizes snap as written to backend.
func NewFlushRecord(backend string, snap snapshot.SnapshotV1) FlushRecord {
	members := 0
	for _, n := range snap.Nations {
		members += len(n.Members)
	}
	savedAt := snap.Header.SavedAt
	if savedAt == "" {
		savedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return FlushRecord{
		Seq:      snap.Header.Seq,
		Backend:  backend,
		ServerID: snap.Header.ServerID,
		Nations:  len(snap.Nations),
		Members:  members,
		Digest:   snap.Header.Digest,
		SavedAt:  savedAt,
	}
}

type Stats struct {
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	DropAuditTotal uint64 `json:"drop_audit_total"`
	DropFlushTotal uint64 `json:"drop_flush_total"`
	WriteFailTotal uint64 `json:"write_fail_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL,
			time TEXT NOT NULL,
			requester TEXT NOT NULL,
			op TEXT NOT NULL,
			nation TEXT,
			target TEXT,
			state TEXT,
			code TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_requester ON audits(requester, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_nation ON audits(nation, seq);`,
		`CREATE TABLE IF NOT EXISTS flushes (
			seq INTEGER NOT NULL,
			backend TEXT NOT NULL,
			server_id TEXT NOT NULL,
			nations INTEGER NOT NULL,
			members INTEGER NOT NULL,
			digest TEXT,
			saved_at TEXT NOT NULL,
			PRIMARY KEY (seq, backend)
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteAudit queues e. It never blocks the caller.
func (s *SQLiteIndex) WriteAudit(e world.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: e}:
	default:
		s.dropAudit.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordFlush(r FlushRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqFlush, flush: r}:
	default:
		s.dropFlush.Add(1)
	}
}

// Sync waits until every row queued before the call is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropAuditTotal: s.dropAudit.Load(),
		DropFlushTotal: s.dropFlush.Load(),
		WriteFailTotal: s.failTotal.Load(),
	}
}

// AuditQuery filters QueryAudits. Empty fields match everything.
type AuditQuery struct {
	Requester string
	Nation    string
	Op        string
	// Rejected restricts results to requests answered with an error code.
	Rejected bool
	Limit    int
}

// QueryAudits returns matching entries, newest first.
func (s *SQLiteIndex) QueryAudits(ctx context.Context, q AuditQuery) ([]world.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if q.Requester != "" {
		where = append(where, "requester = ?")
		args = append(args, q.Requester)
	}
	if q.Nation != "" {
		where = append(where, "(nation = ? OR target = ?)")
		args = append(args, q.Nation, q.Nation)
	}
	if q.Op != "" {
		where = append(where, "op = ?")
		args = append(args, q.Op)
	}
	if q.Rejected {
		where = append(where, "code <> ''")
	}
	limit := q.Limit
	if limit <= 0 || limit > 10000 {
		limit = 100
	}
	query := "SELECT raw_json FROM audits"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []world.AuditEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e world.AuditEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode audit row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestFlush returns ok=false if nothing has been recorded.
func (s *SQLiteIndex) LatestFlush(ctx context.Context) (FlushRecord, bool, error) {
	var r FlushRecord
	var digest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT seq,backend,server_id,nations,members,digest,saved_at FROM flushes ORDER BY seq DESC, saved_at DESC LIMIT 1`,
	).Scan(&r.Seq, &r.Backend, &r.ServerID, &r.Nations, &r.Members, &digest, &r.SavedAt)
	if err == sql.ErrNoRows {
		return FlushRecord{}, false, nil
	}
	if err != nil {
		return FlushRecord{}, false, err
	}
	r.Digest = digest.String
	return r, true, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertAudit, _ := s.db.Prepare(`INSERT INTO audits(version,time,requester,op,nation,target,state,code,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertFlush, _ := s.db.Prepare(`INSERT OR REPLACE INTO flushes(seq,backend,server_id,nations,members,digest,saved_at) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertAudit != nil {
			_ = insertAudit.Close()
		}
		if insertFlush != nil {
			_ = insertFlush.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.failTotal.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.failTotal.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.failTotal.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqAudit:
			a := r.audit
			raw, _ := json.Marshal(a)
			if insertAudit != nil {
				if _, err := tx.Stmt(insertAudit).Exec(
					int64(a.Version),
					a.Time.UTC().Format(time.RFC3339Nano),
					a.Requester,
					a.Op,
					nullable(a.Nation),
					nullable(a.Target),
					nullable(a.State),
					a.Code,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqFlush:
			f := r.flush
			if insertFlush != nil {
				if _, err := tx.Stmt(insertFlush).Exec(
					int64(f.Seq),
					f.Backend,
					f.ServerID,
					f.Nations,
					f.Members,
					nullable(f.Digest),
					f.SavedAt,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
