// Package kvdb is the relay's sqlite store: one opaque snapshot blob per world and the
// last known position of every player.
package kvdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tilecraft.ai/internal/protocol"
)

var ErrNotFound = errors.New("not found")

// SnapshotMeta describes a stored snapshot without its body.
type SnapshotMeta struct {
	WorldID     string `json:"world_id"`
	Encoding    string `json:"encoding"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Owner       string `json:"owner,omitempty"`
	Size        int    `json:"size"`
	Version     int64  `json:"version"`
	UpdatedAtMS int64  `json:"updated_at_ms"`
}

type Store struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqUpsert reqKind = iota + 1
	reqRemove
	reqFlush
)

type req struct {
	kind    reqKind
	worldID string
	state   protocol.PlayerState
	seenMS  int64
	done    chan struct{}
}

func OpenSQLite(path string) (*Store, error) {
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

	s := &Store{
		db: db,
		ch: make(chan req, 65536),
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
		`CREATE TABLE IF NOT EXISTS snapshots (
			world_id TEXT PRIMARY KEY,
			encoding TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			owner TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			data BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS roster (
			world_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			state_json TEXT NOT NULL,
			seen_at_ms INTEGER NOT NULL,
			PRIMARY KEY (world_id, user_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_roster_world_seen ON roster(world_id, seen_at_ms);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes queued roster writes and closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped counts roster writes discarded because the writer fell behind.
func (s *Store) Dropped() uint64 { return s.dropped.Load() }

// PutSnapshot replaces the stored snapshot of a world. The version increases by one per put.
func (s *Store) PutSnapshot(ctx context.Context, m SnapshotMeta, data []byte) (SnapshotMeta, error) {
	if !protocol.ValidWorldID(m.WorldID) {
		return m, fmt.Errorf("bad world id %q", m.WorldID)
	}
	if m.UpdatedAtMS == 0 {
		m.UpdatedAtMS = time.Now().UnixMilli()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer func() { _ = tx.Rollback() }()

	var version int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM snapshots WHERE world_id=?`, m.WorldID).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return m, err
	}
	m.Version = version + 1
	m.Size = len(data)
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots(world_id,encoding,width,height,owner,version,updated_at_ms,data) VALUES(?,?,?,?,?,?,?,?)`,
		m.WorldID, m.Encoding, m.Width, m.Height, m.Owner, m.Version, m.UpdatedAtMS, data,
	); err != nil {
		return m, err
	}
	return m, tx.Commit()
}

func (s *Store) GetSnapshot(ctx context.Context, worldID string) (SnapshotMeta, []byte, error) {
	m := SnapshotMeta{WorldID: worldID}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT encoding,width,height,owner,version,updated_at_ms,data FROM snapshots WHERE world_id=?`, worldID,
	).Scan(&m.Encoding, &m.Width, &m.Height, &m.Owner, &m.Version, &m.UpdatedAtMS, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return m, nil, fmt.Errorf("snapshot %s: %w", worldID, ErrNotFound)
	}
	if err != nil {
		return m, nil, err
	}
	m.Size = len(data)
	return m, data, nil
}

// ListSnapshots returns the metadata of every stored world, sorted by id.
func (s *Store) ListSnapshots(ctx context.Context) ([]SnapshotMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT world_id,encoding,width,height,owner,version,updated_at_ms,length(data) FROM snapshots ORDER BY world_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotMeta
	for rows.Next() {
		var m SnapshotMeta
		if err := rows.Scan(&m.WorldID, &m.Encoding, &m.Width, &m.Height, &m.Owner, &m.Version, &m.UpdatedAtMS, &m.Size); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteSnapshot forgets a world's snapshot and roster.
func (s *Store) DeleteSnapshot(ctx context.Context, worldID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE world_id=?`, worldID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM roster WHERE world_id=?`, worldID)
	return err
}

// UpsertPlayer queues a roster write. It never blocks; writes are dropped when the queue is full.
func (s *Store) UpsertPlayer(worldID string, st protocol.PlayerState, seen time.Time) {
	if s == nil || s.closed.Load() || st.UserID == "" {
		return
	}
	kind := reqUpsert
	if st.Leaving {
		kind = reqRemove
	}
	s.enqueue(req{kind: kind, worldID: worldID, state: st, seenMS: seen.UnixMilli()})
}

func (s *Store) enqueue(r req) {
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

// Flush waits until every roster write queued before it is committed.
func (s *Store) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
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

// Roster returns the players of a world seen at or after since, sorted by user id.
func (s *Store) Roster(ctx context.Context, worldID string, since time.Time) ([]protocol.PlayerState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state_json FROM roster WHERE world_id=? AND seen_at_ms>=? ORDER BY user_id`, worldID, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []protocol.PlayerState
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var st protocol.PlayerState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			continue
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) loop() {
	ctx := context.Background()

	upsert, _ := s.db.Prepare(`INSERT OR REPLACE INTO roster(world_id,user_id,state_json,seen_at_ms) VALUES(?,?,?,?)`)
	remove, _ := s.db.Prepare(`DELETE FROM roster WHERE world_id=? AND user_id=?`)
	defer func() {
		if upsert != nil {
			_ = upsert.Close()
		}
		if remove != nil {
			_ = remove.Close()
		}
	}()

	// The store has a single connection, so the writer commits as soon as the queue is
	// empty rather than holding a transaction open against readers.
	var (
		tx          *sql.Tx
		opCount     int
		commitEvery = 500
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqUpsert:
			b, _ := json.Marshal(r.state)
			if upsert != nil {
				if _, err := tx.Stmt(upsert).Exec(r.worldID, r.state.UserID, string(b), r.seenMS); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		case reqRemove:
			if remove != nil {
				if _, err := tx.Stmt(remove).Exec(r.worldID, r.state.UserID); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		if opCount >= commitEvery || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}
