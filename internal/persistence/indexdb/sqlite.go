// Package indexdb keeps a queryable SQLite index of episodes, their steps and
// every rejected action. The JSONL trace remains the source of truth; the
// index may drop rows when its writer falls behind.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"ggcore.ai/internal/protocol"
	"ggcore.ai/internal/sim/driver"
)

var ErrNotFound = errors.New("not found")

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropStep      atomic.Uint64
	dropRejection atomic.Uint64
	dropEnd       atomic.Uint64
}

type reqKind int

const (
	reqStep reqKind = iota + 1
	reqRejection
	reqEnd
	reqFlush
)

type req struct {
	kind reqKind

	step      StepRow
	rejection RejectionRow
	end       endRow
	done      chan struct{}
}

type endRow struct {
	EpisodeID string
	Tick      uint64
	Reason    string
	EndedAt   string
}

// EpisodeRow describes one run. Seeds are stored as decimal text to keep the
// full uint64 range.
type EpisodeRow struct {
	ID           string
	ConfigDigest string
	GenSeed      uint64
	EpisodeSeed  uint64
	Width        int
	Height       int
	Agents       int
	MaxSteps     int
	StartedAt    time.Time
	EndedAt      *time.Time
	FinalTick    *uint64
	Reason       string
}

type StepRow struct {
	EpisodeID    string
	Tick         uint64
	Digest       string
	ActiveAgents int
	Entities     int
	Events       int
	Terminal     bool
}

type RejectionRow struct {
	EpisodeID string
	Tick      uint64
	Seq       int
	AgentID   string
	Kind      string
	Code      string
	Reason    string
	RawJSON   string
}

type Stats struct {
	DropStepTotal      uint64
	DropRejectionTotal uint64
	DropEndTotal       uint64
	QueueDepth         int
	QueueCapacity      int
}

// NewEpisodeID returns a fresh random episode id.
func NewEpisodeID() string { return uuid.NewString() }

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
	if err := runMigrations(context.Background(), db); err != nil {
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
		"PRAGMA foreign_keys=ON;",
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

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropStepTotal:      s.dropStep.Load(),
		DropRejectionTotal: s.dropRejection.Load(),
		DropEndTotal:       s.dropEnd.Load(),
		QueueDepth:         len(s.ch),
		QueueCapacity:      cap(s.ch),
	}
}

// BeginEpisode records the episode row synchronously so later step rows can
// reference it.
func (s *SQLiteIndex) BeginEpisode(ctx context.Context, e EpisodeRow) error {
	if e.ID == "" {
		return fmt.Errorf("empty episode id")
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO episodes(id,config_digest,gen_seed,episode_seed,width,height,agents,max_steps,started_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ConfigDigest,
		strconv.FormatUint(e.GenSeed, 10), strconv.FormatUint(e.EpisodeSeed, 10),
		e.Width, e.Height, e.Agents, e.MaxSteps,
		e.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("begin episode %s: %w", e.ID, err)
	}
	return nil
}

// Flush blocks until every request queued before it is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
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

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		drops.Add(1)
	}
}

// Sink returns a state sink that indexes one episode. The episode row must
// exist already.
func (s *SQLiteIndex) Sink(episodeID string) *EpisodeSink {
	return &EpisodeSink{idx: s, episodeID: episodeID}
}

// EpisodeSink feeds emitted states into the index.
type EpisodeSink struct {
	idx       *SQLiteIndex
	episodeID string
}

func (k *EpisodeSink) WriteState(st driver.GameState) error {
	active := 0
	for _, a := range st.Agents {
		if a.Active {
			active++
		}
	}
	k.idx.enqueue(req{kind: reqStep, step: StepRow{
		EpisodeID:    k.episodeID,
		Tick:         st.Tick,
		Digest:       st.Digest,
		ActiveAgents: active,
		Entities:     len(st.Entities),
		Events:       len(st.Events),
		Terminal:     st.Terminal,
	}}, &k.idx.dropStep)

	seq := 0
	for _, o := range st.Outcomes {
		if o.Status != protocol.StatusRejected {
			continue
		}
		raw, _ := json.Marshal(o)
		k.idx.enqueue(req{kind: reqRejection, rejection: RejectionRow{
			EpisodeID: k.episodeID, Tick: st.Tick, Seq: seq, AgentID: o.AgentID,
			Kind: "rejection", Code: o.Code, Reason: o.Reason, RawJSON: string(raw),
		}}, &k.idx.dropRejection)
		seq++
	}
	for _, f := range st.Failures {
		raw, _ := json.Marshal(f)
		k.idx.enqueue(req{kind: reqRejection, rejection: RejectionRow{
			EpisodeID: k.episodeID, Tick: st.Tick, Seq: seq, AgentID: f.AgentID,
			Kind: "failure", Code: f.Code, Reason: f.Reason, RawJSON: string(raw),
		}}, &k.idx.dropRejection)
		seq++
	}

	if st.Terminal {
		k.idx.enqueue(req{kind: reqEnd, end: endRow{
			EpisodeID: k.episodeID,
			Tick:      st.Tick,
			Reason:    st.Reason,
			EndedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		}}, &k.idx.dropEnd)
	}
	return nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertStep, _ := s.db.Prepare(`INSERT OR REPLACE INTO steps(episode_id,tick,digest,active_agents,entities,events,terminal) VALUES(?,?,?,?,?,?,?)`)
	insertRejection, _ := s.db.Prepare(`INSERT OR REPLACE INTO rejections(episode_id,tick,seq,agent_id,kind,code,reason,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	updateEnd, _ := s.db.Prepare(`UPDATE episodes SET ended_at=?, final_tick=?, reason=? WHERE id=?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertStep, insertRejection, updateEnd} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
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
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
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
		case reqStep:
			st := r.step
			terminal := 0
			if st.Terminal {
				terminal = 1
			}
			exec(insertStep, st.EpisodeID, int64(st.Tick), st.Digest, st.ActiveAgents, st.Entities, st.Events, terminal)
		case reqRejection:
			rj := r.rejection
			exec(insertRejection, rj.EpisodeID, int64(rj.Tick), rj.Seq, rj.AgentID, rj.Kind, rj.Code, rj.Reason, rj.RawJSON)
		case reqEnd:
			e := r.end
			exec(updateEnd, e.EndedAt, int64(e.Tick), e.Reason, e.EpisodeID)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
