package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"ggcore.ai/internal/protocol"
	"ggcore.ai/internal/sim/driver"
)

// JSONLZstdWriter appends JSON lines to a single zstd-compressed file. The
// file is created on first write.
type JSONLZstdWriter struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

func NewJSONLZstdWriter(path string) *JSONLZstdWriter {
	return &JSONLZstdWriter{path: path}
}

func (w *JSONLZstdWriter) Path() string { return w.path }

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		if err := w.openLocked(); err != nil {
			return err
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) openLocked() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

// ReadJSONL decodes every line of a compressed JSONL file, calling fn in order.
func ReadJSONL[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	jd := json.NewDecoder(dec)
	for {
		var v T
		if err := jd.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}

func statesPath(dir, episodeID string) string {
	return filepath.Join(dir, "states", episodeID+".jsonl.zst")
}

func auditPath(dir, episodeID string) string {
	return filepath.Join(dir, "audit", episodeID+".jsonl.zst")
}

// StateLogger writes one JSONL entry per emitted state (compressed).
type StateLogger struct{ w *JSONLZstdWriter }

func NewStateLogger(dir, episodeID string) *StateLogger {
	return &StateLogger{w: NewJSONLZstdWriter(statesPath(dir, episodeID))}
}

func (l *StateLogger) WriteState(s driver.GameState) error { return l.w.Write(s) }
func (l *StateLogger) Path() string                        { return l.w.Path() }
func (l *StateLogger) Close() error                        { return l.w.Close() }

// AuditEntry records one rejected action or failed source call.
type AuditEntry struct {
	ProtocolVersion string `json:"protocol_version"`
	EpisodeID       string `json:"episode_id"`
	Tick            uint64 `json:"tick"`
	AgentID         string `json:"agent_id"`
	Kind            string `json:"kind"`
	Action          string `json:"action,omitempty"`
	Code            string `json:"code"`
	Reason          string `json:"reason"`
	At              int64  `json:"at_unix_ms"`
}

const (
	AuditRejection = "rejection"
	AuditFailure   = "failure"
)

// AuditLogger writes audit JSONL entries (compressed).
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(dir, episodeID string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(auditPath(dir, episodeID))}
}

func (l *AuditLogger) WriteAudit(v AuditEntry) error { return l.w.Write(v) }
func (l *AuditLogger) Path() string                  { return l.w.Path() }
func (l *AuditLogger) Close() error                  { return l.w.Close() }

// Trace is a state sink that keeps the full state stream plus an audit trail
// of rejections and source failures for one episode.
type Trace struct {
	episodeID string
	states    *StateLogger
	audit     *AuditLogger
	now       func() time.Time
}

func NewTrace(dir, episodeID string) *Trace {
	return &Trace{
		episodeID: episodeID,
		states:    NewStateLogger(dir, episodeID),
		audit:     NewAuditLogger(dir, episodeID),
		now:       time.Now,
	}
}

func (t *Trace) StatesPath() string { return t.states.Path() }
func (t *Trace) AuditPath() string  { return t.audit.Path() }

func (t *Trace) WriteState(s driver.GameState) error {
	if err := t.states.WriteState(s); err != nil {
		return err
	}
	at := t.now().UnixMilli()
	for _, o := range s.Outcomes {
		if o.Status != protocol.StatusRejected {
			continue
		}
		if err := t.audit.WriteAudit(AuditEntry{
			ProtocolVersion: protocol.Version,
			EpisodeID:       t.episodeID,
			Tick:            s.Tick,
			AgentID:         o.AgentID,
			Kind:            AuditRejection,
			Action:          o.Action.String(),
			Code:            o.Code,
			Reason:          o.Reason,
			At:              at,
		}); err != nil {
			return err
		}
	}
	for _, f := range s.Failures {
		if err := t.audit.WriteAudit(AuditEntry{
			ProtocolVersion: protocol.Version,
			EpisodeID:       t.episodeID,
			Tick:            s.Tick,
			AgentID:         f.AgentID,
			Kind:            AuditFailure,
			Code:            f.Code,
			Reason:          f.Reason,
			At:              at,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trace) Close() error {
	return errors.Join(t.states.Close(), t.audit.Close())
}

// ReadStates loads a state log written by StateLogger or Trace.
func ReadStates(path string) ([]driver.GameState, error) {
	var out []driver.GameState
	err := ReadJSONL(path, func(s driver.GameState) error {
		out = append(out, s)
		return nil
	})
	return out, err
}
