// Package log writes the per-run turn and audit logs as hourly-rotated,
// zstd-compressed JSONL files, and reads them back for replay.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"statecraft.ai/internal/sim/audit"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
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

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
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
	w.curHour = hour
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

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TurnEntry summarises one completed Step.
type TurnEntry struct {
	RunID string `json:"run_id"`
	// Turn is the timestep the Step ran at; the resulting state is at Turn+1.
	Turn          int      `json:"turn"`
	PrevDigest    string   `json:"prev_digest"`
	Digest        string   `json:"digest"`
	TriggersFired []string `json:"triggers_fired,omitempty"`
	Reducers      int      `json:"reducers"`
	FieldChanges  int      `json:"field_changes"`
	Errors        int      `json:"errors"`
}

// NewTurnEntry builds the log line for a Step from prev to next.
func NewTurnEntry(runID, prevDigest, digest string, a audit.StepAudit) TurnEntry {
	return TurnEntry{
		RunID:         runID,
		Turn:          a.Timestep,
		PrevDigest:    prevDigest,
		Digest:        digest,
		TriggersFired: a.TriggersFired,
		Reducers:      len(a.ReducerSequence),
		FieldChanges:  len(a.FieldChanges),
		Errors:        len(a.Errors),
	}
}

type AuditEntry struct {
	RunID string          `json:"run_id"`
	Audit audit.StepAudit `json:"audit"`
}

// TurnLogger writes one JSONL entry per turn (compressed).
type TurnLogger struct{ w *JSONLZstdWriter }

func NewTurnLogger(runDir string) *TurnLogger {
	return &TurnLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "turns"), "turns")}
}

func (l *TurnLogger) WriteTurn(v TurnEntry) error { return l.w.Write(v) }
func (l *TurnLogger) Close() error               { return l.w.Close() }

// AuditLogger writes the full StepAudit of every turn (compressed).
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(runDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(v AuditEntry) error { return l.w.Write(v) }
func (l *AuditLogger) Close() error                 { return l.w.Close() }

// ReadTurns loads every turn entry under runDir in file order.
func ReadTurns(runDir string) ([]TurnEntry, error) {
	return readAll[TurnEntry](filepath.Join(runDir, "turns"), "turns")
}

// ReadAudits loads every audit entry under runDir in file order.
func ReadAudits(runDir string) ([]AuditEntry, error) {
	return readAll[AuditEntry](filepath.Join(runDir, "audit"), "audit")
}

func readAll[T any](dir, prefix string) ([]T, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		files = append(files, name)
	}
	// Hour stamps sort lexically.
	sort.Strings(files)

	var out []T
	for _, name := range files {
		if err := readFile(filepath.Join(dir, name), func(v T) { out = append(out, v) }); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return out, nil
}

func readFile[T any](path string, fn func(T)) error {
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

	jd := json.NewDecoder(bufio.NewReaderSize(dec, 128*1024))
	for {
		var v T
		if err := jd.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fn(v)
	}
}
