// Package snapshot stores a run's resumable position: the world state, the
// trigger lifecycle record and the triggers themselves.
package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"statecraft.ai/internal/sim/state"
	"statecraft.ai/internal/sim/triggers"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Turn    int    `json:"turn"`
	Digest  string `json:"digest"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Scenario    string             `json:"scenario,omitempty"`
	BaseCountry string             `json:"base_country,omitempty"`
	State       *state.GlobalState `json:"state"`
	Fired       *triggers.FiredSet `json:"fired"`
	Triggers    []triggers.Trigger `json:"triggers,omitempty"`
}

// New captures g and fired as they stand. Both are deep-copied so the run
// can keep stepping while the snapshot is written.
func New(runID, scenario, baseCountry string, g *state.GlobalState, fired *triggers.FiredSet, trigs []triggers.Trigger) SnapshotV1 {
	return SnapshotV1{
		Header: Header{
			Version: Version,
			RunID:   runID,
			Turn:    g.T,
			Digest:  g.Digest(),
		},
		Scenario:    scenario,
		BaseCountry: baseCountry,
		State:       g.Clone(),
		Fired:       fired.Clone(),
		Triggers:    append([]triggers.Trigger(nil), trigs...),
	}
}

// FileName is the on-disk name of a snapshot for turn t. Names sort by turn.
func FileName(t int) string {
	return fmt.Sprintf("%09d.snap.zst", t)
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := json.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// ReadHeader decodes only the first line of a snapshot.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := json.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("json decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	if snap.State == nil {
		return snap, fmt.Errorf("snapshot has no state")
	}
	snap.State.Normalize()
	if snap.Fired == nil {
		snap.Fired = triggers.NewFiredSet()
	}
	if got := snap.State.Digest(); snap.Header.Digest != "" && got != snap.Header.Digest {
		return snap, fmt.Errorf("state digest %s does not match header %s", got, snap.Header.Digest)
	}
	return snap, nil
}

// Latest returns the snapshot with the highest turn in dir, or "" if there
// is none.
func Latest(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	best, bestTurn := "", -1
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		t, err := strconv.Atoi(strings.TrimSuffix(name, ".snap.zst"))
		if err != nil {
			continue
		}
		if t > bestTurn {
			best, bestTurn = name, t
		}
	}
	if best == "" {
		return ""
	}
	return filepath.Join(dir, best)
}

// List returns every snapshot path in dir ordered by turn.
func List(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".snap.zst") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
