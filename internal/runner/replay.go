package runner

import (
	"errors"
	"fmt"
	"path/filepath"

	persistlog "statecraft.ai/internal/persistence/log"
	"statecraft.ai/internal/persistence/snapshot"
	"statecraft.ai/internal/sim/kernel"
)

// ReplayReport summarises a replay check.
type ReplayReport struct {
	RunID      string
	FromTurn   int
	Checked    int
	LastTurn   int
	LastDigest string
}

// MismatchError reports the first turn whose replayed digest differs from
// the logged one.
type MismatchError struct {
	Turn string
	Want string
	Got  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("digest mismatch at turn %s: want=%s got=%s", e.Turn, e.Want, e.Got)
}

var ErrNoTurns = errors.New("replay: no logged turns after snapshot")

// Replay restores the snapshot at snapPath and re-steps every turn logged
// under runDir that follows it, comparing digests. The kernel is
// deterministic, so any mismatch means the logs, the snapshot or the code
// changed.
func Replay(snapPath, runDir string) (ReplayReport, error) {
	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		return ReplayReport{}, err
	}
	entries, err := persistlog.ReadTurns(runDir)
	if err != nil {
		return ReplayReport{}, err
	}

	sc, fired := FromSnapshot(snap)
	g := sc.State
	rep := ReplayReport{RunID: snap.Header.RunID, FromTurn: g.T, LastTurn: g.T, LastDigest: snap.Header.Digest}

	for _, e := range entries {
		if snap.Header.RunID != "" && e.RunID != snap.Header.RunID {
			continue
		}
		if e.Turn < g.T {
			continue
		}
		if e.Turn > g.T {
			return rep, fmt.Errorf("replay: turn log gap: expected turn %d, got %d", g.T, e.Turn)
		}
		if e.PrevDigest != "" && e.PrevDigest != g.Digest() {
			return rep, &MismatchError{Turn: fmt.Sprintf("%d (pre)", e.Turn), Want: e.PrevDigest, Got: g.Digest()}
		}
		next, _ := kernel.Step(g, sc.Triggers, fired, sc.BaseCountry)
		got := next.Digest()
		if got != e.Digest {
			return rep, &MismatchError{Turn: fmt.Sprint(e.Turn), Want: e.Digest, Got: got}
		}
		g = next
		rep.Checked++
		rep.LastTurn = g.T
		rep.LastDigest = got
	}
	if rep.Checked == 0 {
		return rep, ErrNoTurns
	}
	return rep, nil
}

// EarliestSnapshot returns the first snapshot of a run directory, the one
// a full replay starts from.
func EarliestSnapshot(runDir string) (string, error) {
	paths, err := snapshot.List(filepath.Join(runDir, "snapshots"))
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("no snapshots under %s", runDir)
	}
	return paths[0], nil
}
