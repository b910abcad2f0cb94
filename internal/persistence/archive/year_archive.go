package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"statecraft.ai/internal/persistence/snapshot"
	"statecraft.ai/internal/sim/state"
)

type YearArchiveMeta struct {
	Year      int    `json:"year"`
	RunID     string `json:"run_id"`
	Scenario  string `json:"scenario,omitempty"`
	EndTurn   int    `json:"end_turn"`
	Digest    string `json:"digest"`
	Frequency string `json:"frequency"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
}

// ClosedYear reports the calendar year that ends with turn t, i.e. the
// year of turn t-1 when turn t starts in a later year.
func ClosedYear(cal state.Calendar, t int) (int, bool) {
	if t <= 0 {
		return 0, false
	}
	prev, err := cal.DateOf(t - 1)
	if err != nil {
		return 0, false
	}
	cur, err := cal.DateOf(t)
	if err != nil {
		return 0, false
	}
	py, _ := strconv.Atoi(prev[:4])
	cy, _ := strconv.Atoi(cur[:4])
	if cy <= py {
		return 0, false
	}
	return py, true
}

// ArchiveYearEnd copies a year-end snapshot into
// runDir/archives/year_<YYYY>/. It returns archived=false when the
// snapshot's turn does not close a calendar year.
func ArchiveYearEnd(runDir, snapshotPath string, snap snapshot.SnapshotV1) (year int, archivedPath string, archived bool, err error) {
	if snap.State == nil {
		return 0, "", false, nil
	}
	cal := snap.State.Rules.Calendar
	year, ok := ClosedYear(cal, snap.Header.Turn)
	if !ok {
		return 0, "", false, nil
	}

	archiveDir := filepath.Join(runDir, "archives", fmt.Sprintf("year_%04d", year))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := YearArchiveMeta{
		Year:      year,
		RunID:     snap.Header.RunID,
		Scenario:  snap.Scenario,
		EndTurn:   snap.Header.Turn,
		Digest:    snap.Header.Digest,
		Frequency: cal.Frequency,
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return year, dst, true, nil
}

// ReadMeta loads the meta.json of one archived year.
func ReadMeta(runDir string, year int) (YearArchiveMeta, error) {
	var m YearArchiveMeta
	b, err := os.ReadFile(filepath.Join(runDir, "archives", fmt.Sprintf("year_%04d", year), "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
