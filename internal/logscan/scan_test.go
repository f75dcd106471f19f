package logscan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"logwarden/internal/fleet"
)

func TestScanClassifiesByExtension(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	writeLog(t, filepath.Join(dir, "@etl@ 0801.log"), "all rows loaded", now.Add(-time.Hour))
	writeLog(t, filepath.Join(dir, "@backup@ 0801.err"), "disk full", now.Add(-2*time.Hour))
	writeLog(t, filepath.Join(dir, "ingest.scanerr"), "scan aborted", now.Add(-3*time.Hour))
	writeLog(t, filepath.Join(dir, "notes.txt"), "ignored", now.Add(-time.Hour))

	tasks := Scan([]string{dir}, 7, func() time.Time { return now })

	if len(tasks) != 3 {
		t.Fatalf("len(tasks) = %d, want 3: %v", len(tasks), tasks)
	}
	if got := tasks["etl"].State; got != fleet.StateOK {
		t.Errorf("etl state = %q, want ok", got)
	}
	if got := tasks["backup"].State; got != fleet.StateErr {
		t.Errorf("backup state = %q, want err", got)
	}
	if got := tasks["ingest"].State; got != fleet.StateErr {
		t.Errorf("ingest state = %q, want err", got)
	}
	if got := tasks["backup"].Detail; got != "disk full" {
		t.Errorf("backup detail = %q", got)
	}
}

func TestScanDeletesExpiredLogs(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	expired := filepath.Join(dir, "ancient.log")

	writeLog(t, expired, "long gone", now.Add(-8*24*time.Hour))
	tasks := Scan([]string{dir}, 7, func() time.Time { return now })

	if len(tasks) != 0 {
		t.Errorf("expired file produced a report: %v", tasks)
	}
	if _, err := os.Stat(expired); !os.IsNotExist(err) {
		t.Error("expired log was not deleted")
	}
}

func TestScanExcludesOldButRetainedLogs(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	path := filepath.Join(dir, "yesterday.log")

	// Older than the 24h report window but younger than retention.
	writeLog(t, path, "stale", now.Add(-30*time.Hour))
	tasks := Scan([]string{dir}, 7, func() time.Time { return now })

	if len(tasks) != 0 {
		t.Errorf("out-of-window file produced a report: %v", tasks)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("retained log was deleted")
	}
}

func TestScanTruncatesDetail(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	long := strings.Repeat("x", 200)
	writeLog(t, filepath.Join(dir, "@etl@.err"), long, now.Add(-time.Hour))
	tasks := Scan([]string{dir}, 7, func() time.Time { return now })

	detail := tasks["etl"].Detail
	wantLen := reportDetailKeep + len(truncateMarker) + reportDetailKeep
	if len(detail) != wantLen {
		t.Errorf("detail length = %d, want %d", len(detail), wantLen)
	}
	if !strings.HasPrefix(detail, long[:reportDetailKeep]) {
		t.Error("detail head not preserved")
	}
}

func TestScanLastFileWinsPerTask(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Same task from two files; enumeration order within a directory is
	// lexical, so b.err is seen last and overwrites.
	writeLog(t, filepath.Join(dir, "@etl@ a.log"), "from a", now.Add(-time.Hour))
	writeLog(t, filepath.Join(dir, "@etl@ b.err"), "from b", now.Add(-time.Hour))
	tasks := Scan([]string{dir}, 7, func() time.Time { return now })

	if len(tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(tasks))
	}
	if got := tasks["etl"]; got.State != fleet.StateErr || got.Detail != "from b" {
		t.Errorf("etl = %+v, want last file to win", got)
	}
}
