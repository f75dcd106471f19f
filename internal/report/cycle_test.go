package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"logwarden/internal/fleet"
	"logwarden/internal/notify"
	"logwarden/internal/registry"
)

func testCycle(t *testing.T, htmlDir, htmlURL string, at *time.Time) (*Cycle, *notify.Queue, *registry.Registry) {
	t.Helper()
	reg := registry.New(filepath.Join(t.TempDir(), "registry.yaml"))
	queue := notify.NewQueue(nil)
	agg := NewAggregate()
	c := NewCycle(agg, reg, queue, fleet.Device{Name: "hub"}, "08:00", htmlDir, htmlURL)
	c.now = func() time.Time { return *at }
	// Re-anchor the cursors to the fake clock. The scan cursor is set as if
	// this cycle's reset already ran, so only the render is pending; tests
	// exercising the reset move it back themselves.
	c.reportTime = at.Add(-cycleLength).Add(firstReportDelay)
	c.scanTime = *at
	return c, queue, reg
}

func TestTickRendersWhenReportDue(t *testing.T) {
	cur := time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC)
	c, queue, reg := testCycle(t, "", "", &cur)

	c.agg.SetReports("worker-a", map[string]fleet.TaskReport{"etl": {State: fleet.StateOK}})

	// Before the report delay elapses nothing happens.
	c.Tick()
	if queue.Len() != 0 {
		t.Fatalf("report rendered early, pending = %d", queue.Len())
	}

	cur = cur.Add(firstReportDelay + time.Second)
	c.Tick()

	pending := queue.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d messages, want 1", len(pending))
	}
	msg := pending[0]
	if !strings.HasPrefix(msg.Title, "Daily fleet report") {
		t.Errorf("title = %q", msg.Title)
	}
	if msg.Format != notify.FormatHTML {
		t.Errorf("format = %d, want html", msg.Format)
	}
	if !strings.Contains(msg.Content, "worker-a") {
		t.Error("report body missing reporting device")
	}

	// The registry learned the device and task.
	known, err := reg.Load()
	if err != nil {
		t.Fatalf("registry load failed: %v", err)
	}
	if len(known["worker-a"]) != 1 || known["worker-a"][0] != "etl" {
		t.Errorf("registry = %v, want worker-a: [etl]", known)
	}

	// The cursor advanced; the next tick does not re-render.
	c.Tick()
	if queue.Len() != 1 {
		t.Error("report rendered twice in one cycle")
	}
}

func TestTickResetsAggregateOnNewCycle(t *testing.T) {
	cur := time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC)
	c, _, _ := testCycle(t, "", "", &cur)
	c.scanTime = c.reportTime.Add(-time.Minute)

	c.agg.SetReports("worker-a", map[string]fleet.TaskReport{"etl": {State: fleet.StateOK}})
	if !c.agg.HasReport("worker-a") {
		t.Fatal("report not stored")
	}

	// Crossing the scan cursor clears the aggregate so the per-connection
	// handlers fetch fresh reports.
	cur = cur.Add(firstReportDelay + time.Second)
	c.Tick()
	if c.agg.HasReport("worker-a") {
		t.Error("aggregate not reset at cycle start")
	}
}

func TestTickPublishesWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	cur := time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC)
	c, queue, _ := testCycle(t, dir, "https://reports.example.com/", &cur)

	cur = cur.Add(firstReportDelay + time.Second)
	c.Tick()

	pending := queue.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d messages, want 1", len(pending))
	}
	msg := pending[0]
	if !strings.Contains(msg.Content, `href="https://reports.example.com/`) {
		t.Errorf("published alert does not carry a link: %q", msg.Content)
	}
	if strings.Contains(msg.Content, "<!DOCTYPE html>") {
		t.Error("published alert carries the full body")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read publish dir: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".html") {
		t.Fatalf("publish dir = %v, want one .html file", entries)
	}
}

func TestPublishPrunesOldReports(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)

	stale := filepath.Join(dir, "stale.html")
	if err := os.WriteFile(stale, []byte("old"), 0o600); err != nil {
		t.Fatalf("failed to write stale report: %v", err)
	}
	old := now.Add(-8 * 24 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("failed to set mtime: %v", err)
	}

	url, err := Publish(dir, "https://reports.example.com/", "<html>new</html>", now)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !strings.HasPrefix(url, "https://reports.example.com/") || !strings.HasSuffix(url, ".html") {
		t.Errorf("url = %q", url)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale report not pruned")
	}
}
