package report

import (
	"fmt"
	"log"
	"time"

	"logwarden/internal/fleet"
	"logwarden/internal/notify"
	"logwarden/internal/registry"
)

const (
	// cycleLength is the span between daily resets and renders.
	cycleLength = 24 * time.Hour
	// scanLeadTime pre-rolls the scan cursor so per-connection report
	// fetches populate the aggregate before the render fires.
	scanLeadTime = 5 * time.Minute
	// firstReportDelay schedules the first render shortly after startup so
	// a fresh deployment produces a report without waiting a day.
	firstReportDelay = 2 * time.Minute
)

// Cycle drives the daily scan and report cursors. It is owned by a single
// loop; the aggregate it reads carries its own lock.
type Cycle struct {
	agg        *Aggregate
	reg        *registry.Registry
	queue      *notify.Queue
	renderer   *Renderer
	server     fleet.Device
	reportAt   string // "HH:MM"
	htmlDir    string
	htmlURL    string
	scanTime   time.Time
	reportTime time.Time
	now        func() time.Time
}

// NewCycle wires the daily cycle. reportAt is the configured "HH:MM" report
// time of day; htmlDir/htmlURL are empty when publishing is disabled.
func NewCycle(agg *Aggregate, reg *registry.Registry, queue *notify.Queue,
	server fleet.Device, reportAt, htmlDir, htmlURL string,
) *Cycle {
	c := &Cycle{
		agg:      agg,
		reg:      reg,
		queue:    queue,
		renderer: NewRenderer(),
		server:   server,
		reportAt: reportAt,
		htmlDir:  htmlDir,
		htmlURL:  htmlURL,
		now:      time.Now,
	}
	now := c.now()
	c.reportTime = now.Add(-cycleLength).Add(firstReportDelay)
	c.scanTime = c.reportTime.Add(-time.Minute)
	return c
}

// NextReportTime is when the next render is due, for the startup notice.
func (c *Cycle) NextReportTime() time.Time {
	return c.reportTime.Add(cycleLength)
}

// Tick re-evaluates both cursors. The daily-cycle loop calls it once per
// second; on render failure the cursor does not advance, so the render is
// retried on the next tick.
func (c *Cycle) Tick() {
	now := c.now()
	if now.Sub(c.scanTime) >= cycleLength {
		log.Print("[INFO] New daily cycle: clearing device reports")
		c.agg.Reset()
		c.scanTime = c.reportTimeOfDay(now).Add(-scanLeadTime)
	}
	if now.Sub(c.reportTime) >= cycleLength {
		if err := c.render(now); err != nil {
			log.Printf("[ERROR] Failed to produce daily report: %v", err)
			return
		}
		c.reportTime = c.reportTimeOfDay(now)
	}
}

// reportTimeOfDay anchors the configured "HH:MM" to now's date.
func (c *Cycle) reportTimeOfDay(now time.Time) time.Time {
	at, err := time.Parse("15:04", c.reportAt)
	if err != nil {
		// Config validation rejects bad values; keep the current time of
		// day if one slips through.
		return now
	}
	return time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
}

func (c *Cycle) render(now time.Time) error {
	start := time.Now()
	known, err := c.reg.Load()
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	view, known := BuildView(c.server, c.agg.Snapshot(), known, now)
	html, err := c.renderer.Render(view)
	if err != nil {
		return err
	}

	if err := c.reg.Save(known); err != nil {
		// The report is still worth sending; the registry just lags a day.
		log.Printf("[ERROR] Failed to persist task registry: %v", err)
	}

	title := fmt.Sprintf("Daily fleet report [%s]", now.Format(timeLayout))
	if c.htmlDir != "" {
		url, err := Publish(c.htmlDir, c.htmlURL, html, now)
		if err != nil {
			return err
		}
		c.queue.Enqueue(notify.Message{
			Title:   title,
			Content: fmt.Sprintf(`<a href="%s">%s</a>`, url, url),
			Format:  notify.FormatHTML,
		})
	} else {
		c.queue.Enqueue(notify.Message{Title: title, Content: html, Format: notify.FormatHTML})
	}

	log.Printf("[INFO] Daily report rendered: %d devices (%d lost, %d err, %d ok) in %v",
		len(view.Devices), view.LostDevices, view.ErrDevices, view.OKDevices, time.Since(start))
	return nil
}
