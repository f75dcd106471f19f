package logscan

import (
	"log"
	"os"
	"time"

	"logwarden/internal/fleet"
)

const (
	// Report details keep the first and last reportDetailKeep bytes once the
	// content exceeds reportDetailLimit.
	reportDetailLimit = 120
	reportDetailKeep  = 50

	// reportWindow is how far back a log file still counts for today's
	// report.
	reportWindow = 24 * time.Hour
)

// scanExts are the extensions included in the server-triggered report scan.
var scanExts = map[string]bool{"log": true, "err": true, "scanerr": true}

// Scan builds the per-task report for the daily cycle and enforces log
// retention: files older than keepDays are deleted. When several files map
// to the same task, the last one enumerated wins.
func Scan(roots []string, keepDays int, now func() time.Time) map[string]fleet.TaskReport {
	start := time.Now()
	tasks := make(map[string]fleet.TaskReport)
	cur := now()

	for _, fi := range List(roots) {
		ext := Ext(fi.Path)
		if !scanExts[ext] {
			continue
		}
		age := cur.Sub(fi.ModTime)
		switch {
		case age > time.Duration(keepDays)*24*time.Hour:
			if err := os.Remove(fi.Path); err != nil {
				log.Printf("[WARN] Failed to delete expired log %s: %v", fi.Path, err)
			} else {
				log.Printf("[INFO] Deleted expired log %s", fi.Path)
			}
		case age < reportWindow:
			state := fleet.StateOK
			if ext != "log" {
				state = fleet.StateErr
			}
			data, err := os.ReadFile(fi.Path)
			if err != nil {
				log.Printf("[WARN] Failed to read %s: %v", fi.Path, err)
				continue
			}
			tasks[TaskName(fi.Path)] = fleet.TaskReport{
				State:   state,
				LogDate: fi.ModTime.Format(timeLayout),
				Detail:  truncateMiddle(string(data), reportDetailLimit, reportDetailKeep),
			}
		}
	}

	log.Printf("[INFO] Scanned %d roots into %d task reports in %v", len(roots), len(tasks), time.Since(start))
	return tasks
}
