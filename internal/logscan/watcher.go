package logscan

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"logwarden/internal/fleet"
	"logwarden/internal/notify"
)

const (
	// fileCooldown suppresses repeat alerts for the same file.
	fileCooldown = 24 * time.Hour
	// taskCooldown suppresses alerts for any file of an already-alerted task.
	taskCooldown = 10 * time.Minute
	// changeFreshFor limits alerting to recently written files; stale
	// changes discovered late are not worth waking anyone for.
	changeFreshFor = time.Hour
	// debounce lets the writer finish before the file is read back.
	debounce = 10 * time.Second

	// Alert bodies keep the first and last alertDetailKeep bytes once the
	// content exceeds alertDetailLimit.
	alertDetailLimit = 1050
	alertDetailKeep  = 500

	timeLayout = "2006-01-02 15:04:05"
)

// watchExts are the extensions eligible for live alerting. This is stricter
// than the report scan's extension set on purpose.
var watchExts = map[string]bool{"err": true, "msg": true}

// record is the last observed size/mtime of a watched file.
type record struct {
	mtime time.Time
	size  int64
}

// Watcher detects log file changes and raises rate-limited alerts into the
// outbound queue. It is owned by a single loop; no internal locking.
type Watcher struct {
	device   fleet.Device
	queue    *notify.Queue
	records  map[string]record
	fileSent map[string]time.Time
	taskSent map[string]time.Time
	now      func() time.Time
	sleep    func(time.Duration)
}

// NewWatcher creates a watcher alerting on behalf of device.
func NewWatcher(device fleet.Device, queue *notify.Queue) *Watcher {
	return &Watcher{
		device:   device,
		queue:    queue,
		records:  make(map[string]record),
		fileSent: make(map[string]time.Time),
		taskSent: make(map[string]time.Time),
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Prime records the current state of every file under roots without
// alerting, so logs that predate startup do not fire immediately.
func (w *Watcher) Prime(roots []string) {
	files := List(roots)
	for _, fi := range files {
		w.records[fi.Path] = record{size: fi.Size, mtime: fi.ModTime}
	}
	log.Printf("[INFO] Watch baseline primed with %d files", len(files))
}

// Cycle runs one detection pass over roots. A file alerts only when its
// (size, mtime) changed since the last record and every cooldown gate
// passes: no alert for this file in 24h, the change is under an hour old,
// and no alert for this task in 10 minutes.
func (w *Watcher) Cycle(roots []string) {
	for _, fi := range List(roots) {
		if !watchExts[Ext(fi.Path)] {
			continue
		}
		if rec, ok := w.records[fi.Path]; ok && rec.size == fi.Size && rec.mtime.Equal(fi.ModTime) {
			continue
		}
		task := TaskName(fi.Path)
		now := w.now()
		if now.Sub(w.fileSent[fi.Path]) <= fileCooldown {
			continue
		}
		if now.Sub(fi.ModTime) >= changeFreshFor {
			continue
		}
		if now.Sub(w.taskSent[task]) <= taskCooldown {
			continue
		}
		w.alert(fi, task)
	}
}

func (w *Watcher) alert(fi FileInfo, task string) {
	w.sleep(debounce)

	data, err := os.ReadFile(fi.Path)
	if err != nil {
		log.Printf("[WARN] Failed to read %s for alert: %v", fi.Path, err)
		return
	}
	detail := strings.TrimSpace(string(data))
	if detail == "" {
		return
	}
	detail = truncateMiddle(detail, alertDetailLimit, alertDetailKeep)

	now := w.now()
	title := fmt.Sprintf("%s: %s @ %s", strings.ToUpper(Ext(fi.Path)), w.device.Name, task)
	content := fmt.Sprintf(`## log info

device: %s
task: %s
addr: %s
log path: %s
log time: %s
report time: %s

---

## log detail
%s
`, w.device.Name, task, w.device.DisplayAddr(), fi.Path,
		fi.ModTime.Format(timeLayout), now.Format(timeLayout), detail)

	log.Printf("[INFO] Alerting on %s (task %s)", fi.Path, task)
	w.queue.Enqueue(notify.Message{Title: title, Content: content, Format: notify.FormatMarkup})

	// Cooldowns arm on enqueue; delivery retries are the queue's concern.
	w.fileSent[fi.Path] = now
	w.taskSent[task] = now

	// Re-stat after the debounce so the record matches what was read.
	if st, err := os.Stat(fi.Path); err == nil {
		w.records[fi.Path] = record{size: st.Size(), mtime: st.ModTime()}
	} else {
		w.records[fi.Path] = record{size: fi.Size, mtime: fi.ModTime}
	}
}
