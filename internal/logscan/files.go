// Package logscan watches log directories for changes worth alerting on and
// scans them into per-task reports for the daily cycle.
package logscan

import (
	"io/fs"
	"log"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// FileInfo is one enumerated log file.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// List enumerates all regular files under the given roots recursively.
// Unreadable entries are logged and skipped; the scan for a cycle never
// fails as a whole.
func List(roots []string) []FileInfo {
	var files []FileInfo
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Printf("[WARN] Skipping %s: %v", path, err)
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				log.Printf("[WARN] Skipping %s: %v", path, err)
				return nil
			}
			files = append(files, FileInfo{Path: path, Size: info.Size(), ModTime: info.ModTime()})
			return nil
		})
		if err != nil {
			log.Printf("[WARN] Failed to walk %s: %v", root, err)
		}
	}
	return files
}

var taskMarker = regexp.MustCompile(`@(.*?)@`)

// TaskName extracts the task identifier from a log file name: the text
// between the first @...@ pair in the stem, or the whole stem if the marker
// is absent.
func TaskName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if m := taskMarker.FindStringSubmatch(stem); m != nil {
		return m[1]
	}
	return stem
}

// Ext returns the lowercased file extension without the leading dot.
func Ext(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// truncateMarker separates the head and tail of truncated log content.
const truncateMarker = "...\n......\n..."

// truncateMiddle keeps the first and last keep bytes verbatim when s exceeds
// limit, joined by the marker. Shorter content is returned untouched.
func truncateMiddle(s string, limit, keep int) string {
	if len(s) <= limit {
		return s
	}
	return s[:keep] + truncateMarker + s[len(s)-keep:]
}
