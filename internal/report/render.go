package report

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

//go:embed templates/*
var templates embed.FS

const (
	// publishMaxAge is how long published report files are kept.
	publishMaxAge = 7 * 24 * time.Hour

	publishDirPerm  = 0o750
	publishFilePerm = 0o600
)

// Renderer renders the fleet view into the daily HTML report.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded report template.
func NewRenderer() *Renderer {
	return &Renderer{tmpl: template.Must(template.ParseFS(templates, "templates/*.html"))}
}

// Render produces the report page for a fleet view.
func (r *Renderer) Render(view FleetView) (string, error) {
	var buf strings.Builder
	if err := r.tmpl.ExecuteTemplate(&buf, "report.html", view); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return buf.String(), nil
}

// Publish writes the rendered report under dir with a content-derived file
// name and prunes reports older than a week. It returns the public URL the
// alert should carry instead of the full body.
func Publish(dir, baseURL, html string, now time.Time) (string, error) {
	sum := sha256.Sum256([]byte(html))
	name := hex.EncodeToString(sum[:]) + ".html"

	if err := os.MkdirAll(dir, publishDirPerm); err != nil {
		return "", fmt.Errorf("failed to create publish directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read publish directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".html") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > publishMaxAge {
			stale := filepath.Join(dir, entry.Name())
			if err := os.Remove(stale); err != nil {
				log.Printf("[WARN] Failed to prune old report %s: %v", stale, err)
			} else {
				log.Printf("[INFO] Pruned old report %s", stale)
			}
		}
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(html), publishFilePerm); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return baseURL + name, nil
}
