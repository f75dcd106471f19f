package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	// HTTP client timeout.
	pushTimeout = 30 * time.Second
	// Retry configuration for push attempts.
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Pusher delivers messages to an HTTP push-notification endpoint
// (wxpusher-compatible API).
type Pusher struct {
	url    string
	token  string
	uids   []string
	client *http.Client
}

// NewPusher creates a pusher for the given endpoint and credentials.
func NewPusher(url, token string, uids []string) *Pusher {
	return &Pusher{
		url:    url,
		token:  token,
		uids:   uids,
		client: &http.Client{Timeout: pushTimeout},
	}
}

type pushRequest struct {
	AppToken    string   `json:"appToken"`
	Content     string   `json:"content"`
	Summary     string   `json:"summary"`
	ContentType int      `json:"contentType"`
	UIDs        []string `json:"uids"`
}

// Send posts one message, retrying transient failures with backoff.
func (p *Pusher) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(pushRequest{
		AppToken:    p.token,
		Content:     msg.Content,
		Summary:     "[logwarden] " + msg.Title,
		ContentType: int(msg.Format),
		UIDs:        p.uids,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push request: %w", err)
	}

	return retry.Do(func() error {
		return p.post(ctx, body)
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
}

func (p *Pusher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			log.Printf("[WARN] Error draining response body: %v", err)
		}
		if err := resp.Body.Close(); err != nil {
			log.Printf("[WARN] Error closing response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push service returned status %d", resp.StatusCode)
	}
	return nil
}
