// Package notify queues outbound alert messages and drains them to the push
// notification service.
package notify

import (
	"context"
	"log"
	"sync"
	"time"
)

// Format selects how the push service renders a message body. The values
// match the push API's contentType codes.
type Format int

const (
	FormatPlain  Format = 1
	FormatHTML   Format = 2
	FormatMarkup Format = 3
)

// Message is one queued outbound notification.
type Message struct {
	Title   string
	Content string
	Format  Format
}

// Sender delivers a single message. Implementations may fail transiently.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

const (
	// minSendSpacing is the global minimum interval between outbound sends,
	// regardless of which loop produced the message.
	minSendSpacing = 10 * time.Second
	drainInterval  = time.Second
)

// Queue is the shared outbound FIFO. Producers enqueue without blocking; a
// single Drain loop enforces the send spacing. A message stays at the head
// of the queue until a send attempt succeeds.
type Queue struct {
	sender   Sender
	now      func() time.Time
	mu       sync.Mutex
	msgs     []Message
	lastSend time.Time
}

// NewQueue creates an empty queue draining to sender.
func NewQueue(sender Sender) *Queue {
	return &Queue{sender: sender, now: time.Now}
}

// Enqueue appends a message. It never blocks.
func (q *Queue) Enqueue(msg Message) {
	q.mu.Lock()
	q.msgs = append(q.msgs, msg)
	n := len(q.msgs)
	q.mu.Unlock()
	log.Printf("[DEBUG] Queued message %q (%d pending)", msg.Title, n)
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// Pending returns a copy of the queued messages, oldest first.
func (q *Queue) Pending() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.msgs))
	copy(out, q.msgs)
	return out
}

// Drain delivers queued messages until ctx is done, waking once per second
// and sending at most one message per spacing window.
func (q *Queue) Drain(ctx context.Context) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.DrainOnce(ctx)
		}
	}
}

// DrainOnce attempts delivery of the head message if the spacing window has
// elapsed. A failed attempt leaves the message queued; the spacing clock
// still advances so a flapping notifier is not hammered.
func (q *Queue) DrainOnce(ctx context.Context) {
	q.mu.Lock()
	if len(q.msgs) == 0 || q.now().Sub(q.lastSend) < minSendSpacing {
		q.mu.Unlock()
		return
	}
	msg := q.msgs[0]
	q.lastSend = q.now()
	q.mu.Unlock()

	if err := q.sender.Send(ctx, msg); err != nil {
		log.Printf("[ERROR] Failed to send %q: %v (message stays queued)", msg.Title, err)
		return
	}

	q.mu.Lock()
	// Pop the head we just delivered. Producers only append, so index 0 is
	// still the same message.
	q.msgs = q.msgs[1:]
	remaining := len(q.msgs)
	q.mu.Unlock()
	log.Printf("[INFO] Sent %q (%d pending)", msg.Title, remaining)
}
