// Package protocol decodes signed wire payloads into typed commands and
// serializes request/response traffic on a websocket connection.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"logwarden/internal/envelope"
	"logwarden/internal/fleet"
)

// Kind discriminates protocol commands.
type Kind int

const (
	// KindHello is the mandatory handshake carrying the device identity.
	KindHello Kind = iota
	KindPing
	KindPong
	// KindReportRequest asks the agent to run a log scan and reply.
	KindReportRequest
	// KindTaskReports is the agent's scan result, one entry per task.
	KindTaskReports
)

const (
	payloadPing          = "ping"
	payloadPong          = "pong"
	payloadReportRequest = "report now"
)

// ErrBadPayload marks a verified payload whose content cannot be decoded.
var ErrBadPayload = errors.New("protocol: undecodable payload")

// Command is the decoded form of an envelope payload. Payloads are decoded
// exactly once, here at the boundary; raw strings are never re-inspected
// downstream.
type Command struct {
	Kind    Kind
	Device  fleet.Device                // KindHello
	Reports map[string]fleet.TaskReport // KindTaskReports
}

// Hello builds the handshake command for a device.
func Hello(d fleet.Device) Command { return Command{Kind: KindHello, Device: d} }

// Ping builds a liveness probe.
func Ping() Command { return Command{Kind: KindPing} }

// Pong builds the liveness reply.
func Pong() Command { return Command{Kind: KindPong} }

// ReportRequest builds the scan request sent once per daily cycle.
func ReportRequest() Command { return Command{Kind: KindReportRequest} }

// TaskReports wraps a scan result for the wire.
func TaskReports(reports map[string]fleet.TaskReport) Command {
	return Command{Kind: KindTaskReports, Reports: reports}
}

// Decode maps a verified payload string to a command. Command words are
// matched first; a JSON object is a task report mapping; anything else is a
// device identity.
func Decode(payload string) (Command, error) {
	switch payload {
	case payloadPing:
		return Ping(), nil
	case payloadPong:
		return Pong(), nil
	case payloadReportRequest:
		return ReportRequest(), nil
	}
	if strings.HasPrefix(strings.TrimSpace(payload), "{") {
		reports := make(map[string]fleet.TaskReport)
		if err := json.Unmarshal([]byte(payload), &reports); err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return TaskReports(reports), nil
	}
	return Hello(fleet.ParseDevice(payload)), nil
}

// Encode maps a command back to its payload string.
func Encode(cmd Command) (string, error) {
	switch cmd.Kind {
	case KindPing:
		return payloadPing, nil
	case KindPong:
		return payloadPong, nil
	case KindReportRequest:
		return payloadReportRequest, nil
	case KindHello:
		return cmd.Device.String(), nil
	case KindTaskReports:
		data, err := json.Marshal(cmd.Reports)
		if err != nil {
			return "", fmt.Errorf("failed to marshal task reports: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("protocol: unknown command kind %d", cmd.Kind)
	}
}

// Conn is a signed protocol connection. A connection-scoped lock keeps
// request/response pairs strictly sequential, so the protocol is half-duplex
// in effect even over the full-duplex transport.
type Conn struct {
	ws    *websocket.Conn
	codec *envelope.Codec
	mu    sync.Mutex
}

// NewConn wraps an established websocket connection.
func NewConn(ws *websocket.Conn, codec *envelope.Codec) *Conn {
	return &Conn{ws: ws, codec: codec}
}

// Close closes the underlying websocket.
func (c *Conn) Close() error { return c.ws.Close() }

// Send signs and writes one command.
func (c *Conn) Send(cmd Command) error {
	data, err := c.seal(cmd)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Recv blocks for the next inbound message, verifies it and decodes it.
// Verification failures return envelope auth errors; callers typically skip
// those and keep reading.
func (c *Conn) Recv() (Command, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Command{}, fmt.Errorf("read: %w", err)
	}
	return c.open(data)
}

// Call sends cmd and blocks for its reply as one locked round trip, so no
// two commands to the same connection are ever in flight concurrently.
func (c *Conn) Call(cmd Command) (Command, error) {
	data, err := c.seal(cmd)
	if err != nil {
		return Command{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return Command{}, fmt.Errorf("write: %w", err)
	}
	_, reply, err := c.ws.ReadMessage()
	if err != nil {
		return Command{}, fmt.Errorf("read: %w", err)
	}
	return c.open(reply)
}

func (c *Conn) seal(cmd Command) ([]byte, error) {
	payload, err := Encode(cmd)
	if err != nil {
		return nil, err
	}
	return c.codec.Sign(payload)
}

func (c *Conn) open(data []byte) (Command, error) {
	payload, err := c.codec.Verify(data)
	if err != nil {
		return Command{}, err
	}
	return Decode(payload)
}
