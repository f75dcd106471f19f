// Package main implements the logwarden server: it accepts agent
// connections, polls their liveness, collects daily log reports and emits
// the fleet report and ad-hoc alerts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"logwarden/internal/config"
	"logwarden/internal/envelope"
	"logwarden/internal/fleet"
	"logwarden/internal/notify"
	"logwarden/internal/protocol"
	"logwarden/internal/registry"
	"logwarden/internal/report"
)

const (
	// pingInterval bounds liveness detection per connection.
	pingInterval = 5 * time.Second
	// tickInterval is how often the daily cycle is re-evaluated.
	tickInterval = time.Second

	shutdownTimeout = 10 * time.Second

	timeLayout = "2006-01-02 15:04:05"
)

var (
	configPath = flag.String("config", "logwarden.yaml", "Path to configuration file")
	listenHost = flag.String("host", "0.0.0.0", "Listen address")
)

// Server owns the shared server-side state: the daily aggregate, the
// outbound queue and the connection handling.
type Server struct {
	codec    *envelope.Codec
	agg      *report.Aggregate
	queue    *notify.Queue
	upgrader websocket.Upgrader
	// handshakeMu serializes the pre-authentication read across ready
	// connections so handshakes never interleave.
	handshakeMu  sync.Mutex
	pingInterval time.Duration
	now          func() time.Time
}

func main() {
	flag.Parse()

	cfg, err := config.NewLoader(*configPath).Load()
	if err != nil {
		log.Fatalf("[ERROR] Failed to load config: %v", err)
	}
	device := fleet.ParseDevice(cfg.Device)

	queue := notify.NewQueue(notify.NewPusher(cfg.PushURL, cfg.Token, cfg.PushUIDs))
	agg := report.NewAggregate()
	reg := registry.New(cfg.RegistryPath)
	cycle := report.NewCycle(agg, reg, queue, device, cfg.ReportTime, cfg.HTMLDir, cfg.HTMLURL)

	server := &Server{
		codec:        &envelope.Codec{Secret: cfg.Token},
		agg:          agg,
		queue:        queue,
		pingInterval: pingInterval,
		now:          time.Now,
	}

	log.Printf("[INFO] Server starting as %s, next report at %s",
		device.Name, cycle.NextReportTime().Format(timeLayout))
	queue.Enqueue(notify.Message{
		Title: device.Name + " running as server",
		Content: fmt.Sprintf("%s running as server\n\n---\n\n%s\n\nNext report time: %s",
			device.Name, device.DisplayAddr(), cycle.NextReportTime().Format(timeLayout)),
		Format: notify.FormatMarkup,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.handleWS)

	srv := &http.Server{
		Addr:           net.JoinHostPort(*listenHost, strconv.Itoa(cfg.ServerPort)),
		Handler:        mux,
		MaxHeaderBytes: 1 << 16,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("[INFO] Listening on %s", srv.Addr)
		// A listen failure at startup is the one fatal error in the system.
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				cycle.Tick()
			}
		}
	})

	g.Go(func() error {
		queue.Drain(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[ERROR] Server shutdown error: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
	log.Print("[INFO] Server shutdown complete")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] Failed to upgrade connection from %s: %v", r.RemoteAddr, err)
		return
	}
	conn := protocol.NewConn(ws, s.codec)
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("[DEBUG] Error closing connection from %s: %v", r.RemoteAddr, err)
		}
	}()
	s.handleConn(conn, r.RemoteAddr)
}

// handleConn runs one connection's lifecycle: blocking handshake, one
// report fetch per daily cycle, then liveness pings until the connection
// drops.
func (s *Server) handleConn(conn *protocol.Conn, remote string) {
	s.handshakeMu.Lock()
	hello, err := conn.Recv()
	s.handshakeMu.Unlock()
	if err != nil || hello.Kind != protocol.KindHello {
		// Not an authenticated device; drop without an alert.
		log.Printf("[WARN] Dropping connection from %s: no valid handshake", remote)
		return
	}
	device := hello.Device
	identity := device.String()

	log.Printf("[INFO] New device connected: %s (%s)", device.Name, remote)
	s.queue.Enqueue(notify.Message{
		Title:   "New Device Connected: " + device.Name,
		Content: "New Device Connected: " + identity,
		Format:  notify.FormatMarkup,
	})

	for {
		if !s.agg.HasReport(identity) {
			reply, err := conn.Call(protocol.ReportRequest())
			switch {
			case err == nil && reply.Kind == protocol.KindTaskReports:
				s.agg.SetReports(identity, reply.Reports)
				log.Printf("[INFO] Stored report from %s (%d tasks)", device.Name, len(reply.Reports))
			case err != nil && envelope.IsAuthError(err):
				// Unverifiable mid-session traffic: treat as not-a-device.
				return
			case err != nil:
				s.deviceOffline(device)
				return
			default:
				log.Printf("[ERROR] %s: unexpected reply to report request", device.Name)
			}
		}

		reply, err := conn.Call(protocol.Ping())
		switch {
		case err != nil && envelope.IsAuthError(err):
			return
		case err != nil:
			s.deviceOffline(device)
			return
		case reply.Kind != protocol.KindPong:
			log.Printf("[ERROR] %s: ping answered with non-pong reply", device.Name)
		}

		time.Sleep(s.pingInterval)
	}
}

// deviceOffline raises the immediate disconnect alert, distinct from the
// daily report's LOST marking. It fires at most once per connection, as the
// handler loop terminates right after.
func (s *Server) deviceOffline(device fleet.Device) {
	log.Printf("[WARN] Device offline: %s", device.Name)
	s.queue.Enqueue(notify.Message{
		Title: "Device Offline: " + device.Name,
		Content: fmt.Sprintf("# Device Offline: %s\n\n## address\n%s\n\n## time\n%s\n",
			device.Name, device.DisplayAddr(), s.now().Format(timeLayout)),
		Format: notify.FormatMarkup,
	})
}
