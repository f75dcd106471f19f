// Package main implements the logwarden agent that runs on every monitored
// host: it keeps a connection to the server, answers report and ping
// requests, and watches log directories for changes worth alerting on.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"logwarden/internal/config"
	"logwarden/internal/envelope"
	"logwarden/internal/fleet"
	"logwarden/internal/logscan"
	"logwarden/internal/notify"
	"logwarden/internal/protocol"
)

const (
	// reconnectBackoff bounds retry pressure after a lost connection.
	reconnectBackoff = 10 * time.Second
	// watchInterval is the change-detection cycle period.
	watchInterval = 5 * time.Second
)

var configPath = flag.String("config", "logwarden.yaml", "Path to configuration file")

// Agent holds the client-side state shared by the connection and watch
// loops.
type Agent struct {
	loader  *config.Loader
	codec   *envelope.Codec
	device  fleet.Device
	queue   *notify.Queue
	watcher *logscan.Watcher
}

func main() {
	flag.Parse()

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("[ERROR] Failed to load config: %v", err)
	}
	device := fleet.ParseDevice(cfg.Device)

	queue := notify.NewQueue(notify.NewPusher(cfg.PushURL, cfg.Token, cfg.PushUIDs))
	watcher := logscan.NewWatcher(device, queue)
	watcher.Prime(cfg.LogDirs)

	agent := &Agent{
		loader:  loader,
		codec:   &envelope.Codec{Secret: cfg.Token},
		device:  device,
		queue:   queue,
		watcher: watcher,
	}

	log.Printf("[INFO] Agent started as %s, watching %d roots", device.Name, len(cfg.LogDirs))
	queue.Enqueue(notify.Message{
		Title:   device.Name + " running as agent",
		Content: fmt.Sprintf("%s running as agent\n\n---\n\n%s", device.Name, device.DisplayAddr()),
		Format:  notify.FormatMarkup,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return agent.connectionLoop(ctx) })
	g.Go(func() error { return agent.watchLoop(ctx) })
	g.Go(func() error {
		queue.Drain(ctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
	log.Print("[INFO] Agent shutdown complete")
}

// connectionLoop keeps one connection to the server alive, reconnecting
// with a fixed backoff after any failure. It never gives up.
func (a *Agent) connectionLoop(ctx context.Context) error {
	for {
		if err := a.serveConnection(ctx); err != nil {
			log.Printf("[WARN] Connection lost: %v (reconnecting in %v)", err, reconnectBackoff)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectBackoff):
		}
	}
}

// serveConnection dials the server, sends the signed identity handshake and
// answers inbound commands until the connection fails.
func (a *Agent) serveConnection(ctx context.Context) error {
	cfg, err := a.loader.Load()
	if err != nil {
		return err
	}
	url := "ws://" + cfg.ServerHost + ":" + strconv.Itoa(cfg.ServerPort) + "/ws"

	log.Printf("[INFO] Connecting to %s", url)
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	conn := protocol.NewConn(ws, a.codec)
	defer conn.Close()

	// The handshake must be the first message; the server blocks on it.
	if err := conn.Send(protocol.Hello(a.device)); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	log.Printf("[INFO] Connected to %s", url)

	for {
		cmd, err := conn.Recv()
		if err != nil {
			if envelope.IsAuthError(err) {
				// Unverifiable inbound messages are ignored.
				continue
			}
			return err
		}

		switch cmd.Kind {
		case protocol.KindReportRequest:
			cfg, err := a.loader.Load()
			if err != nil {
				log.Printf("[ERROR] Config reload failed, scanning with last known roots: %v", err)
			}
			tasks := logscan.Scan(cfg.LogDirs, cfg.KeepDays, time.Now)
			if err := conn.Send(protocol.TaskReports(tasks)); err != nil {
				return fmt.Errorf("send report: %w", err)
			}
		case protocol.KindPing:
			if err := conn.Send(protocol.Pong()); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}
		default:
			log.Printf("[DEBUG] Ignoring unexpected command kind %d", cmd.Kind)
		}
	}
}

// watchLoop runs the change detector every cycle, re-reading the config
// first so edits to the watched roots take effect without a restart.
func (a *Agent) watchLoop(ctx context.Context) error {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cfg, err := a.loader.Load()
			if err != nil {
				log.Printf("[ERROR] Config reload failed: %v", err)
				continue
			}
			a.watcher.Cycle(cfg.LogDirs)
		}
	}
}
