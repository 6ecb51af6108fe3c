// ABOUTME: Entry point for the GazeLink monitor
// ABOUTME: Parses CLI flags, connects to a bridge, and displays live status
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/GazeLink-Protocol/gazelink-go/internal/buffer"
	"github.com/GazeLink-Protocol/gazelink-go/internal/client"
	"github.com/GazeLink-Protocol/gazelink-go/internal/config"
	"github.com/GazeLink-Protocol/gazelink-go/internal/discovery"
	"github.com/GazeLink-Protocol/gazelink-go/internal/ui"
	"github.com/GazeLink-Protocol/gazelink-go/internal/version"
	"github.com/GazeLink-Protocol/gazelink-go/pkg/gazelink"
	tea "github.com/charmbracelet/bubbletea"
)

var (
	serverAddr = flag.String("server", "", "Bridge address (skip mDNS discovery)")
	configPath = flag.String("config", "", "YAML config file path")
	name       = flag.String("name", "", "Monitor name (default: hostname-gazelink)")
	logFile    = flag.String("log-file", "", "Log file path (default from config)")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("config error: %v", err)
		}
		cfg = loaded
	}
	if *serverAddr != "" {
		cfg.ServerAddr = *serverAddr
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if *noTUI {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	} else {
		log.SetOutput(f)
	}

	monitorName := *name
	if monitorName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		monitorName = fmt.Sprintf("%s-gazelink", hostname)
	}

	log.Printf("Starting %s %s: %s", version.Product, version.Version, monitorName)

	// Discover a bridge when no address was given
	if *serverAddr == "" && *configPath == "" {
		log.Printf("Starting bridge discovery...")
		disc := discovery.NewManager(discovery.Config{
			InstanceName: monitorName,
		})
		disc.Browse()

		select {
		case ep := <-disc.Endpoints():
			cfg.ServerAddr = fmt.Sprintf("%s:%d", ep.Host, ep.Port)
			log.Printf("Discovered bridge at %s", cfg.ServerAddr)
		case <-time.After(10 * time.Second):
			log.Printf("No bridge found, falling back to %s", cfg.ServerAddr)
		}
		disc.Stop()
	}

	var tuiProg *tea.Program
	if !*noTUI {
		tuiProg, err = ui.Run()
		if err != nil {
			log.Fatalf("Failed to start TUI: %v", err)
		}
		go tuiProg.Run()
	}

	updateTUI := func(msg ui.StatusMsg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	var received atomic.Int64

	tracker := gazelink.New(gazelink.Config{
		ServerAddr:        cfg.ServerAddr,
		ClientID:          monitorName,
		BufferCapacity:    cfg.BufferCapacity,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    time.Duration(cfg.ReconnectDelayMs) * time.Millisecond,
		SyncProbes:        cfg.SyncProbes,
		SyncProbeInterval: time.Duration(cfg.SyncProbeIntervalMs) * time.Millisecond,
		OnGaze: func(s buffer.Sample) {
			received.Add(1)
		},
		OnError: func(err error) {
			log.Printf("Tracker error: %v", err)
		},
		OnStateChange: func(st client.Status) {
			connected := st.Connected
			streaming := st.Streaming
			updateTUI(ui.StatusMsg{
				Connected:  &connected,
				Streaming:  &streaming,
				ServerAddr: cfg.ServerAddr,
				LastError:  st.LastError,
			})
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := tracker.Connect(ctx); err != nil {
		cancel()
		log.Fatalf("Connection failed: %v", err)
	}
	if err := tracker.StartTracking(ctx); err != nil {
		cancel()
		log.Fatalf("Start tracking failed: %v", err)
	}
	cancel()

	log.Printf("Tracking started on %s", cfg.ServerAddr)

	done := make(chan struct{})
	go statsLoop(tracker, cfg, &received, updateTUI, done)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Printf("Shutdown signal received")

	close(done)
	if tuiProg != nil {
		tuiProg.Quit()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := tracker.StopTracking(stopCtx); err != nil {
		log.Printf("Stop tracking failed: %v", err)
	}
	stopCancel()

	tracker.Close()
	log.Printf("Monitor stopped")
}

// statsLoop periodically refreshes the TUI and ages out stale samples.
func statsLoop(tracker *gazelink.Tracker, cfg config.Config, received *atomic.Int64, updateTUI func(ui.StatusMsg), done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	evictTicker := time.NewTicker(10 * time.Second)
	defer evictTicker.Stop()

	for {
		select {
		case <-done:
			return

		case <-evictTicker.C:
			tracker.EvictOlderThan(time.Duration(cfg.BufferDurationMs) * time.Millisecond)

		case <-ticker.C:
			stats := tracker.Stats()
			clockSynced := stats.ClockSynced
			deviceSynced := stats.Device.Synced

			msg := ui.StatusMsg{
				ClockSynced:    &clockSynced,
				ClockOffsetMs:  stats.ClockOffsetMs,
				DeviceSynced:   &deviceSynced,
				DeviceOffsetMs: stats.Device.OffsetMs,
				DeviceStdDevMs: stats.Device.StdDevMs,
				Received:       received.Load(),
				BufferDepth:    stats.Buffer.Size,
				BufferCapacity: cfg.BufferCapacity,
				SamplingRateHz: stats.Buffer.SamplingRateHz,
			}
			if gaze, ok := tracker.CurrentGaze(); ok {
				msg.GazeX = gaze.X
				msg.GazeY = gaze.Y
			}
			updateTUI(msg)
		}
	}
}
