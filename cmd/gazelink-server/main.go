// ABOUTME: Entry point for the reference GazeLink bridge
// ABOUTME: Serves synthetic gaze telemetry over WebSocket for demos and testing
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/GazeLink-Protocol/gazelink-go/internal/discovery"
	"github.com/GazeLink-Protocol/gazelink-go/internal/server"
	"github.com/GazeLink-Protocol/gazelink-go/internal/version"
)

var (
	port           = flag.Int("port", 8765, "Listen port")
	sampleRate     = flag.Int("sample-rate", 60, "Synthetic gaze sample rate in Hz")
	clockOffsetMs  = flag.Float64("clock-offset-ms", 0, "Simulated server clock offset from wall clock")
	deviceOffsetMs = flag.Float64("device-offset-ms", 0, "Simulated server-device clock offset")
	jitterMs       = flag.Float64("jitter-ms", 0, "Device timestamp jitter amplitude")
	noMDNS         = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
)

func main() {
	flag.Parse()

	log.Printf("Starting GazeLink bridge %s on port %d", version.Version, *port)

	srv := server.New(server.Config{
		SampleRateHz:   *sampleRate,
		ClockOffsetMs:  *clockOffsetMs,
		DeviceOffsetMs: *deviceOffsetMs,
		JitterMs:       *jitterMs,
	})

	if !*noMDNS {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		disc := discovery.NewManager(discovery.Config{
			InstanceName: fmt.Sprintf("%s-gazelink-bridge", hostname),
			Port:         *port,
			ServerMode:   true,
		})
		if err := disc.Advertise(); err != nil {
			log.Printf("mDNS advertisement failed: %v", err)
		}
		defer disc.Stop()
	}

	mux := http.NewServeMux()
	mux.Handle("/gazelink", srv)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Listening on ws://%s/gazelink", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
