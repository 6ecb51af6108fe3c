// ABOUTME: Reference GazeLink server with a synthetic gaze source
// ABOUTME: Serves tracking, time sync, and device offset queries for tests and demos
package server

import (
	"encoding/json"
	"log"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/GazeLink-Protocol/gazelink-go/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// deviceOffsetWindow caps the number of server-device offset observations
// retained for the estimate, mirroring the live-sample pairing window.
const deviceOffsetWindow = 200

// sampleWindow caps the server-side sample store.
const sampleWindow = 10000

// Config holds server tuning. ClockOffsetMs shifts the simulated server
// clock relative to the wall clock; DeviceOffsetMs shifts the simulated
// device clock relative to the server clock (server = device + offset).
type Config struct {
	SampleRateHz   int
	ClockOffsetMs  float64
	DeviceOffsetMs float64
	JitterMs       float64
}

func (c *Config) applyDefaults() {
	if c.SampleRateHz == 0 {
		c.SampleRateHz = 60
	}
}

// Server is a GazeLink protocol server backed by a synthetic gaze source.
type Server struct {
	config   Config
	upgrader websocket.Upgrader

	mu        sync.Mutex
	samples   []protocol.GazeSample
	bcOffsets []float64
	markers   int
}

// New creates a server.
func New(config Config) *Server {
	config.applyDefaults()
	return &Server{
		config:   config,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// clientConn is one connected client. Writes are serialized because the
// streaming goroutine and the request responder share the connection.
type clientConn struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	tracking bool

	done chan struct{}
}

// ServeHTTP upgrades the request and services the connection until it
// closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Server: upgrade failed: %v", err)
		return
	}

	id := r.URL.Query().Get("client")
	if id == "" {
		id = uuid.New().String()
	}

	c := &clientConn{id: id, conn: conn, done: make(chan struct{})}
	log.Printf("Server: client connected: %s", id)

	go s.streamLoop(c)
	s.readLoop(c)

	close(c.done)
	conn.Close()
	log.Printf("Server: client disconnected: %s", id)
}

// readLoop processes client requests one at a time in arrival order.
func (s *Server) readLoop(c *clientConn) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			log.Printf("Server: bad frame from %s: %v", c.id, err)
			s.reply(c, "", map[string]any{"type": protocol.TypeError, "error": err.Error()})
			continue
		}

		s.process(c, env, data)
	}
}

// process handles one request and sends its response, echoing the request
// id when present.
func (s *Server) process(c *clientConn, env *protocol.Envelope, data []byte) {
	switch env.Type {
	case protocol.TypeTimeSync:
		var req struct {
			ClientTime float64 `json:"clientTime"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			s.reply(c, env.RequestID, map[string]any{"type": protocol.TypeError, "error": err.Error()})
			return
		}
		s.reply(c, env.RequestID, map[string]any{
			"type":       protocol.TypeTimeSync,
			"serverTime": s.serverNowMs(),
			"clientTime": req.ClientTime,
		})

	case protocol.TypeDeviceClockOffset:
		s.reply(c, env.RequestID, s.deviceClockOffset())

	case protocol.TypeStartTracking:
		c.mu.Lock()
		c.tracking = true
		c.mu.Unlock()
		s.reply(c, env.RequestID, map[string]any{"type": protocol.TypeStartTracking, "success": true})

	case protocol.TypeStopTracking:
		c.mu.Lock()
		c.tracking = false
		c.mu.Unlock()
		s.reply(c, env.RequestID, map[string]any{"type": protocol.TypeStopTracking, "success": true})

	case protocol.TypeGetCurrentGaze:
		s.mu.Lock()
		var latest any
		if len(s.samples) > 0 {
			latest = s.samples[len(s.samples)-1]
		}
		s.mu.Unlock()
		s.reply(c, env.RequestID, map[string]any{"type": protocol.TypeGetCurrentGaze, "gaze": latest})

	case protocol.TypeGetData:
		var req struct {
			StartTime *float64 `json:"start_time"`
			EndTime   *float64 `json:"end_time"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			s.reply(c, env.RequestID, map[string]any{"type": protocol.TypeError, "error": err.Error()})
			return
		}
		s.reply(c, env.RequestID, map[string]any{
			"type":    protocol.TypeGetData,
			"samples": s.samplesInWindow(req.StartTime, req.EndTime),
		})

	case protocol.TypeMarker:
		s.mu.Lock()
		s.markers++
		s.mu.Unlock()
		s.reply(c, env.RequestID, map[string]any{"type": protocol.TypeMarker, "success": true})

	case protocol.TypeCalibrationStart, protocol.TypeCalibrationPoint,
		protocol.TypeCalibrationCompute, protocol.TypeValidationStart,
		protocol.TypeValidationPoint, protocol.TypeValidationCompute:
		s.reply(c, env.RequestID, map[string]any{"type": env.Type, "success": true})

	default:
		log.Printf("Server: unknown message type from %s: %s", c.id, env.Type)
		s.reply(c, env.RequestID, map[string]any{
			"type":  protocol.TypeError,
			"error": "unknown message type: " + env.Type,
		})
	}
}

// reply sends one response frame, stamping the request id when present.
func (s *Server) reply(c *clientConn, requestID string, fields map[string]any) {
	if requestID != "" {
		fields["requestId"] = requestID
	}

	data, err := json.Marshal(fields)
	if err != nil {
		log.Printf("Server: marshal response: %v", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("Server: write to %s failed: %v", c.id, err)
	}
}

// streamLoop pushes synthetic gaze samples while tracking is active. Send
// failures end the loop rather than being silently discarded.
func (s *Server) streamLoop(c *clientConn) {
	interval := time.Second / time.Duration(s.config.SampleRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			tracking := c.tracking
			c.mu.Unlock()
			if !tracking {
				continue
			}

			sample := s.nextSample(time.Since(start).Seconds())
			s.record(sample)

			msg := protocol.NewGazeStream(sample)
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("Server: marshal gaze sample: %v", err)
				continue
			}

			c.writeMu.Lock()
			err = c.conn.WriteMessage(websocket.TextMessage, data)
			c.writeMu.Unlock()
			if err != nil {
				log.Printf("Server: gaze push to %s failed: %v", c.id, err)
				return
			}
		}
	}
}

// nextSample generates one synthetic gaze sample with the device timestamp
// shifted by the configured device clock offset.
func (s *Server) nextSample(elapsed float64) protocol.GazeSample {
	deviceTime := s.serverNowMs() - s.config.DeviceOffsetMs
	if s.config.JitterMs > 0 {
		deviceTime += (rand.Float64()*2 - 1) * s.config.JitterMs
	}

	return protocol.GazeSample{
		X:          0.5 + 0.3*math.Sin(elapsed*2*math.Pi*0.25),
		Y:          0.5 + 0.3*math.Cos(elapsed*2*math.Pi*0.25),
		Timestamp:  deviceTime,
		LeftValid:  true,
		RightValid: true,
	}
}

// record stores a sample and its server-device offset observation in the
// capped windows.
func (s *Server) record(sample protocol.GazeSample) {
	offset := s.serverNowMs() - sample.Timestamp

	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, sample)
	if len(s.samples) > sampleWindow {
		s.samples = s.samples[len(s.samples)-sampleWindow:]
	}

	s.bcOffsets = append(s.bcOffsets, offset)
	if len(s.bcOffsets) > deviceOffsetWindow {
		s.bcOffsets = s.bcOffsets[len(s.bcOffsets)-deviceOffsetWindow:]
	}
}

// deviceClockOffset summarizes the server-device offset observations. The
// offset field is null until live samples have been observed.
func (s *Server) deviceClockOffset() map[string]any {
	s.mu.Lock()
	offsets := make([]float64, len(s.bcOffsets))
	copy(offsets, s.bcOffsets)
	s.mu.Unlock()

	resp := map[string]any{
		"type":         protocol.TypeDeviceClockOffset,
		"offset":       nil,
		"sample_count": 0,
	}
	if len(offsets) == 0 {
		return resp
	}

	mean := 0.0
	min := offsets[0]
	max := offsets[0]
	for _, o := range offsets {
		mean += o
		if o < min {
			min = o
		}
		if o > max {
			max = o
		}
	}
	mean /= float64(len(offsets))

	variance := 0.0
	for _, o := range offsets {
		variance += (o - mean) * (o - mean)
	}
	variance /= float64(len(offsets))

	resp["offset"] = medianOf(offsets)
	resp["sample_count"] = len(offsets)
	resp["std_dev"] = math.Sqrt(variance)
	resp["min"] = min
	resp["max"] = max
	return resp
}

// samplesInWindow filters the stored samples on the device timestamp.
func (s *Server) samplesInWindow(start, end *float64) []protocol.GazeSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.GazeSample, 0, len(s.samples))
	for _, sample := range s.samples {
		if start != nil && sample.Timestamp < *start {
			continue
		}
		if end != nil && sample.Timestamp > *end {
			continue
		}
		out = append(out, sample)
	}
	return out
}

// Markers reports how many marker messages have been recorded.
func (s *Server) Markers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markers
}

func (s *Server) serverNowMs() float64 {
	return float64(time.Now().UnixNano())/1e6 + s.config.ClockOffsetMs
}

// medianOf returns the median without modifying its input.
func medianOf(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
