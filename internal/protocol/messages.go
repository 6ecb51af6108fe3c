// ABOUTME: GazeLink Protocol message type definitions
// ABOUTME: Defines envelope parsing and structs for all message types
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message type discriminators used on the wire.
const (
	TypeGazeData           = "gaze_data"
	TypeTimeSync           = "time_sync"
	TypeDeviceClockOffset  = "get_device_clock_offset"
	TypeStartTracking      = "start_tracking"
	TypeStopTracking       = "stop_tracking"
	TypeGetCurrentGaze     = "get_current_gaze"
	TypeGetData            = "get_data"
	TypeMarker             = "marker"
	TypeCalibrationStart   = "calibration_start"
	TypeCalibrationPoint   = "calibration_point"
	TypeCalibrationCompute = "calibration_compute"
	TypeValidationStart    = "validation_start"
	TypeValidationPoint    = "validation_point"
	TypeValidationCompute  = "validation_compute"
	TypeError              = "error"
)

// Header carries the fields common to every outbound message. Concrete
// message structs embed it so the channel can stamp a correlation id
// without knowing the payload shape.
type Header struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
}

// SetRequestID stamps the correlation id for a request/response exchange.
func (h *Header) SetRequestID(id string) { h.RequestID = id }

// MessageType returns the wire discriminator.
func (h *Header) MessageType() string { return h.Type }

// Outbound is implemented by every message the client can transmit.
type Outbound interface {
	SetRequestID(id string)
	MessageType() string
}

// Envelope is a parsed inbound frame. The raw bytes are retained so the
// type-specific payload can be decoded after routing on Type.
type Envelope struct {
	Type      string
	RequestID string
	raw       json.RawMessage
}

// envelopeHeader mirrors the discriminator fields of an inbound frame.
type envelopeHeader struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

// ParseEnvelope validates and parses an inbound frame. Frames without a
// type discriminator are rejected here rather than trusted downstream.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var hdr envelopeHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if hdr.Type == "" {
		return nil, fmt.Errorf("frame missing type discriminator")
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return &Envelope{Type: hdr.Type, RequestID: hdr.RequestID, raw: raw}, nil
}

// Decode unmarshals the full frame into v.
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.raw, v)
}

// TimeSyncRequest asks the server for its current clock reading.
type TimeSyncRequest struct {
	Header
	ClientTime float64 `json:"clientTime"` // client wall clock, ms
}

// NewTimeSyncRequest creates a time probe carrying the local send time.
func NewTimeSyncRequest(clientTime float64) *TimeSyncRequest {
	return &TimeSyncRequest{Header: Header{Type: TypeTimeSync}, ClientTime: clientTime}
}

// TimeSyncResponse is the server's reply to a time probe.
type TimeSyncResponse struct {
	ServerTime float64 // server wall clock at processing time, ms
	ClientTime float64 // echoed client send time, ms
}

// DecodeTimeSyncResponse decodes and validates a time_sync reply.
func DecodeTimeSyncResponse(e *Envelope) (TimeSyncResponse, error) {
	var aux struct {
		ServerTime *float64 `json:"serverTime"`
		ClientTime float64  `json:"clientTime"`
	}
	if err := e.Decode(&aux); err != nil {
		return TimeSyncResponse{}, fmt.Errorf("time_sync response: %w", err)
	}
	if aux.ServerTime == nil {
		return TimeSyncResponse{}, fmt.Errorf("time_sync response missing serverTime")
	}
	return TimeSyncResponse{ServerTime: *aux.ServerTime, ClientTime: aux.ClientTime}, nil
}

// DeviceClockOffsetRequest asks the server for its estimate of the
// server-to-device clock offset.
type DeviceClockOffsetRequest struct {
	Header
}

// NewDeviceClockOffsetRequest creates a device clock offset query.
func NewDeviceClockOffsetRequest() *DeviceClockOffsetRequest {
	return &DeviceClockOffsetRequest{Header: Header{Type: TypeDeviceClockOffset}}
}

// DeviceClockOffsetResponse carries the server's offset estimate and its
// dispersion statistics. Offset is nil when the server has not yet seen
// enough device samples to estimate one.
type DeviceClockOffsetResponse struct {
	Offset      *float64 `json:"offset"` // server - device, ms
	SampleCount int      `json:"sample_count"`
	StdDev      float64  `json:"std_dev"`
	Min         float64  `json:"min"`
	Max         float64  `json:"max"`
}

// DecodeDeviceClockOffsetResponse decodes a get_device_clock_offset reply.
func DecodeDeviceClockOffsetResponse(e *Envelope) (DeviceClockOffsetResponse, error) {
	var resp DeviceClockOffsetResponse
	if err := e.Decode(&resp); err != nil {
		return DeviceClockOffsetResponse{}, fmt.Errorf("device clock offset response: %w", err)
	}
	return resp, nil
}

// GazeSample is the payload of a streamed gaze_data frame. Timestamp is in
// the device clock domain, milliseconds.
type GazeSample struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Timestamp  float64 `json:"timestamp"`
	LeftValid  bool    `json:"left_valid"`
	RightValid bool    `json:"right_valid"`
}

// DecodeGazeSample decodes and validates a gaze_data frame.
func DecodeGazeSample(e *Envelope) (GazeSample, error) {
	var aux struct {
		X          *float64 `json:"x"`
		Y          *float64 `json:"y"`
		Timestamp  *float64 `json:"timestamp"`
		LeftValid  bool     `json:"left_valid"`
		RightValid bool     `json:"right_valid"`
	}
	if err := e.Decode(&aux); err != nil {
		return GazeSample{}, fmt.Errorf("gaze_data frame: %w", err)
	}
	if aux.X == nil || aux.Y == nil || aux.Timestamp == nil {
		return GazeSample{}, fmt.Errorf("gaze_data frame missing x/y/timestamp")
	}
	return GazeSample{
		X:          *aux.X,
		Y:          *aux.Y,
		Timestamp:  *aux.Timestamp,
		LeftValid:  aux.LeftValid,
		RightValid: aux.RightValid,
	}, nil
}

// GazeStream is an outbound frame carrying one gaze sample, produced by the
// server side when streaming.
type GazeStream struct {
	Header
	GazeSample
}

// NewGazeStream wraps a sample for transmission.
func NewGazeStream(s GazeSample) *GazeStream {
	return &GazeStream{Header: Header{Type: TypeGazeData}, GazeSample: s}
}

// StartTrackingRequest asks the server to begin streaming gaze samples.
type StartTrackingRequest struct {
	Header
}

// NewStartTrackingRequest creates a start_tracking request.
func NewStartTrackingRequest() *StartTrackingRequest {
	return &StartTrackingRequest{Header: Header{Type: TypeStartTracking}}
}

// StopTrackingRequest asks the server to stop streaming gaze samples.
type StopTrackingRequest struct {
	Header
}

// NewStopTrackingRequest creates a stop_tracking request.
func NewStopTrackingRequest() *StopTrackingRequest {
	return &StopTrackingRequest{Header: Header{Type: TypeStopTracking}}
}

// AckResponse is the generic success/failure reply to control requests.
type AckResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DecodeAckResponse decodes a success/failure reply.
func DecodeAckResponse(e *Envelope) (AckResponse, error) {
	var aux struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := e.Decode(&aux); err != nil {
		return AckResponse{}, fmt.Errorf("%s response: %w", e.Type, err)
	}
	if aux.Success == nil {
		return AckResponse{}, fmt.Errorf("%s response missing success field", e.Type)
	}
	return AckResponse{Success: *aux.Success, Error: aux.Error}, nil
}

// Point is a screen coordinate in normalized [0,1] space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MarkerRequest stamps an experiment event into the server-side record.
type MarkerRequest struct {
	Header
	Label     string         `json:"label"`
	Timestamp float64        `json:"timestamp"` // client wall clock, ms
	Data      map[string]any `json:"data,omitempty"`
}

// NewMarkerRequest creates a marker message.
func NewMarkerRequest(label string, timestamp float64, data map[string]any) *MarkerRequest {
	return &MarkerRequest{
		Header:    Header{Type: TypeMarker},
		Label:     label,
		Timestamp: timestamp,
		Data:      data,
	}
}

// CalibrationControlRequest starts or computes a calibration or validation
// run; typ selects which.
type CalibrationControlRequest struct {
	Header
}

// NewCalibrationControlRequest creates a calibration/validation control
// request of the given type (calibration_start, calibration_compute,
// validation_start, validation_compute).
func NewCalibrationControlRequest(typ string) *CalibrationControlRequest {
	return &CalibrationControlRequest{Header: Header{Type: typ}}
}

// CalibrationPointRequest submits a fixation point during calibration or
// validation; typ is calibration_point or validation_point.
type CalibrationPointRequest struct {
	Header
	Point     Point   `json:"point"`
	Timestamp float64 `json:"timestamp"` // client wall clock, ms
}

// NewCalibrationPointRequest creates a point collection request.
func NewCalibrationPointRequest(typ string, p Point, timestamp float64) *CalibrationPointRequest {
	return &CalibrationPointRequest{Header: Header{Type: typ}, Point: p, Timestamp: timestamp}
}

// GetDataRequest asks the server for its retained samples in a window.
// Nil bounds mean unbounded on that side.
type GetDataRequest struct {
	Header
	StartTime *float64 `json:"start_time,omitempty"`
	EndTime   *float64 `json:"end_time,omitempty"`
}

// NewGetDataRequest creates a windowed data query.
func NewGetDataRequest(start, end *float64) *GetDataRequest {
	return &GetDataRequest{Header: Header{Type: TypeGetData}, StartTime: start, EndTime: end}
}

// GetCurrentGazeRequest asks the server for its most recent sample.
type GetCurrentGazeRequest struct {
	Header
}

// NewGetCurrentGazeRequest creates a get_current_gaze request.
func NewGetCurrentGazeRequest() *GetCurrentGazeRequest {
	return &GetCurrentGazeRequest{Header: Header{Type: TypeGetCurrentGaze}}
}

// ErrorMessage is an unsolicited error frame from the server.
type ErrorMessage struct {
	Error string `json:"error"`
}

// DecodeErrorMessage decodes an error frame.
func DecodeErrorMessage(e *Envelope) (ErrorMessage, error) {
	var msg ErrorMessage
	if err := e.Decode(&msg); err != nil {
		return ErrorMessage{}, fmt.Errorf("error frame: %w", err)
	}
	return msg, nil
}
