// ABOUTME: Sentinel errors for the GazeLink RPC channel
// ABOUTME: Callers match these with errors.Is to distinguish failure modes
package client

import "errors"

var (
	// ErrConnectTimeout indicates the channel did not signal open within
	// the connect deadline.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrConnect indicates a transport-level failure while dialing.
	ErrConnect = errors.New("connect failed")

	// ErrNotConnected indicates a send was attempted while the channel
	// was closed.
	ErrNotConnected = errors.New("not connected")

	// ErrRequestTimeout indicates no correlated response arrived before
	// the request deadline.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrMaxReconnectAttempts indicates the reconnect loop exhausted its
	// attempt budget; Connect must be called to resume.
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts exceeded")
)
