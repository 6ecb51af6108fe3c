// ABOUTME: High-level GazeLink client API
// ABOUTME: Provides the Tracker facade over channel, sync, and buffer internals
// Package gazelink provides the high-level client API for a GazeLink
// gaze-telemetry bridge.
//
// A Tracker owns the WebSocket channel, both clock synchronization hops,
// and the bounded sample buffer. Streamed gaze samples are stamped with
// their client arrival time, converted into the client clock domain once
// the device bridge is synced, and retained in the buffer for windowed
// queries.
//
// Example:
//
//	tracker := gazelink.New(gazelink.Config{
//	    ServerAddr: "localhost:8765",
//	})
//	err := tracker.Connect(ctx)
//	err = tracker.StartTracking(ctx)
//	samples := tracker.Recent(2 * time.Second)
package gazelink
