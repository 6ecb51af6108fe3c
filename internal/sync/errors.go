// ABOUTME: Sentinel errors for clock synchronization
// ABOUTME: Distinguishes missing-sync state from probe transport failures
package sync

import "errors"

var (
	// ErrNotSynced indicates a time conversion was requested before the
	// prerequisite synchronization completed.
	ErrNotSynced = errors.New("clock not synchronized")

	// ErrDeviceOffsetUnavailable indicates the server has not observed
	// enough device samples to estimate the server-device offset.
	ErrDeviceOffsetUnavailable = errors.New("device clock offset unavailable")
)
