// ABOUTME: Version constants for the gazelink binaries
// ABOUTME: Reported in logs and mDNS advertisements
package version

const (
	Version      = "0.1.0"
	Product      = "GazeLink Monitor"
	Manufacturer = "GazeLink Project"
)
