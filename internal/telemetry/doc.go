// Package telemetry is the coordinator's ambient stack: configuration,
// logging, and metrics. See telemetry.go.
package telemetry
