package main

import "sync/atomic"

// Metrics holds the atomic counters reported by the INFO command.
type Metrics struct {
	TotalConnections atomic.Uint64 // Connections ever accepted
	TotalCommands    atomic.Uint64 // Commands ever dispatched
}

// NewMetrics creates and returns a new Metrics struct.
func NewMetrics() *Metrics {
	return &Metrics{}
}
