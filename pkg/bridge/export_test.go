package bridge

import (
	"context"
	"time"
)

// ErrStaleGeneration exposes the probe result that ends a health loop.
var ErrStaleGeneration = errStaleGeneration

// HealthMonitor exposes the probe loop to the external tests.
type HealthMonitor = healthMonitor

func NewHealthMonitor(interval time.Duration, probe func(context.Context, uint64) error, report func(uint64, error)) *HealthMonitor {
	return newHealthMonitor(interval, probe, report)
}

func (h *healthMonitor) Arm(generation uint64) { h.arm(generation) }
func (h *healthMonitor) Disarm()               { h.disarm() }
func (h *healthMonitor) Wait()                 { h.wait() }
