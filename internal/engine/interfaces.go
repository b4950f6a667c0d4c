// Package engine defines the contract between the command and the trading loop
package engine

import (
	"context"
	"kimchi_arb/internal/core"
	"time"
)

// Engine is a tick-driven trading loop
type Engine interface {
	// Load restores persisted state; call once before Run
	Load(ctx context.Context) error
	Tick(ctx context.Context, now time.Time) error
	// Run ticks until ctx is cancelled
	Run(ctx context.Context) error
	RegisterHealth(h core.IHealthMonitor)
	Close()
}
