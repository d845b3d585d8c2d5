// Package swapmode holds the pluggable strategies that decide when a race
// should swap its current game. A mode pushes one or more trigger labels into
// the bound sink; the race decides what a trigger means in its current phase.
package swapmode

import (
	"fmt"

	"github.com/scythe504/gameswap-backend/internal"
	"github.com/scythe504/gameswap-backend/internal/feed"
)

// Sink receives a batch of trigger labels. A batch of N labels requests N
// swaps and lets the caller attribute each swap to its origin (e.g. one
// donation paying for several swaps).
type Sink func(labels []string)

type SwapMode interface {
	// Bind registers the callback invoked on every trigger batch. Triggers
	// that fire before Bind are dropped.
	Bind(sink Sink)
	// Cleanup releases timers and subscriptions owned by the mode.
	Cleanup()
}

// New constructs the mode named by config. The donation feed may be nil for
// manual and timer modes.
func New(config internal.SwapModeConfig, donations *feed.DonationFeed) (SwapMode, error) {
	switch config.SwapMode {
	case internal.SwapModeManual:
		return &ManualSwapMode{}, nil
	case internal.SwapModeTimer:
		return NewTimerSwapMode(config.ExtraData)
	case internal.SwapModeDonation:
		return NewDonationSwapMode(config.ExtraData, donations)
	default:
		return nil, fmt.Errorf("unknown swap mode %q", config.SwapMode)
	}
}

// ManualSwapMode never triggers on its own; swaps happen only through
// explicit room or admin commands.
type ManualSwapMode struct{}

func (m *ManualSwapMode) Bind(Sink) {}

func (m *ManualSwapMode) Cleanup() {}
