package lifecycle

import (
	"context"
	"time"

	"auction-core/internal/models"
	"auction-core/utils"
)

const sweepBatch = 100

// Sweeper periodically activates auctions whose start has passed and
// finalizes those whose end has passed. Running it on several instances is
// safe because every transition is idempotent under the auction lock.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
}

func NewSweeper(manager *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sweeper{manager: manager, interval: interval}
}

// Run sweeps on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass and reports how many auctions it moved
func (s *Sweeper) Sweep(ctx context.Context) (activated, finalized int) {
	now := s.manager.clock.Now()
	due, err := s.manager.repo.ListDueAuctions(ctx, now, sweepBatch)
	if err != nil {
		utils.Error("Sweep failed to list due auctions", map[string]any{"error": err.Error()})
		return 0, 0
	}

	for _, a := range due {
		if a.Status == models.AuctionStatusPending {
			if _, err := s.manager.Activate(ctx, a.AuctionID); err != nil {
				utils.Warn("Sweep failed to activate auction", map[string]any{"auction_id": a.AuctionID, "error": err.Error()})
				continue
			}
			activated++
			if now.Before(a.EndTime) {
				continue
			}
		}

		if _, err := s.manager.FinalizeWinner(ctx, a.AuctionID); err != nil {
			utils.Warn("Sweep failed to finalize auction", map[string]any{"auction_id": a.AuctionID, "error": err.Error()})
			continue
		}
		finalized++
	}

	if activated > 0 || finalized > 0 {
		utils.Debug("Sweep complete", map[string]any{"activated": activated, "finalized": finalized})
	}
	return activated, finalized
}
