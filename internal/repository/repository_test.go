package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"auction-core/internal/biddingerrors"
	model "auction-core/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Helper to create an open auction
func newAuction(auctionID string, startingPrice, increment string) model.Auction {
	now := time.Now().UTC()
	return model.Auction{
		AuctionID:        auctionID,
		Title:            fmt.Sprintf("%s title", auctionID),
		Status:           model.AuctionStatusActive,
		StartingPrice:    dec(startingPrice),
		CurrentPrice:     dec(startingPrice),
		BidIncrement:     dec(increment),
		StartTime:        now.Add(-time.Hour),
		EndTime:          now.Add(time.Hour),
		PaymentStatus:    model.PaymentStatusPending,
		CollectionStatus: model.CollectionStatusPending,
	}
}

// Helper to create a new Bid
func newBid(bidID, auctionID, bidderID, amount string, createdAt time.Time) model.Bid {
	return model.Bid{
		BidID:     bidID,
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    dec(amount),
		CreatedAt: createdAt,
	}
}

func commitOne(ctx context.Context, repo *MemoryRepo, expected string, bid model.Bid) ([]model.Bid, error) {
	return repo.CommitBid(ctx, BidCommit{
		AuctionID:     bid.AuctionID,
		ExpectedPrice: dec(expected),
		NewPrice:      bid.Amount,
		Bids:          []model.Bid{bid},
		WinningBidID:  bid.BidID,
		CommittedAt:   bid.CreatedAt,
	})
}

// Test CreateAuction and GetAuction
func TestMemoryRepo_CreateAuction(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	ctx := context.Background()

	require.NoError(t, repo.CreateAuction(ctx, newAuction("a1", "10", "5")))

	tests := []struct {
		name    string
		auction model.Auction
		wantErr error
	}{
		{name: "duplicate_id", auction: newAuction("a1", "10", "5"), wantErr: biddingerrors.ErrAuctionExists},
		{name: "empty_id", auction: newAuction("", "10", "5"), wantErr: biddingerrors.ErrInvalidAuction},
		{name: "new_id", auction: newAuction("a2", "20", "1"), wantErr: nil},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := repo.CreateAuction(ctx, tc.auction)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			got, err := repo.GetAuction(ctx, tc.auction.AuctionID)
			require.NoError(t, err)
			require.Equal(t, tc.auction.AuctionID, got.AuctionID)
		})
	}

	t.Run("missing_auction", func(t *testing.T) {
		_, err := repo.GetAuction(ctx, "missing")
		require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
	})
}

// Test CommitBid
func TestMemoryRepo_CommitBid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("applies_when_price_unchanged", func(t *testing.T) {
		t.Parallel()
		repo := NewMemoryRepo()
		repo.AddAuction(newAuction("a1", "10", "5"))

		committed, err := commitOne(ctx, repo, "10", newBid("b1", "a1", "alice", "15", time.Now()))
		require.NoError(t, err)
		require.Len(t, committed, 1)
		require.True(t, committed[0].IsWinningBid)
		require.Positive(t, committed[0].Seq)

		a, err := repo.GetAuction(ctx, "a1")
		require.NoError(t, err)
		require.True(t, a.CurrentPrice.Equal(dec("15")))
	})

	t.Run("rejects_stale_price", func(t *testing.T) {
		t.Parallel()
		repo := NewMemoryRepo()
		repo.AddAuction(newAuction("a1", "10", "5"))

		_, err := commitOne(ctx, repo, "10", newBid("b1", "a1", "alice", "15", time.Now()))
		require.NoError(t, err)
		_, err = commitOne(ctx, repo, "10", newBid("b2", "a1", "bob", "20", time.Now()))
		require.ErrorIs(t, err, biddingerrors.ErrPriceChanged)

		bids, err := repo.GetBidsByAuction(ctx, "a1")
		require.NoError(t, err)
		require.Len(t, bids, 1)
	})

	t.Run("rejects_inactive_auction", func(t *testing.T) {
		t.Parallel()
		repo := NewMemoryRepo()
		a := newAuction("a1", "10", "5")
		a.Status = model.AuctionStatusCompleted
		repo.AddAuction(a)

		_, err := commitOne(ctx, repo, "10", newBid("b1", "a1", "alice", "15", time.Now()))
		require.ErrorIs(t, err, biddingerrors.ErrPriceChanged)
	})

	t.Run("moves_winning_flag", func(t *testing.T) {
		t.Parallel()
		repo := NewMemoryRepo()
		repo.AddAuction(newAuction("a1", "10", "5"))

		_, err := commitOne(ctx, repo, "10", newBid("b1", "a1", "alice", "15", time.Now()))
		require.NoError(t, err)
		_, err = commitOne(ctx, repo, "15", newBid("b2", "a1", "bob", "20", time.Now()))
		require.NoError(t, err)

		winner, err := repo.GetWinningBid(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, "b2", winner.BidID)

		bids, err := repo.GetBidsByAuction(ctx, "a1")
		require.NoError(t, err)
		winners := 0
		for _, b := range bids {
			if b.IsWinningBid {
				winners++
			}
		}
		require.Equal(t, 1, winners)
	})

	t.Run("duplicate_idempotency_key", func(t *testing.T) {
		t.Parallel()
		repo := NewMemoryRepo()
		repo.AddAuction(newAuction("a1", "10", "5"))

		first := newBid("b1", "a1", "alice", "15", time.Now())
		first.IdempotencyKey = "k1"
		_, err := commitOne(ctx, repo, "10", first)
		require.NoError(t, err)

		second := newBid("b2", "a1", "alice", "20", time.Now())
		second.IdempotencyKey = "k1"
		_, err = commitOne(ctx, repo, "15", second)
		require.ErrorIs(t, err, biddingerrors.ErrDuplicateBid)

		found, err := repo.FindBidByIdempotencyKey(ctx, "a1", "alice", "k1")
		require.NoError(t, err)
		require.Equal(t, "b1", found.BidID)

		// same key from another bidder is independent
		other := newBid("b3", "a1", "bob", "20", time.Now())
		other.IdempotencyKey = "k1"
		_, err = commitOne(ctx, repo, "15", other)
		require.NoError(t, err)
	})

	t.Run("cancelled_context", func(t *testing.T) {
		t.Parallel()
		repo := NewMemoryRepo()
		repo.AddAuction(newAuction("a1", "10", "5"))

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := commitOne(cctx, repo, "10", newBid("b1", "a1", "alice", "15", time.Now()))
		require.ErrorIs(t, err, context.Canceled)

		_, err = repo.GetWinningBid(ctx, "a1")
		require.ErrorIs(t, err, biddingerrors.ErrNoBids)
	})

	// concurrency test
	t.Run("concurrent_commits_same_snapshot", func(t *testing.T) {
		t.Parallel()
		repo := NewMemoryRepo()
		repo.AddAuction(newAuction("a1", "10", "1"))

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		concurrentCount := 50

		for i := 0; i < concurrentCount; i++ {
			wg.Add(1)
			i := i
			go func() {
				defer wg.Done()
				b := newBid(fmt.Sprintf("bid-%d", i), "a1", fmt.Sprintf("user-%d", i), "11", time.Now())
				_, err := commitOne(ctx, repo, "10", b)
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
					return
				}
				if !errors.Is(err, biddingerrors.ErrPriceChanged) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, successes)
		bids, err := repo.GetBidsByAuction(ctx, "a1")
		require.NoError(t, err)
		require.Len(t, bids, 1)
	})
}

// Test GetBidsByAuction ordering
func TestMemoryRepo_GetBidsByAuction(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	ctx := context.Background()
	repo.AddAuction(newAuction("a1", "10", "1"))
	repo.AddAuction(newAuction("empty", "10", "1"))

	base := time.Now().UTC()
	_, err := commitOne(ctx, repo, "10", newBid("b1", "a1", "alice", "20", base))
	require.NoError(t, err)

	// a recorded non-winning bid at the same amount as the winner, placed later
	_, err = repo.CommitBid(ctx, BidCommit{
		AuctionID:     "a1",
		ExpectedPrice: dec("20"),
		NewPrice:      dec("30"),
		Bids: []model.Bid{
			newBid("b2", "a1", "bob", "20", base.Add(time.Second)),
			newBid("b3", "a1", "alice", "30", base.Add(time.Second)),
		},
		WinningBidID: "b3",
		CommittedAt:  base.Add(time.Second),
	})
	require.NoError(t, err)

	tests := []struct {
		name      string
		auctionID string
		wantIDs   []string
		wantErr   error
	}{
		{name: "amount_desc_then_time_asc", auctionID: "a1", wantIDs: []string{"b3", "b1", "b2"}},
		{name: "no_bids", auctionID: "empty", wantIDs: []string{}},
		{name: "missing_auction", auctionID: "nope", wantErr: biddingerrors.ErrAuctionNotFound},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			bids, err := repo.GetBidsByAuction(ctx, tc.auctionID)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			ids := make([]string, 0, len(bids))
			for _, b := range bids {
				ids = append(ids, b.BidID)
			}
			require.Equal(t, tc.wantIDs, ids)
		})
	}
}

// Test WithAuctionLock
func TestMemoryRepo_WithAuctionLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("persists_lifecycle_changes", func(t *testing.T) {
		t.Parallel()
		repo := NewMemoryRepo()
		repo.AddAuction(newAuction("a1", "10", "5"))

		err := repo.WithAuctionLock(ctx, "a1", func(ctx context.Context, a *model.Auction) error {
			a.Status = model.AuctionStatusCompleted
			a.CurrentPrice = dec("9999")
			return nil
		})
		require.NoError(t, err)

		a, err := repo.GetAuction(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, model.AuctionStatusCompleted, a.Status)
		require.True(t, a.CurrentPrice.Equal(dec("10")), "price is owned by the bid path")
	})

	t.Run("rolls_back_on_error", func(t *testing.T) {
		t.Parallel()
		repo := NewMemoryRepo()
		repo.AddAuction(newAuction("a1", "10", "5"))
		_, err := commitOne(ctx, repo, "10", newBid("b1", "a1", "alice", "15", time.Now()))
		require.NoError(t, err)
		_, err = commitOne(ctx, repo, "15", newBid("b2", "a1", "bob", "20", time.Now()))
		require.NoError(t, err)

		errBoom := errors.New("boom")
		err = repo.WithAuctionLock(ctx, "a1", func(ctx context.Context, a *model.Auction) error {
			require.NoError(t, repo.MarkWinningBid(ctx, "a1", "b1"))
			a.Status = model.AuctionStatusCancelled
			return errBoom
		})
		require.ErrorIs(t, err, errBoom)

		a, err := repo.GetAuction(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, model.AuctionStatusActive, a.Status)

		winner, err := repo.GetWinningBid(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, "b2", winner.BidID)
	})

	t.Run("ledger_calls_reenter_lock", func(t *testing.T) {
		t.Parallel()
		repo := NewMemoryRepo()
		repo.AddAuction(newAuction("a1", "10", "5"))
		_, err := commitOne(ctx, repo, "10", newBid("b1", "a1", "alice", "15", time.Now()))
		require.NoError(t, err)

		err = repo.WithAuctionLock(ctx, "a1", func(ctx context.Context, a *model.Auction) error {
			b, err := repo.FindBid(ctx, "a1", "alice", dec("15"))
			if err != nil {
				return err
			}
			_, err = repo.GetWinningBid(ctx, "a1")
			if err != nil {
				return err
			}
			return repo.MarkWinningBid(ctx, "a1", b.BidID)
		})
		require.NoError(t, err)
	})

	t.Run("missing_auction", func(t *testing.T) {
		t.Parallel()
		repo := NewMemoryRepo()
		err := repo.WithAuctionLock(ctx, "nope", func(ctx context.Context, a *model.Auction) error { return nil })
		require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
	})
}

// Test FindBid and MarkWinningBid
func TestMemoryRepo_FindAndMark(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	ctx := context.Background()
	repo.AddAuction(newAuction("a1", "10", "5"))
	_, err := commitOne(ctx, repo, "10", newBid("b1", "a1", "alice", "15", time.Now()))
	require.NoError(t, err)

	b, err := repo.FindBid(ctx, "a1", "alice", dec("15.00"))
	require.NoError(t, err)
	require.Equal(t, "b1", b.BidID)

	_, err = repo.FindBid(ctx, "a1", "alice", dec("16"))
	require.ErrorIs(t, err, biddingerrors.ErrBidNotFound)

	err = repo.MarkWinningBid(ctx, "a1", "missing")
	require.ErrorIs(t, err, biddingerrors.ErrBidNotFound)
}

// Test ListDueAuctions and GetAuctionsByBidder
func TestMemoryRepo_Indexes(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	ctx := context.Background()
	now := time.Now().UTC()

	pending := newAuction("pending", "10", "1")
	pending.Status = model.AuctionStatusPending
	pending.StartTime = now.Add(-time.Minute)
	repo.AddAuction(pending)

	ended := newAuction("ended", "10", "1")
	ended.EndTime = now.Add(-time.Second)
	repo.AddAuction(ended)

	repo.AddAuction(newAuction("open", "10", "1"))

	due, err := repo.ListDueAuctions(ctx, now, 0)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, a := range due {
		ids[a.AuctionID] = true
	}
	require.Equal(t, map[string]bool{"pending": true, "ended": true}, ids)

	_, err = repo.GetAuctionsByBidder(ctx, "alice")
	require.ErrorIs(t, err, biddingerrors.ErrUserNoBids)

	_, err = commitOne(ctx, repo, "10", newBid("b1", "open", "alice", "11", now))
	require.NoError(t, err)
	_, err = commitOne(ctx, repo, "11", newBid("b2", "open", "alice", "12", now))
	require.NoError(t, err)

	auctions, err := repo.GetAuctionsByBidder(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, auctions, 1)
	require.Equal(t, "open", auctions[0].AuctionID)
}
