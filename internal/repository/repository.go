package repository

import (
	"context"
	"sort"
	"time"

	model "auction-core/internal/models"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

// BidCommit is the all-or-nothing unit written by the bid acceptor. It applies
// only if the auction is still active and its current price still equals
// ExpectedPrice; otherwise ErrPriceChanged is returned and nothing is written.
type BidCommit struct {
	AuctionID     string
	ExpectedPrice decimal.Decimal
	NewPrice      decimal.Decimal
	Bids          []model.Bid // inserted in order
	WinningBidID  string
	CommittedAt   time.Time
}

// AuctionDB is the auction store and bid ledger used by the bidding core
type AuctionDB interface {
	CreateAuction(ctx context.Context, auction model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	// ListDueAuctions returns pending auctions whose start has passed and
	// active auctions whose end has passed.
	ListDueAuctions(ctx context.Context, now time.Time, limit int) ([]model.Auction, error)
	GetAuctionsByBidder(ctx context.Context, bidderID string) ([]model.Auction, error)

	CommitBid(ctx context.Context, commit BidCommit) ([]model.Bid, error)
	// WithAuctionLock runs fn while holding the auction row exclusively. Changes
	// fn makes to the auction (status, winner, settlement) are persisted when fn
	// returns nil and discarded otherwise. Ledger calls made with the ctx passed
	// to fn join the same unit of work.
	WithAuctionLock(ctx context.Context, auctionID string, fn func(ctx context.Context, auction *model.Auction) error) error

	GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error)
	FindBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (model.Bid, error)
	FindBidByIdempotencyKey(ctx context.Context, auctionID, bidderID, key string) (model.Bid, error)
	MarkWinningBid(ctx context.Context, auctionID, bidID string) error
}

// SortLedger orders bids by amount descending, then bid time ascending, then insertion order
func SortLedger(bids []model.Bid) {
	sort.SliceStable(bids, func(i, j int) bool {
		if c := bids[i].Amount.Cmp(bids[j].Amount); c != 0 {
			return c > 0
		}
		if !bids[i].CreatedAt.Equal(bids[j].CreatedAt) {
			return bids[i].CreatedAt.Before(bids[j].CreatedAt)
		}
		return bids[i].Seq < bids[j].Seq
	})
}
