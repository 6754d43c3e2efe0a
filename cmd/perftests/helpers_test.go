package perftests

import (
	"context"
	"time"

	bidding "auction-core/internal/biddingService"
	"auction-core/internal/clock"
	"auction-core/internal/identity"
	model "auction-core/internal/models"
	"auction-core/internal/notifier"
	repository "auction-core/internal/repository"

	"github.com/shopspring/decimal"
)

// openAuction is an active auction that stays open for the whole run
func openAuction(id string, startingPrice, increment int64) model.Auction {
	now := time.Now().UTC()
	return model.Auction{
		AuctionID:        id,
		Title:            "Benchmark auction " + id,
		Status:           model.AuctionStatusActive,
		StartingPrice:    decimal.NewFromInt(startingPrice),
		CurrentPrice:     decimal.NewFromInt(startingPrice),
		BidIncrement:     decimal.NewFromInt(increment),
		StartTime:        now.Add(-time.Hour),
		EndTime:          now.Add(24 * time.Hour),
		PaymentStatus:    model.PaymentStatusPending,
		CollectionStatus: model.CollectionStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func newService(repo repository.AuctionDB) *bidding.BiddingService {
	return bidding.NewBiddingService(repo, clock.NewSystem(), notifier.Discard{}, identity.AcceptAll(), bidding.Options{})
}

func placeBid(svc *bidding.BiddingService, auctionID, bidderID string, amount int64) (bidding.PlaceBidResult, error) {
	return svc.PlaceBid(context.Background(), bidding.PlaceBidInput{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    decimal.NewFromInt(amount),
	})
}

func placeProxyBid(svc *bidding.BiddingService, auctionID, bidderID string, amount, ceiling int64) (bidding.PlaceBidResult, error) {
	limit := decimal.NewFromInt(ceiling)
	return svc.PlaceBid(context.Background(), bidding.PlaceBidInput{
		AuctionID:  auctionID,
		BidderID:   bidderID,
		Amount:     decimal.NewFromInt(amount),
		AutoBidMax: &limit,
	})
}
