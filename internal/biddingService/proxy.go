package bidding

import (
	"time"

	"auction-core/internal/models"
	"auction-core/internal/repository"
	"auction-core/utils"

	"github.com/shopspring/decimal"
)

// bidPlan is the outcome of resolving an incoming bid against the current leader
type bidPlan struct {
	commit   repository.BidCommit
	incoming string // id of the caller's bid inside commit.Bids
	winner   models.Bid
}

// resolveBid applies English-auction proxy rules to the incoming bid b given
// the current winning bid w (nil when the auction has no bids).
//
// A bidder's ceiling is their autoBidMax, or the plain amount without one.
// The higher ceiling wins, priced one increment above the loser's ceiling and
// never above the winner's own ceiling. On equal ceilings the earlier bid wins.
func resolveBid(a models.Auction, w *models.Bid, b models.Bid, now time.Time) bidPlan {
	commit := repository.BidCommit{
		AuctionID:     a.AuctionID,
		ExpectedPrice: a.CurrentPrice,
		CommittedAt:   now,
	}
	inc := a.BidIncrement

	// first bid, or the leader raising their own bid
	if w == nil || w.BidderID == b.BidderID {
		commit.Bids = []models.Bid{b}
		commit.WinningBidID = b.BidID
		commit.NewPrice = b.Amount
		return bidPlan{commit: commit, incoming: b.BidID, winner: b}
	}

	wc, bc := w.Ceiling(), b.Ceiling()

	if wc.GreaterThanOrEqual(bc) {
		// the leader's proxy defends: b is recorded, the leader is re-bid
		defense := proxyBid(*w, decimal.Min(wc, bc.Add(inc)), now)
		commit.Bids = []models.Bid{b, defense}
		if bc.GreaterThan(b.Amount) {
			// b's proxy went to its ceiling before losing; it follows the
			// defense so the defense ranks first on equal amounts
			commit.Bids = append(commit.Bids, proxyBid(b, bc, now))
		}
		commit.WinningBidID = defense.BidID
		commit.NewPrice = defense.Amount
		return bidPlan{commit: commit, incoming: b.BidID, winner: defense}
	}

	// b's ceiling is higher; it wins at the lowest price that beats wc
	price := decimal.Max(b.Amount, decimal.Min(bc, wc.Add(inc)))
	b.Amount = price
	if wc.GreaterThan(w.Amount) {
		// record how far the leader's proxy went before losing
		exhausted := proxyBid(*w, wc, now)
		commit.Bids = []models.Bid{exhausted, b}
	} else {
		commit.Bids = []models.Bid{b}
	}
	commit.WinningBidID = b.BidID
	commit.NewPrice = price
	return bidPlan{commit: commit, incoming: b.BidID, winner: b}
}

// proxyBid places a bid on behalf of from's bidder, carrying their ceiling
func proxyBid(from models.Bid, amount decimal.Decimal, now time.Time) models.Bid {
	return models.Bid{
		BidID:      utils.GenerateID(),
		AuctionID:  from.AuctionID,
		BidderID:   from.BidderID,
		Amount:     amount,
		AutoBidMax: from.AutoBidMax,
		IsProxyBid: true,
		CreatedAt:  now,
	}
}
