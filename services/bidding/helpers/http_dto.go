package helpers

import (
	"time"

	model "auction-core/internal/models"

	"github.com/shopspring/decimal"
)

// Request/Response DTOs
type PlaceBidRequest struct {
	AuctionID  string           `json:"auction_id" binding:"required"`
	BidderID   string           `json:"bidder_id" binding:"required"`
	Amount     decimal.Decimal  `json:"amount"`
	AutoBidMax *decimal.Decimal `json:"auto_bid_max,omitempty"`
}

type CreateAuctionRequest struct {
	AuctionID     string           `json:"auction_id"`
	Title         string           `json:"title" binding:"required"`
	StartingPrice decimal.Decimal  `json:"starting_price"`
	ReservePrice  *decimal.Decimal `json:"reserve_price,omitempty"`
	BidIncrement  decimal.Decimal  `json:"bid_increment"`
	StartTime     time.Time        `json:"start_time" binding:"required"`
	EndTime       time.Time        `json:"end_time" binding:"required"`
}

type ApproveWinnerRequest struct {
	WinnerID string          `json:"winner_id" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
}

type SettlementRequest struct {
	PaymentStatus    *string `json:"payment_status,omitempty"`
	CollectionStatus *string `json:"collection_status,omitempty"`
}

type BidResponse struct {
	BidID        string  `json:"bid_id"`
	AuctionID    string  `json:"auction_id"`
	BidderID     string  `json:"bidder_id"`
	Amount       string  `json:"amount"`
	AutoBidMax   *string `json:"auto_bid_max,omitempty"`
	IsWinningBid bool    `json:"is_winning_bid"`
	IsProxyBid   bool    `json:"is_proxy_bid"`
	CreatedAt    string  `json:"created_at"`
}

type PlaceBidResponse struct {
	BidResponse
	Outbid          bool   `json:"outbid"`
	WinningBidderID string `json:"winning_bidder_id"`
	CurrentPrice    string `json:"current_price"`
	MinimumBid      string `json:"minimum_bid"`
	Replayed        bool   `json:"replayed,omitempty"`
}

type AuctionResponse struct {
	AuctionID        string  `json:"auction_id"`
	Title            string  `json:"title"`
	Status           string  `json:"status"`
	StartingPrice    string  `json:"starting_price"`
	CurrentPrice     string  `json:"current_price"`
	MinimumBid       string  `json:"minimum_bid"`
	ReservePrice     *string `json:"reserve_price,omitempty"`
	BidIncrement     string  `json:"bid_increment"`
	StartTime        string  `json:"start_time"`
	EndTime          string  `json:"end_time"`
	WinnerID         *string `json:"winner_id,omitempty"`
	WinningBid       *string `json:"winning_bid,omitempty"`
	PaymentStatus    string  `json:"payment_status"`
	CollectionStatus string  `json:"collection_status"`
}

// Money formats an amount with two decimal places
func Money(d decimal.Decimal) string {
	return d.StringFixed(model.MoneyScale)
}

func optionalMoney(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := Money(*d)
	return &s
}

func ToBidResponse(b model.Bid) BidResponse {
	return BidResponse{
		BidID:        b.BidID,
		AuctionID:    b.AuctionID,
		BidderID:     b.BidderID,
		Amount:       Money(b.Amount),
		AutoBidMax:   optionalMoney(b.AutoBidMax),
		IsWinningBid: b.IsWinningBid,
		IsProxyBid:   b.IsProxyBid,
		CreatedAt:    b.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func ToBidResponses(bids []model.Bid) []BidResponse {
	out := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, ToBidResponse(b))
	}
	return out
}

func ToAuctionResponse(a model.Auction) AuctionResponse {
	return AuctionResponse{
		AuctionID:        a.AuctionID,
		Title:            a.Title,
		Status:           string(a.Status),
		StartingPrice:    Money(a.StartingPrice),
		CurrentPrice:     Money(a.CurrentPrice),
		MinimumBid:       Money(a.MinimumBid()),
		ReservePrice:     optionalMoney(a.ReservePrice),
		BidIncrement:     Money(a.BidIncrement),
		StartTime:        a.StartTime.UTC().Format(time.RFC3339),
		EndTime:          a.EndTime.UTC().Format(time.RFC3339),
		WinnerID:         a.WinnerID,
		WinningBid:       optionalMoney(a.WinningBid),
		PaymentStatus:    string(a.PaymentStatus),
		CollectionStatus: string(a.CollectionStatus),
	}
}

func ToAuctionResponses(auctions []model.Auction) []AuctionResponse {
	out := make([]AuctionResponse, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, ToAuctionResponse(a))
	}
	return out
}
