package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places carried by prices and bids
const MoneyScale = 2

// IsMoney reports whether d fits the money scale
func IsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	AuctionStatusPending   AuctionStatus = "pending"
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusCompleted AuctionStatus = "completed"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed
func (s AuctionStatus) IsTerminal() bool {
	return s == AuctionStatusCompleted || s == AuctionStatusCancelled
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

type CollectionStatus string

const (
	CollectionStatusPending   CollectionStatus = "pending"
	CollectionStatusCollected CollectionStatus = "collected"
)

// Auction is the price and lifecycle record of a single auctioned item
type Auction struct {
	AuctionID        string           `json:"auction_id"`
	Title            string           `json:"title"`
	Status           AuctionStatus    `json:"status"`
	StartingPrice    decimal.Decimal  `json:"starting_price"`
	CurrentPrice     decimal.Decimal  `json:"current_price"`
	ReservePrice     *decimal.Decimal `json:"reserve_price,omitempty"`
	BidIncrement     decimal.Decimal  `json:"bid_increment"`
	StartTime        time.Time        `json:"start_time"`
	EndTime          time.Time        `json:"end_time"`
	WinnerID         *string          `json:"winner_id,omitempty"`
	WinningBid       *decimal.Decimal `json:"winning_bid,omitempty"`
	PaymentStatus    PaymentStatus    `json:"payment_status"`
	CollectionStatus CollectionStatus `json:"collection_status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// AcceptsBidsAt reports whether a bid submitted at now may be accepted.
// The window is half-open: [StartTime, EndTime).
func (a Auction) AcceptsBidsAt(now time.Time) bool {
	return a.Status == AuctionStatusActive && !now.Before(a.StartTime) && now.Before(a.EndTime)
}

// MinimumBid is the lowest amount the next bid must reach
func (a Auction) MinimumBid() decimal.Decimal {
	return a.CurrentPrice.Add(a.BidIncrement)
}

// Bid is a single entry of the bid ledger. Only IsWinningBid ever changes after insert.
type Bid struct {
	BidID          string           `json:"bid_id"`
	AuctionID      string           `json:"auction_id"`
	BidderID       string           `json:"bidder_id"`
	Amount         decimal.Decimal  `json:"amount"`
	AutoBidMax     *decimal.Decimal `json:"auto_bid_max,omitempty"`
	IsWinningBid   bool             `json:"is_winning_bid"`
	IsProxyBid     bool             `json:"is_proxy_bid"`
	IdempotencyKey string           `json:"-"`
	Seq            int64            `json:"-"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Ceiling is the highest amount this bid is willing to reach
func (b Bid) Ceiling() decimal.Decimal {
	if b.AutoBidMax != nil && b.AutoBidMax.GreaterThan(b.Amount) {
		return *b.AutoBidMax
	}
	return b.Amount
}

// HasProxy reports whether the bid carries an auto-bid ceiling above its amount
func (b Bid) HasProxy() bool {
	return b.AutoBidMax != nil && b.AutoBidMax.GreaterThan(b.Amount)
}

type NotificationType string

const (
	NotificationOutbid NotificationType = "outbid"
	NotificationWon    NotificationType = "won"
)

// Notification is emitted by the core and delivered by the notifier
type Notification struct {
	NotificationID string           `json:"notification_id"`
	UserID         string           `json:"user_id"`
	AuctionID      string           `json:"auction_id"`
	Type           NotificationType `json:"type"`
	Message        string           `json:"message"`
	CreatedAt      time.Time        `json:"created_at"`
}
