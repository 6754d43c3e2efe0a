package biddingerrors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrAuctionExists   = errors.New("auction already exists")
	ErrNoBids          = errors.New("no bids found for auction")
	ErrBidNotFound     = errors.New("bid not found")
	ErrUserNoBids      = errors.New("user has not placed any bids")
	ErrPriceChanged    = errors.New("current price changed since read")
	ErrDuplicateBid    = errors.New("bid with this idempotency key already recorded")
)

// business logic errors
var (
	ErrInvalidBid          = errors.New("invalid bid")
	ErrInvalidAuction      = errors.New("invalid auction")
	ErrAuctionClosed       = errors.New("auction is not accepting bids")
	ErrBidTooLow           = errors.New("bid amount too low")
	ErrConflict            = errors.New("bid lost a concurrent update")
	ErrBidMismatch         = errors.New("no matching bid in ledger")
	ErrBidderNotFound      = errors.New("bidder not found")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different bid")
	ErrInvalidTransition   = errors.New("invalid auction status transition")
	ErrAuctionNotEnded     = errors.New("auction has not ended")
	ErrInvalidSettlement   = errors.New("invalid settlement update")
)

// BidError is returned for rejected bids. It wraps ErrBidTooLow or ErrConflict
// and carries the amount a resubmission must reach.
type BidError struct {
	Err          error
	Minimum      decimal.Decimal
	CurrentPrice decimal.Decimal
}

func (e *BidError) Error() string {
	return fmt.Sprintf("%v: minimum acceptable bid is %s", e.Err, e.Minimum.StringFixed(2))
}

func (e *BidError) Unwrap() error {
	return e.Err
}

// NewBidTooLow builds a BidError for an amount below the current minimum
func NewBidTooLow(current, minimum decimal.Decimal) *BidError {
	return &BidError{Err: ErrBidTooLow, Minimum: minimum, CurrentPrice: current}
}

// NewConflict builds a BidError for a bid that lost the compare-and-set race
func NewConflict(current, minimum decimal.Decimal) *BidError {
	return &BidError{Err: ErrConflict, Minimum: minimum, CurrentPrice: current}
}

// MinimumFrom extracts the minimum acceptable amount from err, if it carries one
func MinimumFrom(err error) (decimal.Decimal, bool) {
	var bidErr *BidError
	if errors.As(err, &bidErr) {
		return bidErr.Minimum, true
	}
	return decimal.Decimal{}, false
}
