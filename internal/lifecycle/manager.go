package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-core/internal/biddingerrors"
	"auction-core/internal/clock"
	"auction-core/internal/identity"
	"auction-core/internal/models"
	"auction-core/internal/notifier"
	"auction-core/internal/repository"
	"auction-core/utils"

	"github.com/shopspring/decimal"
)

// Manager drives auctions through pending -> active -> completed|cancelled
// and determines their winner.
type Manager struct {
	repo     repository.AuctionDB
	clock    clock.Clock
	notifier notifier.Notifier
	identity identity.Directory
}

// NewManager creates a new lifecycle Manager
func NewManager(repo repository.AuctionDB, clk clock.Clock, n notifier.Notifier, dir identity.Directory) *Manager {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if n == nil {
		n = notifier.Discard{}
	}
	if dir == nil {
		dir = identity.AcceptAll()
	}
	return &Manager{repo: repo, clock: clk, notifier: n, identity: dir}
}

// CreateAuctionInput describes a new auction. An empty AuctionID is generated.
type CreateAuctionInput struct {
	AuctionID     string
	Title         string
	StartingPrice decimal.Decimal
	ReservePrice  *decimal.Decimal
	BidIncrement  decimal.Decimal
	StartTime     time.Time
	EndTime       time.Time
}

// SettlementUpdate sets post-sale statuses; nil fields are left unchanged
type SettlementUpdate struct {
	PaymentStatus    *models.PaymentStatus
	CollectionStatus *models.CollectionStatus
}

// CreateAuction validates and stores a new auction. It opens immediately when
// its start time has already passed.
func (m *Manager) CreateAuction(ctx context.Context, in CreateAuctionInput) (models.Auction, error) {
	now := m.clock.Now()
	if err := validateCreate(in, now); err != nil {
		return models.Auction{}, err
	}

	id := in.AuctionID
	if id == "" {
		id = utils.GenerateID()
	}
	status := models.AuctionStatusPending
	if !now.Before(in.StartTime) {
		status = models.AuctionStatusActive
	}

	auction := models.Auction{
		AuctionID:        id,
		Title:            in.Title,
		Status:           status,
		StartingPrice:    in.StartingPrice,
		CurrentPrice:     in.StartingPrice,
		ReservePrice:     in.ReservePrice,
		BidIncrement:     in.BidIncrement,
		StartTime:        in.StartTime.UTC(),
		EndTime:          in.EndTime.UTC(),
		PaymentStatus:    models.PaymentStatusPending,
		CollectionStatus: models.CollectionStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.repo.CreateAuction(ctx, auction); err != nil {
		return models.Auction{}, fmt.Errorf("lifecycle: failed to create auction %s: %w", id, err)
	}

	utils.Info("Auction created", map[string]any{
		"auction_id": id,
		"status":     status,
		"start_time": auction.StartTime,
		"end_time":   auction.EndTime,
	})
	return auction, nil
}

func validateCreate(in CreateAuctionInput, now time.Time) error {
	switch {
	case in.StartingPrice.IsNegative():
		return fmt.Errorf("lifecycle: %w - negative starting price", biddingerrors.ErrInvalidAuction)
	case !in.BidIncrement.IsPositive():
		return fmt.Errorf("lifecycle: %w - bid increment must be positive", biddingerrors.ErrInvalidAuction)
	case !models.IsMoney(in.StartingPrice) || !models.IsMoney(in.BidIncrement):
		return fmt.Errorf("lifecycle: %w - prices carry at most two decimal places", biddingerrors.ErrInvalidAuction)
	case in.ReservePrice != nil && (in.ReservePrice.IsNegative() || !models.IsMoney(*in.ReservePrice)):
		return fmt.Errorf("lifecycle: %w - invalid reserve price", biddingerrors.ErrInvalidAuction)
	case in.StartTime.IsZero() || in.EndTime.IsZero():
		return fmt.Errorf("lifecycle: %w - start and end time are required", biddingerrors.ErrInvalidAuction)
	case !in.EndTime.After(in.StartTime):
		return fmt.Errorf("lifecycle: %w - end time must be after start time", biddingerrors.ErrInvalidAuction)
	case !in.EndTime.After(now):
		return fmt.Errorf("lifecycle: %w - end time already passed", biddingerrors.ErrInvalidAuction)
	}
	return nil
}

// GetAuction returns an auction's current state
func (m *Manager) GetAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	a, err := m.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("lifecycle: failed to get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// Activate opens a pending auction whose start time has passed. Activating an
// active auction is a no-op.
func (m *Manager) Activate(ctx context.Context, auctionID string) (models.Auction, error) {
	var result models.Auction
	err := m.repo.WithAuctionLock(ctx, auctionID, func(ctx context.Context, a *models.Auction) error {
		now := m.clock.Now()
		switch a.Status {
		case models.AuctionStatusActive:
		case models.AuctionStatusPending:
			if now.Before(a.StartTime) {
				return fmt.Errorf("%w - auction starts at %s", biddingerrors.ErrInvalidTransition, a.StartTime.Format(time.RFC3339))
			}
			a.Status = models.AuctionStatusActive
			a.UpdatedAt = now
		default:
			return fmt.Errorf("%w - auction is %s", biddingerrors.ErrInvalidTransition, a.Status)
		}
		result = *a
		return nil
	})
	if err != nil {
		return models.Auction{}, fmt.Errorf("lifecycle: failed to activate auction %s: %w", auctionID, err)
	}
	return result, nil
}

// Cancel is the administrative override ending an auction without a sale.
// Cancelling a cancelled auction is a no-op; a completed auction cannot be cancelled.
func (m *Manager) Cancel(ctx context.Context, auctionID string) (models.Auction, error) {
	var result models.Auction
	err := m.repo.WithAuctionLock(ctx, auctionID, func(ctx context.Context, a *models.Auction) error {
		switch a.Status {
		case models.AuctionStatusCancelled:
		case models.AuctionStatusCompleted:
			return fmt.Errorf("%w - auction already completed", biddingerrors.ErrInvalidTransition)
		default:
			a.Status = models.AuctionStatusCancelled
			a.UpdatedAt = m.clock.Now()
			utils.Info("Auction cancelled", map[string]any{"auction_id": a.AuctionID})
		}
		result = *a
		return nil
	})
	if err != nil {
		return models.Auction{}, fmt.Errorf("lifecycle: failed to cancel auction %s: %w", auctionID, err)
	}
	return result, nil
}

// FinalizeWinner completes an ended auction from its winning bid. It is
// idempotent: finalizing a completed auction returns it unchanged and sends
// nothing.
func (m *Manager) FinalizeWinner(ctx context.Context, auctionID string) (models.Auction, error) {
	return m.finalize(ctx, auctionID, false)
}

// CloseEarly finalizes an active auction before its end time
func (m *Manager) CloseEarly(ctx context.Context, auctionID string) (models.Auction, error) {
	return m.finalize(ctx, auctionID, true)
}

func (m *Manager) finalize(ctx context.Context, auctionID string, early bool) (models.Auction, error) {
	var (
		result models.Auction
		won    *models.Notification
	)
	err := m.repo.WithAuctionLock(ctx, auctionID, func(ctx context.Context, a *models.Auction) error {
		switch a.Status {
		case models.AuctionStatusCompleted:
			result = *a
			return nil
		case models.AuctionStatusActive:
		default:
			return fmt.Errorf("%w - auction is %s", biddingerrors.ErrInvalidTransition, a.Status)
		}

		now := m.clock.Now()
		if !early && now.Before(a.EndTime) {
			return fmt.Errorf("%w - ends at %s", biddingerrors.ErrAuctionNotEnded, a.EndTime.Format(time.RFC3339))
		}

		winning, err := m.repo.GetWinningBid(ctx, auctionID)
		hasBid := true
		if err != nil {
			if !errors.Is(err, biddingerrors.ErrNoBids) {
				return err
			}
			hasBid = false
		}

		a.Status = models.AuctionStatusCompleted
		a.UpdatedAt = now

		switch {
		case !hasBid:
			utils.Info("Auction closed without bids", map[string]any{"auction_id": auctionID})
		case a.ReservePrice != nil && winning.Amount.LessThan(*a.ReservePrice):
			utils.Info("Auction closed unsold, reserve not met", map[string]any{
				"auction_id":  auctionID,
				"highest_bid": winning.Amount.StringFixed(2),
				"reserve":     a.ReservePrice.StringFixed(2),
			})
		default:
			winnerID := winning.BidderID
			amount := winning.Amount
			a.WinnerID = &winnerID
			a.WinningBid = &amount
			n := wonNotification(auctionID, winnerID, amount, now)
			won = &n
			utils.Info("Auction finalized", map[string]any{
				"auction_id":  auctionID,
				"winner_id":   winnerID,
				"winning_bid": amount.StringFixed(2),
				"early":       early,
			})
		}

		result = *a
		return nil
	})
	if err != nil {
		return models.Auction{}, fmt.Errorf("lifecycle: failed to finalize auction %s: %w", auctionID, err)
	}

	if won != nil {
		m.notifier.Notify(*won)
	}
	return result, nil
}

// ApproveWinner records an administrator-confirmed winner. The claimed
// (winner, amount) pair must match a bid in the ledger.
func (m *Manager) ApproveWinner(ctx context.Context, auctionID, winnerID string, amount decimal.Decimal) (models.Auction, error) {
	if winnerID == "" || !amount.IsPositive() {
		return models.Auction{}, fmt.Errorf("lifecycle: %w - winner and positive amount required", biddingerrors.ErrInvalidBid)
	}

	ok, err := m.identity.Exists(ctx, winnerID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("lifecycle: failed to look up winner %s: %w", winnerID, err)
	}
	if !ok {
		return models.Auction{}, fmt.Errorf("lifecycle: %w - %s", biddingerrors.ErrBidderNotFound, winnerID)
	}

	var (
		result models.Auction
		won    *models.Notification
	)
	err = m.repo.WithAuctionLock(ctx, auctionID, func(ctx context.Context, a *models.Auction) error {
		if a.Status != models.AuctionStatusActive && a.Status != models.AuctionStatusCompleted {
			return fmt.Errorf("%w - auction is %s", biddingerrors.ErrInvalidTransition, a.Status)
		}

		bid, err := m.repo.FindBid(ctx, auctionID, winnerID, amount)
		if err != nil {
			if errors.Is(err, biddingerrors.ErrBidNotFound) {
				return fmt.Errorf("%w - no bid of %s by %s", biddingerrors.ErrBidMismatch, amount.StringFixed(2), winnerID)
			}
			return err
		}
		if err := m.repo.MarkWinningBid(ctx, auctionID, bid.BidID); err != nil {
			return err
		}

		now := m.clock.Now()
		changed := a.WinnerID == nil || *a.WinnerID != winnerID || a.WinningBid == nil || !a.WinningBid.Equal(bid.Amount)

		a.WinnerID = &bid.BidderID
		a.WinningBid = &bid.Amount
		a.Status = models.AuctionStatusCompleted
		a.UpdatedAt = now

		if changed {
			n := wonNotification(auctionID, winnerID, bid.Amount, now)
			won = &n
		}
		result = *a
		return nil
	})
	if err != nil {
		return models.Auction{}, fmt.Errorf("lifecycle: failed to approve winner for auction %s: %w", auctionID, err)
	}

	utils.Info("Winner approved", map[string]any{
		"auction_id":  auctionID,
		"winner_id":   winnerID,
		"winning_bid": amount.StringFixed(2),
	})
	if won != nil {
		m.notifier.Notify(*won)
	}
	return result, nil
}

// UpdateSettlement records payment and collection progress on a sold auction
func (m *Manager) UpdateSettlement(ctx context.Context, auctionID string, upd SettlementUpdate) (models.Auction, error) {
	if upd.PaymentStatus != nil && !validPayment(*upd.PaymentStatus) {
		return models.Auction{}, fmt.Errorf("lifecycle: %w - unknown payment status %q", biddingerrors.ErrInvalidSettlement, *upd.PaymentStatus)
	}
	if upd.CollectionStatus != nil && !validCollection(*upd.CollectionStatus) {
		return models.Auction{}, fmt.Errorf("lifecycle: %w - unknown collection status %q", biddingerrors.ErrInvalidSettlement, *upd.CollectionStatus)
	}

	var result models.Auction
	err := m.repo.WithAuctionLock(ctx, auctionID, func(ctx context.Context, a *models.Auction) error {
		if a.Status != models.AuctionStatusCompleted || a.WinnerID == nil {
			return fmt.Errorf("%w - auction has no sale to settle", biddingerrors.ErrInvalidSettlement)
		}
		payment, collection := a.PaymentStatus, a.CollectionStatus
		if upd.PaymentStatus != nil {
			payment = *upd.PaymentStatus
		}
		if upd.CollectionStatus != nil {
			collection = *upd.CollectionStatus
		}
		if collection == models.CollectionStatusCollected && payment != models.PaymentStatusPaid {
			return fmt.Errorf("%w - item cannot be collected before payment", biddingerrors.ErrInvalidSettlement)
		}
		a.PaymentStatus = payment
		a.CollectionStatus = collection
		a.UpdatedAt = m.clock.Now()
		result = *a
		return nil
	})
	if err != nil {
		return models.Auction{}, fmt.Errorf("lifecycle: failed to update settlement for auction %s: %w", auctionID, err)
	}
	return result, nil
}

func validPayment(s models.PaymentStatus) bool {
	switch s {
	case models.PaymentStatusPending, models.PaymentStatusPaid, models.PaymentStatusFailed:
		return true
	}
	return false
}

func validCollection(s models.CollectionStatus) bool {
	return s == models.CollectionStatusPending || s == models.CollectionStatusCollected
}

func wonNotification(auctionID, winnerID string, amount decimal.Decimal, at time.Time) models.Notification {
	return notifier.New(
		winnerID,
		auctionID,
		models.NotificationWon,
		fmt.Sprintf("Congratulations! You won auction %s with a bid of %s.", auctionID, amount.StringFixed(2)),
		at,
	)
}
