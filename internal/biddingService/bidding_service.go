package bidding

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

// maxCommitAttempts bounds the compare-and-set loop: the first attempt plus one re-validated retry
const maxCommitAttempts = 2

// Options configures the bid acceptor
type Options struct {
	// BidTimeout bounds a single PlaceBid call, including waiting for the auction row.
	BidTimeout time.Duration
}

// BiddingService defines the business logic for auction bidding
type BiddingService struct {
	repo     repository.AuctionDB
	clock    clock.Clock
	notifier notifier.Notifier
	identity identity.Directory
	opts     Options
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, clk clock.Clock, n notifier.Notifier, dir identity.Directory, opts Options) *BiddingService {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if n == nil {
		n = notifier.Discard{}
	}
	if dir == nil {
		dir = identity.AcceptAll()
	}
	return &BiddingService{
		repo:     repo,
		clock:    clk,
		notifier: n,
		identity: dir,
		opts:     opts,
	}
}

// PlaceBidInput is a single bid submission
type PlaceBidInput struct {
	AuctionID      string
	BidderID       string
	Amount         decimal.Decimal
	AutoBidMax     *decimal.Decimal
	IdempotencyKey string
}

// PlaceBidResult describes the committed bid and the auction state it produced
type PlaceBidResult struct {
	Bid          models.Bid // the caller's bid as recorded
	Winning      models.Bid // the auction's winning bid after the commit
	CurrentPrice decimal.Decimal
	MinimumBid   decimal.Decimal
	Replayed     bool // the idempotency key matched an earlier submission
}

// Outbid reports whether the caller's bid was recorded but is not winning
func (r PlaceBidResult) Outbid() bool {
	return !r.Winning.IsWinningBid || r.Winning.BidderID != r.Bid.BidderID
}

// PlaceBid validates and atomically commits a bid. The commit only applies if
// the auction's current price is unchanged since validation; on a lost race
// the bid is re-validated and retried once before Conflict is returned.
func (s *BiddingService) PlaceBid(ctx context.Context, in PlaceBidInput) (PlaceBidResult, error) {
	if err := validateInput(in); err != nil {
		return PlaceBidResult{}, err
	}

	if s.opts.BidTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.BidTimeout)
		defer cancel()
	}

	if in.IdempotencyKey != "" {
		res, found, err := s.replay(ctx, in)
		if err != nil || found {
			return res, err
		}
	}

	var lastSeen models.Auction
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		auction, err := s.repo.GetAuction(ctx, in.AuctionID)
		if err != nil {
			return PlaceBidResult{}, fmt.Errorf("service: failed to load auction %s: %w", in.AuctionID, err)
		}
		lastSeen = auction

		if attempt == 0 {
			if err := s.checkBidder(ctx, in.BidderID); err != nil {
				return PlaceBidResult{}, err
			}
		}

		now := s.clock.Now()
		if !auction.AcceptsBidsAt(now) {
			return PlaceBidResult{}, fmt.Errorf("service: auction %s (%s): %w", in.AuctionID, auction.Status, biddingerrors.ErrAuctionClosed)
		}

		minimum := auction.MinimumBid()
		if in.Amount.LessThan(minimum) {
			if attempt > 0 {
				// the bid was valid against the price we first read but lost the race
				return PlaceBidResult{}, fmt.Errorf("service: %w", biddingerrors.NewConflict(auction.CurrentPrice, minimum))
			}
			return PlaceBidResult{}, fmt.Errorf("service: %w", biddingerrors.NewBidTooLow(auction.CurrentPrice, minimum))
		}

		var leader *models.Bid
		current, err := s.repo.GetWinningBid(ctx, in.AuctionID)
		switch {
		case err == nil:
			leader = &current
		case errors.Is(err, biddingerrors.ErrNoBids):
		default:
			return PlaceBidResult{}, fmt.Errorf("service: failed to check winning bid: %w", err)
		}

		plan := resolveBid(auction, leader, s.newBid(in, now), now)
		committed, err := s.repo.CommitBid(ctx, plan.commit)
		switch {
		case err == nil:
			res := s.accepted(auction, plan, committed)
			s.afterCommit(leader, res)
			return res, nil
		case errors.Is(err, biddingerrors.ErrPriceChanged):
			utils.Debug("Bid lost compare-and-set", map[string]any{
				"auction_id": in.AuctionID,
				"bidder_id":  in.BidderID,
				"attempt":    attempt + 1,
			})
			continue
		case errors.Is(err, biddingerrors.ErrDuplicateBid):
			// a concurrent retry with the same key committed first
			res, found, rerr := s.replay(ctx, in)
			if rerr != nil {
				return PlaceBidResult{}, rerr
			}
			if found {
				return res, nil
			}
			return PlaceBidResult{}, fmt.Errorf("service: failed to record bid: %w", err)
		default:
			return PlaceBidResult{}, fmt.Errorf("service: failed to record bid for auction %s by user %s: %w", in.AuctionID, in.BidderID, err)
		}
	}

	// both attempts lost the race; report the freshest minimum we can
	if latest, err := s.repo.GetAuction(ctx, in.AuctionID); err == nil {
		lastSeen = latest
	}
	return PlaceBidResult{}, fmt.Errorf("service: %w", biddingerrors.NewConflict(lastSeen.CurrentPrice, lastSeen.MinimumBid()))
}

func (s *BiddingService) checkBidder(ctx context.Context, bidderID string) error {
	ok, err := s.identity.Exists(ctx, bidderID)
	if err != nil {
		return fmt.Errorf("service: failed to look up bidder %s: %w", bidderID, err)
	}
	if !ok {
		return fmt.Errorf("service: %w - %s", biddingerrors.ErrBidderNotFound, bidderID)
	}
	return nil
}

func validateInput(in PlaceBidInput) error {
	if in.AuctionID == "" || in.BidderID == "" {
		return fmt.Errorf("service: %w - missing auctionID or bidderID", biddingerrors.ErrInvalidBid)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("service: %w - non-positive bid amount", biddingerrors.ErrInvalidBid)
	}
	if !models.IsMoney(in.Amount) {
		return fmt.Errorf("service: %w - amount has more than two decimal places", biddingerrors.ErrInvalidBid)
	}
	if in.AutoBidMax != nil {
		if in.AutoBidMax.LessThan(in.Amount) {
			return fmt.Errorf("service: %w - auto bid max below bid amount", biddingerrors.ErrInvalidBid)
		}
		if !models.IsMoney(*in.AutoBidMax) {
			return fmt.Errorf("service: %w - auto bid max has more than two decimal places", biddingerrors.ErrInvalidBid)
		}
	}
	return nil
}

func (s *BiddingService) newBid(in PlaceBidInput, now time.Time) models.Bid {
	return models.Bid{
		BidID:          utils.GenerateID(),
		AuctionID:      in.AuctionID,
		BidderID:       in.BidderID,
		Amount:         in.Amount,
		AutoBidMax:     in.AutoBidMax,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
	}
}

func (s *BiddingService) accepted(auction models.Auction, plan bidPlan, committed []models.Bid) PlaceBidResult {
	res := PlaceBidResult{
		CurrentPrice: plan.commit.NewPrice,
		MinimumBid:   plan.commit.NewPrice.Add(auction.BidIncrement),
	}
	for _, b := range committed {
		if b.BidID == plan.incoming {
			res.Bid = b
		}
		if b.IsWinningBid {
			res.Winning = b
		}
	}
	return res
}

// afterCommit runs once the commit is durable; nothing here may fail the bid
func (s *BiddingService) afterCommit(previous *models.Bid, res PlaceBidResult) {
	fields := map[string]any{
		"auction_id":    res.Bid.AuctionID,
		"bidder_id":     res.Bid.BidderID,
		"bid_id":        res.Bid.BidID,
		"amount":        res.Bid.Amount.StringFixed(2),
		"current_price": res.CurrentPrice.StringFixed(2),
		"winner_id":     res.Winning.BidderID,
	}
	if res.Outbid() {
		utils.Info("Bid recorded, outbid by proxy", fields)
	} else {
		utils.Info("Bid accepted", fields)
	}

	if previous == nil || previous.BidderID == res.Winning.BidderID {
		return
	}
	s.notifier.Notify(notifier.New(
		previous.BidderID,
		res.Bid.AuctionID,
		models.NotificationOutbid,
		fmt.Sprintf("You have been outbid on auction %s. Current price is %s.", res.Bid.AuctionID, res.CurrentPrice.StringFixed(2)),
		s.clock.Now(),
	))
}

// replay resolves a submission whose idempotency key may already be recorded
func (s *BiddingService) replay(ctx context.Context, in PlaceBidInput) (PlaceBidResult, bool, error) {
	prior, err := s.repo.FindBidByIdempotencyKey(ctx, in.AuctionID, in.BidderID, in.IdempotencyKey)
	if err != nil {
		if errors.Is(err, biddingerrors.ErrBidNotFound) {
			return PlaceBidResult{}, false, nil
		}
		return PlaceBidResult{}, false, fmt.Errorf("service: failed to check idempotency key: %w", err)
	}
	if !sameSubmission(prior, in) {
		return PlaceBidResult{}, false, fmt.Errorf("service: %w - key %s", biddingerrors.ErrIdempotencyConflict, in.IdempotencyKey)
	}

	auction, err := s.repo.GetAuction(ctx, in.AuctionID)
	if err != nil {
		return PlaceBidResult{}, false, fmt.Errorf("service: failed to load auction %s: %w", in.AuctionID, err)
	}
	res := PlaceBidResult{
		Bid:          prior,
		CurrentPrice: auction.CurrentPrice,
		MinimumBid:   auction.MinimumBid(),
		Replayed:     true,
	}
	if winning, err := s.repo.GetWinningBid(ctx, in.AuctionID); err == nil {
		res.Winning = winning
	}
	return res, true, nil
}

// sameSubmission reports whether prior was recorded from a request equal to in.
// A proxy bid may have been committed above the submitted amount, up to its ceiling.
func sameSubmission(prior models.Bid, in PlaceBidInput) bool {
	if (prior.AutoBidMax == nil) != (in.AutoBidMax == nil) {
		return false
	}
	if in.AutoBidMax == nil {
		return prior.Amount.Equal(in.Amount)
	}
	if !prior.AutoBidMax.Equal(*in.AutoBidMax) {
		return false
	}
	return !prior.Amount.LessThan(in.Amount) && !prior.Amount.GreaterThan(*in.AutoBidMax)
}

// GetAuction returns an auction's current state
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	if auctionID == "" {
		return models.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}

	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return auction, nil
}

// ListBids returns all bids for an auction, highest amount first, then earliest
func (s *BiddingService) ListBids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}

	bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}

	return bids, nil
}

// GetWinningBid returns the bid currently flagged as winning
func (s *BiddingService) GetWinningBid(ctx context.Context, auctionID string) (models.Bid, error) {
	if auctionID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}

	winningBid, err := s.repo.GetWinningBid(ctx, auctionID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to get winning bid for auction %s: %w", auctionID, err)
	}

	return winningBid, nil
}

// GetAuctionsByBidder returns all auctions a user has placed bids on
func (s *BiddingService) GetAuctionsByBidder(ctx context.Context, bidderID string) ([]models.Auction, error) {
	if bidderID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrInvalidBid)
	}

	auctions, err := s.repo.GetAuctionsByBidder(ctx, bidderID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auctions for user %s: %w", bidderID, err)
	}

	return auctions, nil
}
