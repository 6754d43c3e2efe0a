package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"auction-core/internal/biddingerrors"
	model "auction-core/internal/models"

	"github.com/shopspring/decimal"
)

// auctionEntry holds one auction and its ledger. Its mutex is the per-auction
// row lock; no operation takes more than one entry lock at a time.
type auctionEntry struct {
	id      string
	mu      sync.Mutex
	auction model.Auction
	bids    []model.Bid
	idem    map[string]int // bidderID + key -> index into bids
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB.
// Distinct auctions never contend on the same lock.
type MemoryRepo struct {
	mu       sync.RWMutex // guards the auctions map only
	auctions map[string]*auctionEntry

	indexMu        sync.Mutex
	bidderAuctions map[string][]string // key: bidderID -> auctionIDs in first-bid order

	seq atomic.Int64
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions:       make(map[string]*auctionEntry),
		bidderAuctions: make(map[string][]string),
	}
}

type heldLockKey struct{}

func withHeldLock(ctx context.Context, auctionID string) context.Context {
	return context.WithValue(ctx, heldLockKey{}, auctionID)
}

func holdsLock(ctx context.Context, auctionID string) bool {
	id, _ := ctx.Value(heldLockKey{}).(string)
	return id != "" && id == auctionID
}

// lock acquires the entry unless ctx already holds it
func (e *auctionEntry) lock(ctx context.Context) func() {
	if holdsLock(ctx, e.id) {
		return func() {}
	}
	e.mu.Lock()
	return e.mu.Unlock
}

func (r *MemoryRepo) entry(auctionID string) (*auctionEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.auctions[auctionID]
	if !ok {
		return nil, biddingerrors.ErrAuctionNotFound
	}
	return e, nil
}

// CreateAuction stores a new auction
func (r *MemoryRepo) CreateAuction(_ context.Context, auction model.Auction) error {
	if auction.AuctionID == "" {
		return fmt.Errorf("create auction: %w", biddingerrors.ErrInvalidAuction)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[auction.AuctionID]; ok {
		return fmt.Errorf("create auction %s: %w", auction.AuctionID, biddingerrors.ErrAuctionExists)
	}
	r.auctions[auction.AuctionID] = &auctionEntry{
		id:      auction.AuctionID,
		auction: auction,
		idem:    make(map[string]int),
	}
	return nil
}

// GetAuction returns a snapshot of the auction
func (r *MemoryRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	e, err := r.entry(auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, err)
	}
	unlock := e.lock(ctx)
	defer unlock()
	return e.auction, nil
}

// ListDueAuctions returns auctions that need a lifecycle transition at now
func (r *MemoryRepo) ListDueAuctions(_ context.Context, now time.Time, limit int) ([]model.Auction, error) {
	r.mu.RLock()
	entries := make([]*auctionEntry, 0, len(r.auctions))
	for _, e := range r.auctions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	due := make([]model.Auction, 0)
	for _, e := range entries {
		e.mu.Lock()
		a := e.auction
		e.mu.Unlock()

		switch {
		case a.Status == model.AuctionStatusPending && !now.Before(a.StartTime):
			due = append(due, a)
		case a.Status == model.AuctionStatusActive && !now.Before(a.EndTime):
			due = append(due, a)
		}
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}

// GetAuctionsByBidder returns all auctions a user has bid on
func (r *MemoryRepo) GetAuctionsByBidder(ctx context.Context, bidderID string) ([]model.Auction, error) {
	r.indexMu.Lock()
	ids := append([]string(nil), r.bidderAuctions[bidderID]...)
	r.indexMu.Unlock()

	if len(ids) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", bidderID, biddingerrors.ErrUserNoBids)
	}

	auctions := make([]model.Auction, 0, len(ids))
	for _, id := range ids {
		a, err := r.GetAuction(ctx, id)
		if err != nil {
			continue
		}
		auctions = append(auctions, a)
	}
	return auctions, nil
}

// CommitBid applies a bid commit if the auction is unchanged since it was read
func (r *MemoryRepo) CommitBid(ctx context.Context, commit BidCommit) ([]model.Bid, error) {
	e, err := r.entry(commit.AuctionID)
	if err != nil {
		return nil, fmt.Errorf("commit bid on auction %s: %w", commit.AuctionID, err)
	}

	unlock := e.lock(ctx)
	defer unlock()

	// a caller that gave up while waiting must not have its bid applied
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if e.auction.Status != model.AuctionStatusActive || !e.auction.CurrentPrice.Equal(commit.ExpectedPrice) {
		return nil, fmt.Errorf("commit bid on auction %s: %w", commit.AuctionID, biddingerrors.ErrPriceChanged)
	}
	for _, b := range commit.Bids {
		if b.IdempotencyKey == "" {
			continue
		}
		if _, ok := e.idem[idemKey(b.BidderID, b.IdempotencyKey)]; ok {
			return nil, fmt.Errorf("commit bid on auction %s: %w", commit.AuctionID, biddingerrors.ErrDuplicateBid)
		}
	}

	for i := range e.bids {
		if e.bids[i].IsWinningBid {
			e.bids[i].IsWinningBid = false
		}
	}

	committed := make([]model.Bid, 0, len(commit.Bids))
	for _, b := range commit.Bids {
		b.Seq = r.seq.Add(1)
		b.IsWinningBid = b.BidID == commit.WinningBidID
		if b.IdempotencyKey != "" {
			e.idem[idemKey(b.BidderID, b.IdempotencyKey)] = len(e.bids)
		}
		e.bids = append(e.bids, b)
		committed = append(committed, b)
	}

	e.auction.CurrentPrice = commit.NewPrice
	e.auction.UpdatedAt = commit.CommittedAt

	r.indexBidders(commit.AuctionID, commit.Bids)
	return committed, nil
}

func (r *MemoryRepo) indexBidders(auctionID string, bids []model.Bid) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	for _, b := range bids {
		seen := false
		for _, id := range r.bidderAuctions[b.BidderID] {
			if id == auctionID {
				seen = true
				break
			}
		}
		if !seen {
			r.bidderAuctions[b.BidderID] = append(r.bidderAuctions[b.BidderID], auctionID)
		}
	}
}

// WithAuctionLock runs fn with exclusive access to the auction and its ledger
func (r *MemoryRepo) WithAuctionLock(ctx context.Context, auctionID string, fn func(ctx context.Context, auction *model.Auction) error) error {
	e, err := r.entry(auctionID)
	if err != nil {
		return fmt.Errorf("lock auction %s: %w", auctionID, err)
	}

	unlock := e.lock(ctx)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := e.auction
	savedFlags := winningFlags(e.bids)
	if err := fn(withHeldLock(ctx, auctionID), &working); err != nil {
		restoreFlags(e.bids, savedFlags)
		return err
	}

	// price and identity are owned by the bid path and creation
	working.AuctionID = e.auction.AuctionID
	working.CurrentPrice = e.auction.CurrentPrice
	e.auction = working
	return nil
}

func winningFlags(bids []model.Bid) []bool {
	flags := make([]bool, len(bids))
	for i, b := range bids {
		flags[i] = b.IsWinningBid
	}
	return flags
}

func restoreFlags(bids []model.Bid, flags []bool) {
	for i := range flags {
		bids[i].IsWinningBid = flags[i]
	}
}

// GetBidsByAuction returns the ledger ordered by amount desc, time asc
func (r *MemoryRepo) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	e, err := r.entry(auctionID)
	if err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	unlock := e.lock(ctx)
	bids := append([]model.Bid(nil), e.bids...)
	unlock()

	SortLedger(bids)
	return bids, nil
}

// GetWinningBid returns the bid currently flagged as winning
func (r *MemoryRepo) GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error) {
	e, err := r.entry(auctionID)
	if err != nil {
		return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, err)
	}
	unlock := e.lock(ctx)
	defer unlock()

	for _, b := range e.bids {
		if b.IsWinningBid {
			return b, nil
		}
	}
	return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
}

// FindBid returns the latest ledger entry matching bidder and amount
func (r *MemoryRepo) FindBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (model.Bid, error) {
	e, err := r.entry(auctionID)
	if err != nil {
		return model.Bid{}, fmt.Errorf("find bid on auction %s: %w", auctionID, err)
	}
	unlock := e.lock(ctx)
	defer unlock()

	for i := len(e.bids) - 1; i >= 0; i-- {
		b := e.bids[i]
		if b.BidderID == bidderID && b.Amount.Equal(amount) {
			return b, nil
		}
	}
	return model.Bid{}, fmt.Errorf("find bid on auction %s by %s: %w", auctionID, bidderID, biddingerrors.ErrBidNotFound)
}

// FindBidByIdempotencyKey returns the bid recorded under a client key
func (r *MemoryRepo) FindBidByIdempotencyKey(ctx context.Context, auctionID, bidderID, key string) (model.Bid, error) {
	e, err := r.entry(auctionID)
	if err != nil {
		return model.Bid{}, fmt.Errorf("find bid on auction %s: %w", auctionID, err)
	}
	unlock := e.lock(ctx)
	defer unlock()

	idx, ok := e.idem[idemKey(bidderID, key)]
	if !ok {
		return model.Bid{}, fmt.Errorf("find bid on auction %s by key: %w", auctionID, biddingerrors.ErrBidNotFound)
	}
	return e.bids[idx], nil
}

// MarkWinningBid moves the winning flag to bidID
func (r *MemoryRepo) MarkWinningBid(ctx context.Context, auctionID, bidID string) error {
	e, err := r.entry(auctionID)
	if err != nil {
		return fmt.Errorf("mark winning bid on auction %s: %w", auctionID, err)
	}
	unlock := e.lock(ctx)
	defer unlock()

	found := false
	for _, b := range e.bids {
		if b.BidID == bidID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("mark winning bid %s: %w", bidID, biddingerrors.ErrBidNotFound)
	}
	for i := range e.bids {
		e.bids[i].IsWinningBid = e.bids[i].BidID == bidID
	}
	return nil
}

// AddAuction adds an auction to the repository. This method is intended for tests and seeding.
func (r *MemoryRepo) AddAuction(auction model.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions[auction.AuctionID] = &auctionEntry{
		id:      auction.AuctionID,
		auction: auction,
		idem:    make(map[string]int),
	}
}

func idemKey(bidderID, key string) string {
	return bidderID + "\x00" + key
}
