package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-core/internal/biddingerrors"
	model "auction-core/internal/models"
	"auction-core/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const auctionColumns = `id, title, status, starting_price, current_price, reserve_price, bid_increment,
start_time, end_time, winner_id, winning_bid, payment_status, collection_status, created_at, updated_at`

const bidColumns = `id, seq, auction_id, bidder_id, amount, auto_bid_max, is_winning_bid, is_proxy_bid,
COALESCE(idempotency_key, ''), created_at`

// AuctionRepository is the Postgres-backed AuctionDB
type AuctionRepository struct {
	pool *pgxpool.Pool
}

var _ repository.AuctionDB = (*AuctionRepository)(nil)

func NewAuctionRepository(pool *pgxpool.Pool) *AuctionRepository {
	return &AuctionRepository{pool: pool}
}

func (r *AuctionRepository) CreateAuction(ctx context.Context, a model.Auction) error {
	const stmt = `
INSERT INTO auctions (id, title, status, starting_price, current_price, reserve_price, bid_increment,
	start_time, end_time, payment_status, collection_status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.exec(ctx, stmt,
		a.AuctionID,
		a.Title,
		a.Status,
		a.StartingPrice,
		a.CurrentPrice,
		nullDecimal(a.ReservePrice),
		a.BidIncrement,
		a.StartTime,
		a.EndTime,
		a.PaymentStatus,
		a.CollectionStatus,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create auction %s: %w", a.AuctionID, biddingerrors.ErrAuctionExists)
		}
		return fmt.Errorf("create auction: %w", err)
	}
	return nil
}

func (r *AuctionRepository) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`
	a, err := scanAuction(r.queryRow(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
		}
		return model.Auction{}, fmt.Errorf("get auction: %w", err)
	}
	return a, nil
}

func (r *AuctionRepository) ListDueAuctions(ctx context.Context, now time.Time, limit int) ([]model.Auction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + auctionColumns + ` FROM auctions
WHERE (status = 'pending' AND start_time <= $1) OR (status = 'active' AND end_time <= $1)
ORDER BY end_time
LIMIT $2`

	rows, err := r.query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due auctions: %w", err)
	}
	defer rows.Close()

	var auctions []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

func (r *AuctionRepository) GetAuctionsByBidder(ctx context.Context, bidderID string) ([]model.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions a
WHERE EXISTS (SELECT 1 FROM bids b WHERE b.auction_id = a.id AND b.bidder_id = $1)
ORDER BY a.created_at`

	rows, err := r.query(ctx, query, bidderID)
	if err != nil {
		return nil, fmt.Errorf("get auctions for user %s: %w", bidderID, err)
	}
	defer rows.Close()

	var auctions []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(auctions) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", bidderID, biddingerrors.ErrUserNoBids)
	}
	return auctions, nil
}

// CommitBid performs the compare-and-set price update and the ledger writes in
// one transaction. The UPDATE takes the row lock, so a concurrent commit from
// the same snapshot waits, re-evaluates the predicate and affects no rows.
func (r *AuctionRepository) CommitBid(ctx context.Context, commit repository.BidCommit) ([]model.Bid, error) {
	committed := make([]model.Bid, 0, len(commit.Bids))

	err := withTx(ctx, r.pool, func(txCtx context.Context) error {
		const casStmt = `
UPDATE auctions SET current_price = $3, updated_at = $4
WHERE id = $1 AND current_price = $2 AND status = 'active'`

		tag, err := r.exec(txCtx, casStmt, commit.AuctionID, commit.ExpectedPrice, commit.NewPrice, commit.CommittedAt)
		if err != nil {
			return fmt.Errorf("update current price: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if _, err := r.GetAuction(txCtx, commit.AuctionID); err != nil {
				return err
			}
			return fmt.Errorf("commit bid on auction %s: %w", commit.AuctionID, biddingerrors.ErrPriceChanged)
		}

		const clearStmt = `UPDATE bids SET is_winning_bid = FALSE WHERE auction_id = $1 AND is_winning_bid`
		if _, err := r.exec(txCtx, clearStmt, commit.AuctionID); err != nil {
			return fmt.Errorf("clear winning flag: %w", err)
		}

		const insertStmt = `
INSERT INTO bids (id, auction_id, bidder_id, amount, auto_bid_max, is_winning_bid, is_proxy_bid, idempotency_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
RETURNING seq`

		for _, b := range commit.Bids {
			b.IsWinningBid = b.BidID == commit.WinningBidID
			err := r.queryRow(txCtx, insertStmt,
				b.BidID,
				b.AuctionID,
				b.BidderID,
				b.Amount,
				nullDecimal(b.AutoBidMax),
				b.IsWinningBid,
				b.IsProxyBid,
				b.IdempotencyKey,
				b.CreatedAt,
			).Scan(&b.Seq)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("insert bid %s: %w", b.BidID, biddingerrors.ErrDuplicateBid)
				}
				return fmt.Errorf("insert bid: %w", err)
			}
			committed = append(committed, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func (r *AuctionRepository) WithAuctionLock(ctx context.Context, auctionID string, fn func(ctx context.Context, auction *model.Auction) error) error {
	return withTx(ctx, r.pool, func(txCtx context.Context) error {
		query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1 FOR UPDATE`
		locked, err := scanAuction(r.queryRow(txCtx, query, auctionID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("lock auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
			}
			return fmt.Errorf("lock auction: %w", err)
		}

		working := locked
		if err := fn(txCtx, &working); err != nil {
			return err
		}
		if sameLifecycleState(locked, working) {
			return nil
		}

		const stmt = `
UPDATE auctions SET status = $2, winner_id = $3, winning_bid = $4, payment_status = $5,
	collection_status = $6, updated_at = $7
WHERE id = $1`
		_, err = r.exec(txCtx, stmt,
			auctionID,
			working.Status,
			working.WinnerID,
			nullDecimal(working.WinningBid),
			working.PaymentStatus,
			working.CollectionStatus,
			working.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update auction %s: %w", auctionID, err)
		}
		return nil
	})
}

func (r *AuctionRepository) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if _, err := r.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}

	query := `SELECT ` + bidColumns + ` FROM bids WHERE auction_id = $1 ORDER BY amount DESC, created_at ASC, seq ASC`
	rows, err := r.query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	bids := make([]model.Bid, 0)
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (r *AuctionRepository) GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE auction_id = $1 AND is_winning_bid`
	b, err := scanBid(r.queryRow(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, err := r.GetAuction(ctx, auctionID); err != nil {
				return model.Bid{}, err
			}
			return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
		}
		return model.Bid{}, fmt.Errorf("get winning bid: %w", err)
	}
	return b, nil
}

func (r *AuctionRepository) FindBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (model.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids
WHERE auction_id = $1 AND bidder_id = $2 AND amount = $3
ORDER BY seq DESC
LIMIT 1`
	b, err := scanBid(r.queryRow(ctx, query, auctionID, bidderID, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Bid{}, fmt.Errorf("find bid on auction %s by %s: %w", auctionID, bidderID, biddingerrors.ErrBidNotFound)
		}
		return model.Bid{}, fmt.Errorf("find bid: %w", err)
	}
	return b, nil
}

func (r *AuctionRepository) FindBidByIdempotencyKey(ctx context.Context, auctionID, bidderID, key string) (model.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE auction_id = $1 AND bidder_id = $2 AND idempotency_key = $3`
	b, err := scanBid(r.queryRow(ctx, query, auctionID, bidderID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Bid{}, fmt.Errorf("find bid on auction %s by key: %w", auctionID, biddingerrors.ErrBidNotFound)
		}
		return model.Bid{}, fmt.Errorf("find bid by idempotency key: %w", err)
	}
	return b, nil
}

func (r *AuctionRepository) MarkWinningBid(ctx context.Context, auctionID, bidID string) error {
	return withTx(ctx, r.pool, func(txCtx context.Context) error {
		var exists bool
		if err := r.queryRow(txCtx, `SELECT EXISTS (SELECT 1 FROM bids WHERE id = $1 AND auction_id = $2)`, bidID, auctionID).Scan(&exists); err != nil {
			return fmt.Errorf("check bid: %w", err)
		}
		if !exists {
			return fmt.Errorf("mark winning bid %s: %w", bidID, biddingerrors.ErrBidNotFound)
		}
		if _, err := r.exec(txCtx, `UPDATE bids SET is_winning_bid = FALSE WHERE auction_id = $1 AND is_winning_bid AND id <> $2`, auctionID, bidID); err != nil {
			return fmt.Errorf("clear winning flag: %w", err)
		}
		if _, err := r.exec(txCtx, `UPDATE bids SET is_winning_bid = TRUE WHERE id = $1`, bidID); err != nil {
			return fmt.Errorf("set winning flag: %w", err)
		}
		return nil
	})
}

func sameLifecycleState(a, b model.Auction) bool {
	return a.Status == b.Status &&
		equalStrings(a.WinnerID, b.WinnerID) &&
		equalDecimals(a.WinningBid, b.WinningBid) &&
		a.PaymentStatus == b.PaymentStatus &&
		a.CollectionStatus == b.CollectionStatus
}

func equalStrings(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalDecimals(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func scanAuction(row pgx.Row) (model.Auction, error) {
	var (
		a       model.Auction
		reserve decimal.NullDecimal
		winning decimal.NullDecimal
	)
	err := row.Scan(
		&a.AuctionID,
		&a.Title,
		&a.Status,
		&a.StartingPrice,
		&a.CurrentPrice,
		&reserve,
		&a.BidIncrement,
		&a.StartTime,
		&a.EndTime,
		&a.WinnerID,
		&winning,
		&a.PaymentStatus,
		&a.CollectionStatus,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return model.Auction{}, err
	}
	a.ReservePrice = fromNullDecimal(reserve)
	a.WinningBid = fromNullDecimal(winning)
	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.EndTime.UTC()
	return a, nil
}

func scanBid(row pgx.Row) (model.Bid, error) {
	var (
		b       model.Bid
		autoMax decimal.NullDecimal
	)
	err := row.Scan(
		&b.BidID,
		&b.Seq,
		&b.AuctionID,
		&b.BidderID,
		&b.Amount,
		&autoMax,
		&b.IsWinningBid,
		&b.IsProxyBid,
		&b.IdempotencyKey,
		&b.CreatedAt,
	)
	if err != nil {
		return model.Bid{}, err
	}
	b.AutoBidMax = fromNullDecimal(autoMax)
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

func (r *AuctionRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *AuctionRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}

func (r *AuctionRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}
