package handler

import (
	"context"
	"errors"
	"net/http"

	bidding "auction-core/internal/biddingService"
	"auction-core/internal/biddingerrors"
	model "auction-core/internal/models"
	"auction-core/services/bidding/helpers"
	"auction-core/utils"

	"github.com/gin-gonic/gin"
)

// IdempotencyHeader carries the optional client key for POST /bids
const IdempotencyHeader = "Idempotency-Key"

type BiddingServiceInterface interface {
	PlaceBid(ctx context.Context, in bidding.PlaceBidInput) (bidding.PlaceBidResult, error)
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListBids(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error)
	GetAuctionsByBidder(ctx context.Context, bidderID string) ([]model.Auction, error)
}

type BiddingHandler struct {
	service BiddingServiceInterface
}

func NewBiddingHandler(service BiddingServiceInterface) *BiddingHandler {
	return &BiddingHandler{service: service}
}

// RecordBidHandler handles POST /bids
func (h *BiddingHandler) RecordBidHandler(c *gin.Context) {
	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "RecordBidHandler", err)
		return
	}
	if !req.Amount.IsPositive() {
		helpers.HandleBindError(c, "RecordBidHandler", errors.New("amount must be greater than zero"))
		return
	}

	res, err := h.service.PlaceBid(c.Request.Context(), bidding.PlaceBidInput{
		AuctionID:      req.AuctionID,
		BidderID:       req.BidderID,
		Amount:         req.Amount,
		AutoBidMax:     req.AutoBidMax,
		IdempotencyKey: c.GetHeader(IdempotencyHeader),
	})
	if err != nil {
		status, _ := helpers.RespondError(c, err)
		fields := map[string]any{
			"handler":    "RecordBidHandler",
			"auction_id": req.AuctionID,
			"bidder_id":  req.BidderID,
			"amount":     req.Amount.String(),
			"error":      err.Error(),
		}
		if status >= http.StatusInternalServerError {
			utils.Error("RecordBidHandler: failed to record bid", fields)
		} else {
			utils.Warn("RecordBidHandler: bid rejected", fields)
		}
		return
	}

	resp := helpers.PlaceBidResponse{
		BidResponse:     helpers.ToBidResponse(res.Bid),
		Outbid:          res.Outbid(),
		WinningBidderID: res.Winning.BidderID,
		CurrentPrice:    helpers.Money(res.CurrentPrice),
		MinimumBid:      helpers.Money(res.MinimumBid),
		Replayed:        res.Replayed,
	}

	status, message := http.StatusCreated, "bid recorded successfully"
	switch {
	case res.Replayed:
		status, message = http.StatusOK, "bid already recorded"
	case res.Outbid():
		message = "bid recorded but outbid by an automatic bid"
	}

	utils.JSONResponse(c, status, resp, message)
	helpers.LogSuccess("RecordBidHandler", message, map[string]any{
		"bid_id":        res.Bid.BidID,
		"auction_id":    res.Bid.AuctionID,
		"bidder_id":     res.Bid.BidderID,
		"amount":        res.Bid.Amount.String(),
		"current_price": res.CurrentPrice.String(),
		"outbid":        res.Outbid(),
	})
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	auction, err := h.service.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, err)
		utils.Warn("GetAuctionHandler: error retrieving auction", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponse(auction), "auction retrieved successfully")
	helpers.LogSuccess("GetAuctionHandler", "auction retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"status":     auction.Status,
	})
}

// GetBidsByAuctionHandler handles GET /auctions/:auction_id/bids
func (h *BiddingHandler) GetBidsByAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bids, err := h.service.ListBids(c.Request.Context(), auctionID)
	if err != nil && !errors.Is(err, biddingerrors.ErrNoBids) {
		helpers.RespondError(c, err)
		utils.Warn("GetBidsByAuctionHandler: error retrieving bids", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToBidResponses(bids), "bids retrieved successfully")
	helpers.LogSuccess("GetBidsByAuctionHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(bids),
	})
}

// GetWinningBidHandler handles GET /auctions/:auction_id/winning
func (h *BiddingHandler) GetWinningBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bid, err := h.service.GetWinningBid(c.Request.Context(), auctionID)
	if err != nil {
		if errors.Is(err, biddingerrors.ErrNoBids) {
			utils.JSONError(c, http.StatusNotFound, err, "no winning bid found")
			utils.Info("GetWinningBidHandler: no winning bid found", map[string]any{"auction_id": auctionID})
			return
		}
		helpers.RespondError(c, err)
		utils.Warn("GetWinningBidHandler: winning bid error", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToBidResponse(bid), "winning bid retrieved successfully")
	helpers.LogSuccess("GetWinningBidHandler", "winning bid retrieved successfully", map[string]any{
		"bid_id":     bid.BidID,
		"auction_id": bid.AuctionID,
		"bidder_id":  bid.BidderID,
		"amount":     bid.Amount.String(),
	})
}

// GetAuctionsByUserHandler handles GET /users/:user_id/auctions
func (h *BiddingHandler) GetAuctionsByUserHandler(c *gin.Context) {
	userID := c.Param("user_id")
	auctions, err := h.service.GetAuctionsByBidder(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, biddingerrors.ErrUserNoBids) {
		helpers.RespondError(c, err)
		utils.Error("GetAuctionsByUserHandler: error retrieving auctions", map[string]any{"user_id": userID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponses(auctions), "auctions retrieved successfully")
	helpers.LogSuccess("GetAuctionsByUserHandler", "auctions retrieved successfully", map[string]any{
		"user_id": userID,
		"count":   len(auctions),
	})
}
