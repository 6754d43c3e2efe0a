package handler

import (
	"context"
	"errors"
	"net/http"

	"auction-core/internal/lifecycle"
	model "auction-core/internal/models"
	"auction-core/services/bidding/helpers"
	"auction-core/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type LifecycleInterface interface {
	CreateAuction(ctx context.Context, in lifecycle.CreateAuctionInput) (model.Auction, error)
	Activate(ctx context.Context, auctionID string) (model.Auction, error)
	Cancel(ctx context.Context, auctionID string) (model.Auction, error)
	FinalizeWinner(ctx context.Context, auctionID string) (model.Auction, error)
	CloseEarly(ctx context.Context, auctionID string) (model.Auction, error)
	ApproveWinner(ctx context.Context, auctionID, winnerID string, amount decimal.Decimal) (model.Auction, error)
	UpdateSettlement(ctx context.Context, auctionID string, upd lifecycle.SettlementUpdate) (model.Auction, error)
}

// AdminHandler serves the auction lifecycle routes under /admin
type AdminHandler struct {
	lifecycle LifecycleInterface
}

func NewAdminHandler(lc LifecycleInterface) *AdminHandler {
	return &AdminHandler{lifecycle: lc}
}

// CreateAuctionHandler handles POST /admin/auctions
func (h *AdminHandler) CreateAuctionHandler(c *gin.Context) {
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	auction, err := h.lifecycle.CreateAuction(c.Request.Context(), lifecycle.CreateAuctionInput{
		AuctionID:     req.AuctionID,
		Title:         req.Title,
		StartingPrice: req.StartingPrice,
		ReservePrice:  req.ReservePrice,
		BidIncrement:  req.BidIncrement,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
	})
	if err != nil {
		helpers.RespondError(c, err)
		utils.Warn("CreateAuctionHandler: failed to create auction", map[string]any{
			"auction_id": req.AuctionID,
			"title":      req.Title,
			"error":      err.Error(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.ToAuctionResponse(auction), "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": auction.AuctionID,
		"status":     auction.Status,
	})
}

// ActivateAuctionHandler handles POST /admin/auctions/:auction_id/activate
func (h *AdminHandler) ActivateAuctionHandler(c *gin.Context) {
	h.transition(c, "ActivateAuctionHandler", "auction activated", h.lifecycle.Activate)
}

// CancelAuctionHandler handles POST /admin/auctions/:auction_id/cancel
func (h *AdminHandler) CancelAuctionHandler(c *gin.Context) {
	h.transition(c, "CancelAuctionHandler", "auction cancelled", h.lifecycle.Cancel)
}

// FinalizeAuctionHandler handles POST /admin/auctions/:auction_id/finalize
func (h *AdminHandler) FinalizeAuctionHandler(c *gin.Context) {
	h.transition(c, "FinalizeAuctionHandler", "auction finalized", h.lifecycle.FinalizeWinner)
}

// CloseAuctionHandler handles POST /admin/auctions/:auction_id/close
func (h *AdminHandler) CloseAuctionHandler(c *gin.Context) {
	h.transition(c, "CloseAuctionHandler", "auction closed", h.lifecycle.CloseEarly)
}

func (h *AdminHandler) transition(c *gin.Context, handlerName, message string, fn func(context.Context, string) (model.Auction, error)) {
	auctionID := c.Param("auction_id")
	auction, err := fn(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, err)
		utils.Warn(handlerName+": transition failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponse(auction), message+" successfully")
	helpers.LogSuccess(handlerName, message, map[string]any{
		"auction_id": auctionID,
		"status":     auction.Status,
	})
}

// ApproveWinnerHandler handles POST /admin/auctions/:auction_id/approve-winner
func (h *AdminHandler) ApproveWinnerHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	var req helpers.ApproveWinnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "ApproveWinnerHandler", err)
		return
	}
	if !req.Amount.IsPositive() {
		helpers.HandleBindError(c, "ApproveWinnerHandler", errors.New("amount must be greater than zero"))
		return
	}

	auction, err := h.lifecycle.ApproveWinner(c.Request.Context(), auctionID, req.WinnerID, req.Amount)
	if err != nil {
		helpers.RespondError(c, err)
		utils.Warn("ApproveWinnerHandler: failed to approve winner", map[string]any{
			"auction_id": auctionID,
			"winner_id":  req.WinnerID,
			"amount":     req.Amount.String(),
			"error":      err.Error(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponse(auction), "winner approved successfully")
	helpers.LogSuccess("ApproveWinnerHandler", "winner approved successfully", map[string]any{
		"auction_id": auctionID,
		"winner_id":  req.WinnerID,
		"amount":     req.Amount.String(),
	})
}

// UpdateSettlementHandler handles PATCH /admin/auctions/:auction_id/settlement
func (h *AdminHandler) UpdateSettlementHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	var req helpers.SettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "UpdateSettlementHandler", err)
		return
	}

	var upd lifecycle.SettlementUpdate
	if req.PaymentStatus != nil {
		p := model.PaymentStatus(*req.PaymentStatus)
		upd.PaymentStatus = &p
	}
	if req.CollectionStatus != nil {
		cs := model.CollectionStatus(*req.CollectionStatus)
		upd.CollectionStatus = &cs
	}

	auction, err := h.lifecycle.UpdateSettlement(c.Request.Context(), auctionID, upd)
	if err != nil {
		helpers.RespondError(c, err)
		utils.Warn("UpdateSettlementHandler: failed to update settlement", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponse(auction), "settlement updated successfully")
	helpers.LogSuccess("UpdateSettlementHandler", "settlement updated successfully", map[string]any{
		"auction_id":        auctionID,
		"payment_status":    auction.PaymentStatus,
		"collection_status": auction.CollectionStatus,
	})
}
