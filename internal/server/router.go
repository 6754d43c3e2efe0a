package server

import (
	"net/http"

	handler "auction-core/services/bidding/handler"
	"auction-core/utils"

	"github.com/gin-gonic/gin"
)

// Dependencies are the services the HTTP layer is wired to
type Dependencies struct {
	Bidding    handler.BiddingServiceInterface
	Lifecycle  handler.LifecycleInterface
	Streamer   handler.NotificationStreamer
	AdminToken string
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging

	biddingHandler := handler.NewBiddingHandler(deps.Bidding)
	adminHandler := handler.NewAdminHandler(deps.Lifecycle)

	router.GET("/health", func(c *gin.Context) {
		utils.JSONResponse(c, http.StatusOK, gin.H{"status": "ok"}, "service is healthy")
	})

	bids := router.Group("/bids")
	{
		bids.POST("", biddingHandler.RecordBidHandler)
	}

	auctions := router.Group("/auctions")
	{
		auctions.GET("/:auction_id", biddingHandler.GetAuctionHandler)
		auctions.GET("/:auction_id/bids", biddingHandler.GetBidsByAuctionHandler)
		auctions.GET("/:auction_id/winning", biddingHandler.GetWinningBidHandler)
	}

	users := router.Group("/users")
	{
		users.GET("/:user_id/auctions", biddingHandler.GetAuctionsByUserHandler)
	}

	admin := router.Group("/admin", AdminTokenMiddleware(deps.AdminToken))
	{
		admin.POST("/auctions", adminHandler.CreateAuctionHandler)
		admin.POST("/auctions/:auction_id/activate", adminHandler.ActivateAuctionHandler)
		admin.POST("/auctions/:auction_id/cancel", adminHandler.CancelAuctionHandler)
		admin.POST("/auctions/:auction_id/finalize", adminHandler.FinalizeAuctionHandler)
		admin.POST("/auctions/:auction_id/close", adminHandler.CloseAuctionHandler)
		admin.POST("/auctions/:auction_id/approve-winner", adminHandler.ApproveWinnerHandler)
		admin.PATCH("/auctions/:auction_id/settlement", adminHandler.UpdateSettlementHandler)
	}

	if deps.Streamer != nil {
		streamHandler := handler.NewStreamHandler(deps.Streamer)
		router.GET("/ws/users/:user_id", streamHandler.StreamNotificationsHandler)
	}

	return router
}
