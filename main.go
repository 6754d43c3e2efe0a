package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bidding "auction-core/internal/biddingService"
	"auction-core/internal/biddingerrors"
	"auction-core/internal/clock"
	"auction-core/internal/config"
	"auction-core/internal/identity"
	"auction-core/internal/lifecycle"
	"auction-core/internal/notifier"
	"auction-core/internal/repository"
	"auction-core/internal/repository/postgres"
	"auction-core/internal/server"
	"auction-core/migrations"
	handler "auction-core/services/bidding/handler"
	"auction-core/utils"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	startupTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Fatal("Failed to load configuration", map[string]any{"error": err.Error()})
	}
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		utils.Warn("Unknown LOG_LEVEL, keeping info", map[string]any{"level": cfg.LogLevel})
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	repo, closeStore, err := openStore(startupCtx, cfg)
	if err != nil {
		utils.Fatal("Failed to open auction store", map[string]any{"store": cfg.Store, "error": err.Error()})
	}
	defer closeStore()

	hub := notifier.NewHub()
	publisher, closePublishers, err := buildPublisher(cfg, hub)
	if err != nil {
		utils.Fatal("Failed to connect notification backend", map[string]any{"error": err.Error()})
	}
	defer closePublishers()

	dispatcher := notifier.NewDispatcher(publisher, notifier.Options{
		Workers:      cfg.NotifyWorkers,
		QueueSize:    cfg.NotifyQueueSize,
		MaxRetries:   cfg.NotifyMaxRetries,
		RetryBackoff: cfg.NotifyRetryBackoff,
	})

	clk := clock.NewSystem()
	directory := identity.AcceptAll()
	biddingSvc := bidding.NewBiddingService(repo, clk, dispatcher, directory, bidding.Options{BidTimeout: cfg.BidTimeout})
	manager := lifecycle.NewManager(repo, clk, dispatcher, directory)

	if cfg.SeedDemo {
		seedDemoAuctions(startupCtx, manager, clk.Now())
	}

	var streamer handler.NotificationStreamer
	if cfg.HasBackend(config.BackendWS) {
		streamer = hub
	}
	router := server.SetupRouter(server.Dependencies{
		Bidding:    biddingSvc,
		Lifecycle:  manager,
		Streamer:   streamer,
		AdminToken: cfg.AdminToken,
	})
	if cfg.AdminToken == "" {
		utils.Warn("ADMIN_TOKEN not set, admin routes are unauthenticated", nil)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		lifecycle.NewSweeper(manager, cfg.SweepInterval).Run(runCtx)
	}()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	utils.Info("Starting auction server", map[string]any{
		"addr":     cfg.Addr(),
		"store":    cfg.Store,
		"backends": cfg.NotifyBackends,
	})

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Error("Server error", map[string]any{"error": err.Error()})
		}
	case <-runCtx.Done():
		utils.Info("Shutdown signal received, stopping server", nil)
	}
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		utils.Error("Server shutdown error", map[string]any{"error": err.Error()})
	}
	<-sweepDone

	if err := dispatcher.Close(shutdownCtx); err != nil {
		utils.Warn("Notification queue not drained before shutdown", map[string]any{"error": err.Error()})
	}
	utils.Info("Server stopped", nil)
}

// openStore returns the configured auction store and a function releasing it
func openStore(ctx context.Context, cfg config.Config) (repository.AuctionDB, func(), error) {
	if cfg.Store == config.StoreMemory {
		utils.Warn("Using in-memory store, state is lost on restart", nil)
		return repository.NewMemoryRepo(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := migrations.Apply(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return postgres.NewAuctionRepository(pool), pool.Close, nil
}

type closer interface {
	Close() error
}

// buildPublisher fans notifications out to every configured backend
func buildPublisher(cfg config.Config, hub *notifier.Hub) (notifier.Publisher, func(), error) {
	var (
		publishers notifier.Multi
		closers    []closer
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				utils.Warn("Failed to close notification backend", map[string]any{"error": err.Error()})
			}
		}
	}

	for _, backend := range cfg.NotifyBackends {
		switch backend {
		case config.BackendLog:
			publishers = append(publishers, notifier.LogPublisher{})
		case config.BackendWS:
			publishers = append(publishers, hub)
		case config.BackendRedis:
			p, err := notifier.NewRedisPublisher(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			publishers = append(publishers, p)
			closers = append(closers, p)
		case config.BackendNATS:
			p, err := notifier.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			publishers = append(publishers, p)
			closers = append(closers, p)
		}
	}
	return publishers, closeAll, nil
}

// seedDemoAuctions adds sample auctions that are open for a day
func seedDemoAuctions(ctx context.Context, manager *lifecycle.Manager, now time.Time) {
	reserve := decimal.NewFromInt(250)
	demos := []lifecycle.CreateAuctionInput{
		{AuctionID: "auction1", Title: "Vintage desk lamp", StartingPrice: decimal.NewFromInt(100), BidIncrement: decimal.NewFromInt(5)},
		{AuctionID: "auction2", Title: "Oak bookshelf", StartingPrice: decimal.NewFromInt(200), ReservePrice: &reserve, BidIncrement: decimal.NewFromInt(10)},
		{AuctionID: "auction3", Title: "Framed print", StartingPrice: decimal.NewFromInt(150), BidIncrement: decimal.RequireFromString("2.50")},
	}

	for _, in := range demos {
		in.StartTime = now
		in.EndTime = now.Add(24 * time.Hour)
		if _, err := manager.CreateAuction(ctx, in); err != nil && !errors.Is(err, biddingerrors.ErrAuctionExists) {
			utils.Warn("Failed to seed demo auction", map[string]any{"auction_id": in.AuctionID, "error": err.Error()})
		}
	}
}
