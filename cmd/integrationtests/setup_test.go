package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	bidding "auction-core/internal/biddingService"
	"auction-core/internal/clock"
	"auction-core/internal/identity"
	"auction-core/internal/lifecycle"
	model "auction-core/internal/models"
	"auction-core/internal/notifier"
	"auction-core/internal/repository"
	"auction-core/internal/server"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingPublisher keeps every delivered notification
type recordingPublisher struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (p *recordingPublisher) Publish(_ context.Context, n model.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return nil
}

func (p *recordingPublisher) OfType(typ model.NotificationType) []model.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Notification
	for _, n := range p.sent {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

// TestEnv is the full HTTP stack over an in-memory store and a manual clock
type TestEnv struct {
	Router    *gin.Engine
	Clock     *clock.Manual
	Hub       *notifier.Hub
	Published *recordingPublisher
}

// SetupTestEnv wires the router the same way main does, with test doubles
// only for time and storage.
func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := clock.NewManual(testNow)
	repo := repository.NewMemoryRepo()
	hub := notifier.NewHub()
	published := &recordingPublisher{}
	dispatcher := notifier.NewDispatcher(notifier.Multi{published, hub}, notifier.Options{Workers: 2, QueueSize: 64})
	t.Cleanup(func() {
		hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = dispatcher.Close(ctx)
	})

	directory := identity.AcceptAll()
	service := bidding.NewBiddingService(repo, clk, dispatcher, directory, bidding.Options{})
	manager := lifecycle.NewManager(repo, clk, dispatcher, directory)

	router := server.SetupRouter(server.Dependencies{
		Bidding:   service,
		Lifecycle: manager,
		Streamer:  hub,
	})
	return &TestEnv{Router: router, Clock: clk, Hub: hub, Published: published}
}

// CreateAuction opens an auction through the admin API for the next hour
func (e *TestEnv) CreateAuction(t *testing.T, auctionID, startingPrice, increment string, reserve ...string) {
	t.Helper()
	body := map[string]any{
		"auction_id":     auctionID,
		"title":          "title " + auctionID,
		"starting_price": startingPrice,
		"bid_increment":  increment,
		"start_time":     e.Clock.Now().Format(time.RFC3339),
		"end_time":       e.Clock.Now().Add(time.Hour).Format(time.RFC3339),
	}
	if len(reserve) > 0 {
		body["reserve_price"] = reserve[0]
	}
	resp, w := ExecuteRequestAndParse(t, e.Router, http.MethodPost, "/admin/auctions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, "active", resp["status"])
}

// PlaceBid posts a bid and returns the parsed response
func (e *TestEnv) PlaceBid(t *testing.T, auctionID, bidderID, amount string, autoBidMax ...string) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	body := map[string]any{"auction_id": auctionID, "bidder_id": bidderID, "amount": amount}
	if len(autoBidMax) > 0 {
		body["auto_bid_max"] = autoBidMax[0]
	}
	return ExecuteRequestAndParse(t, e.Router, http.MethodPost, "/bids", body)
}

// ExecuteRequest executes an HTTP request and returns the response recorder.
func ExecuteRequest(t *testing.T, router *gin.Engine, method, url string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := ExecuteRequest(t, router, method, url, reqBody, nil)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		err := json.Unmarshal(w.Body.Bytes(), &resp)
		if err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}

		if w.Code == http.StatusCreated {
			resp = resp["data"].(map[string]any)
		}
	}

	return resp, w
}
