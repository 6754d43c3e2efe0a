package perftests

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bidding "auction-core/internal/biddingService"
	"auction-core/internal/biddingerrors"
	repository "auction-core/internal/repository"
)

// LoadScenario defines configurable benchmark parameters
type LoadScenario struct {
	Name            string
	NumAuctions     int
	ReadRatio       int // out of 10
	ProxyRatio      int // out of 10 bids carrying an auto-bid ceiling
	MaxBidIncrement int
	MaxCeilingOver  int // ceiling is amount plus up to this much
	Burst           bool
}

// bidOutcomes counts how submissions ended
type bidOutcomes struct {
	accepted, outbidByProxy, tooLow, conflicts, rebids, other atomic.Int64
}

func (o *bidOutcomes) record(res bidding.PlaceBidResult, err error) {
	switch {
	case err == nil && res.Outbid():
		o.outbidByProxy.Add(1)
	case err == nil:
		o.accepted.Add(1)
	case errors.Is(err, biddingerrors.ErrConflict):
		o.conflicts.Add(1)
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		o.tooLow.Add(1)
	default:
		o.other.Add(1)
	}
}

// OperationMetrics collects latencies safely
type OperationMetrics struct {
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(d time.Duration) {
	om.mu.Lock()
	om.latencies = append(om.latencies, d)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (min, max, avg, p95, p99 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()
	if len(om.latencies) == 0 {
		return
	}
	latencies := om.latencies
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	min = latencies[0]
	max = latencies[len(latencies)-1]

	var total time.Duration
	for _, d := range latencies {
		total += d
	}
	avg = total / time.Duration(len(latencies))
	p95 = latencies[int(0.95*float64(len(latencies)))]
	p99 = latencies[int(0.99*float64(len(latencies)))]
	return
}

// setupRepo creates repository and bidding service with open auctions
func setupRepo(numAuctions int) (*repository.MemoryRepo, *bidding.BiddingService) {
	repo := repository.NewMemoryRepo()
	svc := newService(repo)
	for i := 0; i < numAuctions; i++ {
		repo.AddAuction(openAuction(fmt.Sprintf("auction_%d", i), 100, 1))
	}
	return repo, svc
}

// Benchmark_Load_BiddingSystem runs multiple scenarios
func Benchmark_Load_BiddingSystem(b *testing.B) {
	scenarios := []LoadScenario{
		{Name: "Low-Contention-WriteHeavy", NumAuctions: 200, MaxBidIncrement: 50},
		{Name: "High-Contention-WriteHeavy", NumAuctions: 10, MaxBidIncrement: 20},
		{Name: "Mixed-Workload", NumAuctions: 50, ReadRatio: 7, ProxyRatio: 3, MaxBidIncrement: 30, MaxCeilingOver: 100},
		{Name: "ReadHeavy", NumAuctions: 50, ReadRatio: 9, MaxBidIncrement: 20},
		{Name: "Proxy-War-SingleAuction", NumAuctions: 1, ProxyRatio: 8, MaxBidIncrement: 10, MaxCeilingOver: 200},
		{Name: "Proxy-Contended-Burst", NumAuctions: 5, ProxyRatio: 5, MaxBidIncrement: 20, MaxCeilingOver: 500, Burst: true},
		{Name: "Peak-Burst", NumAuctions: 50, MaxBidIncrement: 20, Burst: true},
	}

	for _, s := range scenarios {
		b.Run(s.Name, func(b *testing.B) {
			runParallelScenario(b, s)
		})
	}
}

func runParallelScenario(b *testing.B, s LoadScenario) {
	b.ReportAllocs()

	_, svc := setupRepo(s.NumAuctions)

	// last price each bidder saw per auction; bidders chase it like real clients
	lastSeen := make([]atomic.Int64, s.NumAuctions)
	for i := range lastSeen {
		lastSeen[i].Store(100)
	}

	var totalOps, totalReads int64
	outcomes := &bidOutcomes{}
	metrics := &OperationMetrics{}

	start := time.Now()

	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

		for pb.Next() {
			auctionIndex := rnd.Intn(s.NumAuctions)
			auctionID := fmt.Sprintf("auction_%d", auctionIndex)

			opStart := time.Now()
			if rnd.Intn(10) < s.ReadRatio {
				_, _ = svc.GetWinningBid(context.Background(), auctionID)
				atomic.AddInt64(&totalReads, 1)
			} else {
				userID := fmt.Sprintf("user_%d", rnd.Intn(1000))
				amount := lastSeen[auctionIndex].Load() + 1 + int64(rnd.Intn(s.MaxBidIncrement))
				proxy := rnd.Intn(10) < s.ProxyRatio

				submit := func(amount int64) (bidding.PlaceBidResult, error) {
					if proxy {
						return placeProxyBid(svc, auctionID, userID, amount, amount+int64(rnd.Intn(s.MaxCeilingOver+1)))
					}
					return placeBid(svc, auctionID, userID, amount)
				}

				res, err := submit(amount)
				if minimum, ok := biddingerrors.MinimumFrom(err); ok {
					// one resubmission at the minimum the rejection reported
					outcomes.rebids.Add(1)
					res, err = submit(minimum.IntPart())
				}
				outcomes.record(res, err)
				if err == nil {
					lastSeen[auctionIndex].Store(res.CurrentPrice.IntPart())
				}
			}

			metrics.Record(time.Since(opStart))
			atomic.AddInt64(&totalOps, 1)

			if !s.Burst {
				time.Sleep(time.Millisecond)
			}
		}
	})

	elapsed := time.Since(start)
	throughput := float64(totalOps) / elapsed.Seconds()
	min, max, avg, p95, p99 := metrics.Stats()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	b.Logf(
		"Scenario: %s | Auctions: %d | Total Ops: %d | Accepted: %d | Outbid by proxy: %d | Too low: %d | Conflicts: %d | Rebids: %d | Other: %d | Reads: %d | Elapsed: %s | Throughput: %.2f ops/sec | Latency(us) min: %.2f avg: %.2f max: %.2f p95: %.2f p99: %.2f | Memory Alloc: %.2f MB",
		s.Name, s.NumAuctions, totalOps,
		outcomes.accepted.Load(), outcomes.outbidByProxy.Load(), outcomes.tooLow.Load(),
		outcomes.conflicts.Load(), outcomes.rebids.Load(), outcomes.other.Load(), totalReads,
		elapsed, throughput,
		float64(min.Microseconds()), float64(avg.Microseconds()), float64(max.Microseconds()),
		float64(p95.Microseconds()), float64(p99.Microseconds()),
		float64(mem.Alloc)/1024/1024,
	)

	if n := outcomes.other.Load(); n > 0 {
		b.Errorf("%d bids failed with unexpected errors", n)
	}
	verifyLedgers(b, svc, s.NumAuctions)
}

// verifyLedgers checks every auction ended the run with one winning bid
// priced at the auction's current price.
func verifyLedgers(b *testing.B, svc *bidding.BiddingService, numAuctions int) {
	ctx := context.Background()
	for i := 0; i < numAuctions; i++ {
		auctionID := fmt.Sprintf("auction_%d", i)
		auction, err := svc.GetAuction(ctx, auctionID)
		if err != nil {
			b.Fatalf("get auction %s: %v", auctionID, err)
		}
		bids, err := svc.ListBids(ctx, auctionID)
		if err != nil || len(bids) == 0 {
			continue
		}

		winners := 0
		for _, bid := range bids {
			if bid.IsWinningBid {
				winners++
				if !bid.Amount.Equal(auction.CurrentPrice) {
					b.Errorf("%s: winning bid %s does not match current price %s", auctionID, bid.Amount, auction.CurrentPrice)
				}
			}
		}
		if winners != 1 {
			b.Errorf("%s: %d winning bids", auctionID, winners)
		}
	}
}
