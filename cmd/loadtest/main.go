package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/erain9/mbocache/pkg/core"
	"github.com/erain9/mbocache/pkg/feed"
	"github.com/erain9/mbocache/pkg/messaging"
	"github.com/erain9/mbocache/pkg/server"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	numInstruments   = flag.Int("instruments", 8, "Number of instruments, one feed worker each")
	updatesPerWorker = flag.Int("updates", 100000, "Raw updates per instrument")
	ordersPerUpdate  = flag.Int("batch", 10, "Order instructions per raw update")
	liveOrders       = flag.Int("orders", 5000, "Order ids per instrument")
	maxDepth         = flag.Int("depth", 0, "Maximum levels per side (0 is unbounded)")
	maxRate          = flag.Float64("rate", 0, "Total raw updates per second (0 is unlimited)")
	seed             = flag.Int64("seed", 1, "Random seed")
)

// discardSender counts canonical deltas without keeping them
type discardSender struct {
	mu    sync.Mutex
	count int
}

func (d *discardSender) SendUpdate(context.Context, *core.MarketByOrderUpdate) error {
	d.mu.Lock()
	d.count++
	d.mu.Unlock()
	return nil
}

func (d *discardSender) Close() error { return nil }

var _ messaging.MessageSender = (*discardSender)(nil)

func main() {
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg := feed.DefaultConfig()
	cfg.MaxDepth = *maxDepth
	manager := server.NewCacheManager()
	sender := &discardSender{}
	processor := feed.NewProcessor(manager, sender, cfg, zerolog.Nop())

	limit := rate.Inf
	burst := 1
	if *maxRate > 0 {
		limit = rate.Limit(*maxRate)
		burst = max(1, int(*maxRate/100))
	}
	limiter := rate.NewLimiter(limit, burst)

	histograms := make([]*hdrhistogram.Histogram, *numInstruments)
	errCh := make(chan error, *numInstruments)
	var wg sync.WaitGroup

	log.Printf("Starting %d workers, %d updates of %d instructions each...", *numInstruments, *updatesPerWorker, *ordersPerUpdate)
	start := time.Now()
	for i := range *numInstruments {
		// latencies in nanoseconds, 1ns to 10s
		histograms[i] = hdrhistogram.New(1, int64(10*time.Second), 3)
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(*seed + int64(worker)))
			gen := newGenerator(r, fmt.Sprintf("LOAD-%d", worker), *liveOrders)
			for j := range *updatesPerWorker {
				if err := limiter.Wait(ctx); err != nil {
					errCh <- err
					return
				}
				update := gen.next(int64(j+1), *ordersPerUpdate)
				t0 := time.Now()
				if err := processor.HandleRaw(ctx, update); err != nil {
					errCh <- err
					return
				}
				_ = histograms[worker].RecordValue(time.Since(t0).Nanoseconds())
			}
		}(i)
	}
	wg.Wait()
	duration := time.Since(start)
	close(errCh)

	merged := hdrhistogram.New(1, int64(10*time.Second), 3)
	for _, h := range histograms {
		merged.Merge(h)
	}

	// Print results
	total := merged.TotalCount()
	log.Printf("Load test completed in %v", duration)
	log.Printf("Raw updates applied: %d (%.0f/s)", total, float64(total)/duration.Seconds())
	log.Printf("Canonical deltas published: %d", sender.count)
	for _, q := range []float64{50, 90, 99, 99.9} {
		log.Printf("p%-5v %v", q, time.Duration(merged.ValueAtQuantile(q)))
	}
	log.Printf("max    %v", time.Duration(merged.Max()))

	for _, info := range manager.List(ctx) {
		log.Printf("%s: %d bid / %d ask orders, %d bid / %d ask levels", info.Key, info.BidOrders, info.AskOrders, info.BidLevels, info.AskLevels)
	}

	if err, ok := <-errCh; ok {
		log.Printf("First error: %v", err)
		os.Exit(1)
	}
}
