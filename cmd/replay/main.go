package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/erain9/mbocache/pkg/cache"
	"github.com/erain9/mbocache/pkg/codec"
	"github.com/erain9/mbocache/pkg/core"
	"github.com/erain9/mbocache/pkg/feed"
	"github.com/erain9/mbocache/pkg/messaging"
	"github.com/erain9/mbocache/pkg/messaging/kafka"
	"github.com/erain9/mbocache/pkg/server"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	inputFile      = flag.String("input", "-", "JSON lines file of raw market-by-order updates (- for stdin)")
	exchange       = flag.String("exchange", "", "Exchange of updates that do not name one")
	symbol         = flag.String("symbol", "", "Symbol of updates that do not name one")
	maxDepth       = flag.Int("depth", 0, "Maximum levels retained per side (0 is unbounded)")
	priceIncrement = flag.Float64("price_increment", math.NaN(), "Tick size")
	qtyIncrement   = flag.Float64("quantity_increment", math.NaN(), "Lot size")
	replayRate     = flag.Float64("rate", 0, "Updates per second (0 is unlimited)")
	showDepth      = flag.Int("show", 10, "Levels per side to print after the replay")
	verify         = flag.Bool("verify", true, "Replay the canonical deltas into a replica and compare checksums")
	brokerAddr     = flag.String("broker", "", "Kafka broker to publish canonical deltas to (empty disables)")
	outputTopic    = flag.String("topic", "mbo-canonical", "Kafka topic for canonical deltas")
)

func main() {
	flag.Parse()

	// Configure zerolog
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	in := os.Stdin
	if *inputFile != "-" {
		f, err := os.Open(*inputFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open input")
		}
		defer f.Close()
		in = f
	}
	updates, err := readUpdates(in, *exchange, *symbol)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read updates")
	}
	log.Info().Int("count", len(updates)).Msg("Loaded updates")

	recorder := messaging.NewMockMessageSender()
	var sender messaging.MessageSender = recorder
	if *brokerAddr != "" {
		kafkaSender, err := kafka.NewKafkaMessageSender(*brokerAddr, *outputTopic)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka sender")
		}
		defer kafkaSender.Close()
		sender = teeSender{recorder, kafkaSender}
	}

	cfg := feed.DefaultConfig()
	cfg.MaxDepth = *maxDepth
	cfg.PriceIncrement = *priceIncrement
	cfg.QuantityIncrement = *qtyIncrement
	cfg.ReplayRate = *replayRate

	manager := server.NewCacheManager()
	processor := feed.NewProcessor(manager, sender, cfg, log.Logger)
	start := time.Now()
	n, err := processor.Replay(ctx, updates)
	if err != nil {
		log.Fatal().Err(err).Int("handled", n).Msg("Replay failed")
	}
	log.Info().
		Int("updates", n).
		Int("canonical", len(recorder.Updates())).
		Dur("elapsed", time.Since(start)).
		Msg("Replay finished")

	if *verify {
		if err := verifyReplica(ctx, cfg, manager, recorder.Updates()); err != nil {
			log.Fatal().Err(err).Msg("Replica verification failed")
		}
		log.Info().Msg("Replica checksums match")
	}

	for _, key := range manager.Keys() {
		err := manager.View(ctx, key, func(c *cache.Cache) error {
			return printDepth(os.Stdout, c, *showDepth)
		})
		if err != nil {
			log.Error().Err(err).Str("instrument", key).Msg("Failed to print depth")
		}
	}
}

// readUpdates parses one JSON update per line, filling in a missing instrument
func readUpdates(r io.Reader, exchange, symbol string) ([]*core.MarketByOrderUpdate, error) {
	var updates []*core.MarketByOrderUpdate
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		update, err := codec.UnmarshalUpdate(data)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if update.Exchange == "" {
			update.Exchange = exchange
		}
		if update.Symbol == "" {
			update.Symbol = symbol
		}
		updates = append(updates, update)
	}
	return updates, scanner.Err()
}

// verifyReplica applies the canonical deltas to fresh caches and compares
// every resulting checksum, then the final books
func verifyReplica(ctx context.Context, cfg feed.Config, source *server.CacheManager, canonical []*core.MarketByOrderUpdate) error {
	cfg.Mode = feed.ModeReplica
	cfg.VerifyChecksum = true
	cfg.ReplayRate = 0
	replicas := server.NewCacheManager()
	replica := feed.NewProcessor(replicas, nil, cfg, zerolog.Nop())
	if _, err := replica.Replay(ctx, canonical); err != nil {
		return err
	}
	for _, key := range source.Keys() {
		want, err := source.Get(ctx, key)
		if err != nil {
			return err
		}
		got, err := replicas.Get(ctx, key)
		if err != nil {
			// an instrument that never produced a delta has an empty book
			if want.BidOrders+want.AskOrders == 0 {
				continue
			}
			return err
		}
		if want.Checksum != got.Checksum {
			return fmt.Errorf("%s: %w: expected %d, got %d", key, feed.ErrChecksumMismatch, want.Checksum, got.Checksum)
		}
	}
	return nil
}

// printDepth prints the top levels of c, asks above bids
func printDepth(out io.Writer, c *cache.Cache, depth int) error {
	color.NoColor = false
	cyan := color.New(color.FgCyan).SprintfFunc()
	red := color.New(color.FgRed).SprintfFunc()
	green := color.New(color.FgGreen).SprintfFunc()

	bids, asks := c.ExtractLayers(depth)
	priceDecimals, qtyDecimals := c.PriceDecimals(), c.QuantityDecimals()

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "%s %s  sequence=%d  checksum=%08x\n",
		cyan(c.Exchange()), cyan(c.Symbol()), c.ExchangeSequence(), c.Checksum())

	// Print headers with consistent spacing
	fmt.Fprintf(w, "%15s|%15s|%s\n", cyan("Price"), cyan("Quantity"), cyan("Side"))
	fmt.Fprintf(w, "%15s|%15s|%s\n", "---------------", "---------------", "----")

	// Print asks (sells), worst first so the spread sits in the middle
	for i := len(asks) - 1; i >= 0; i-- {
		fmt.Fprintf(w, "%15s|%15s|%s\n",
			codec.FormatNumber(asks[i].Price, priceDecimals),
			codec.FormatNumber(asks[i].Quantity, qtyDecimals),
			red("ASK"))
	}

	// Print separator between asks and bids
	fmt.Fprintf(w, "%15s|%15s|%s\n", "---------------", "---------------", "----")

	// Print bids (buys)
	for _, level := range bids {
		fmt.Fprintf(w, "%15s|%15s|%s\n",
			codec.FormatNumber(level.Price, priceDecimals),
			codec.FormatNumber(level.Quantity, qtyDecimals),
			green("BID"))
	}

	return w.Flush()
}

// teeSender records every delta locally and forwards it to Kafka
type teeSender struct {
	local  messaging.MessageSender
	remote messaging.MessageSender
}

func (t teeSender) SendUpdate(ctx context.Context, update *core.MarketByOrderUpdate) error {
	if err := t.local.SendUpdate(ctx, update); err != nil {
		return err
	}
	return t.remote.SendUpdate(ctx, update)
}

func (t teeSender) Close() error {
	return t.remote.Close()
}
