// streamtest connects to the market data stream and prints decoded events to
// the console.
// Usage: go run ./cmd/streamtest --config configs/tradecore.yaml [--symbols BTCUSDT,ETHUSDT] [--verbose]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/TungTran2095/studio-sub004/internal/config"
	"github.com/TungTran2095/studio-sub004/internal/marketdata"
	"github.com/TungTran2095/studio-sub004/internal/stream"
)

func main() {
	configPath := flag.String("config", "configs/tradecore.example.yaml", "path to config file")
	symbols := flag.String("symbols", "", "comma-separated instruments, overrides the config")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(zerolog.DebugLevel).With().Timestamp().Logger()

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if *symbols != "" {
		cfg.Stream.Instruments = strings.Split(strings.ToUpper(*symbols), ",")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("received shutdown signal")
		cancel()
	}()

	streamCfg := stream.DefaultConfig()
	streamCfg.URL = cfg.Exchange.WSURL
	streamCfg.Streams = stream.StreamNames(cfg.Stream.Instruments, cfg.Stream.Timeframes, cfg.Stream.DepthLevels)
	streamCfg.SubscribeByMessage = cfg.Stream.SubscribeByMessage

	// No REST fallback: everything printed comes off the stream.
	mdCfg := marketdata.DefaultConfig()
	mdCfg.Symbols = cfg.Stream.Instruments
	mdCfg.Timeframes = cfg.Stream.Timeframes
	mdCfg.FallbackEnabled = false
	mdCfg.WarmupKlines = 0

	var adapter *marketdata.Adapter
	mgr := stream.NewManager(streamCfg, &logger, stream.WithObserver(observerFunc(func(from, to stream.State) {
		adapter.StateChanged(from, to)
	})))
	adapter = marketdata.NewAdapter(mdCfg, mgr, nil, &logger)

	logger.Info().Str("url", mgr.URL()).Strs("streams", streamCfg.Streams).Msg("connecting")
	if err := mgr.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start stream")
	}
	if err := adapter.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start adapter")
	}

	go printEvents(ctx, adapter.Events(), *verbose)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ss, ms := mgr.Status(), adapter.Status()
				logger.Info().
					Str("state", ss.State).
					Int64("messages", ss.Messages).
					Int64("malformed", ss.Malformed).
					Int64("reconnects", ss.Reconnects).
					Int("tickers", ms.Tickers).
					Int("kline_series", ms.KlineSeries).
					Int("books", ms.Books).
					Int64("events_dropped", ms.EventsDropped).
					Msg("stats")
			}
		}
	}()

	logger.Info().Msg("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info().Msg("shutting down...")
	if err := adapter.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("adapter stop failed")
	}
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("stream stop failed")
	}

	logger.Info().Msg("shutdown complete")
}

// observerFunc forwards state changes and ignores the other stream events.
type observerFunc func(from, to stream.State)

func (f observerFunc) StateChanged(from, to stream.State) { f(from, to) }
func (observerFunc) Reconnecting(int, time.Duration)      {}
func (observerFunc) MessageReceived(stream.Kind)          {}
func (observerFunc) MalformedMessage(error)               {}

func printEvents(ctx context.Context, events <-chan marketdata.Event, verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if verbose {
				data, _ := json.MarshalIndent(ev, "", "  ")
				fmt.Printf("[%s] %s\n", strings.ToUpper(string(ev.Type)), data)
				continue
			}

			switch {
			case ev.Summary != nil:
				fmt.Printf("[TICKER] %s last=%s bid=%s ask=%s change=%s%%\n",
					ev.Symbol, ev.Summary.LastPrice, ev.Summary.BidPrice, ev.Summary.AskPrice, ev.Summary.PriceChangePercent)
			case ev.Kline != nil:
				fmt.Printf("[KLINE] %s %s open=%s close=%s closed=%t\n",
					ev.Symbol, ev.Kline.Interval, ev.Kline.OpenTime.Format(time.TimeOnly), ev.Kline.Close, ev.Kline.Closed)
			case ev.Book != nil:
				bid, _ := ev.Book.BestBid()
				ask, _ := ev.Book.BestAsk()
				fmt.Printf("[DEPTH] %s bid=%s ask=%s levels=%d/%d\n",
					ev.Symbol, bid.Price, ask.Price, len(ev.Book.Bids), len(ev.Book.Asks))
			case ev.Trade != nil:
				fmt.Printf("[TRADE] %s id=%d price=%s qty=%s\n",
					ev.Symbol, ev.Trade.ID, ev.Trade.Price, ev.Trade.Quantity)
			default:
				fmt.Printf("[%s]\n", strings.ToUpper(string(ev.Type)))
			}
		}
	}
}
