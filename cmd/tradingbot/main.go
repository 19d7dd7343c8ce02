// Command tradingbot is the CLI entrypoint: it wires the broker session,
// sentiment pipeline, decider, order manager, and HTTP facade into one
// running Supervisor, then blocks until an interrupt signal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"futures-agent/internal/broker"
	"futures-agent/internal/decider"
	"futures-agent/internal/events"
	"futures-agent/internal/facade"
	"futures-agent/internal/indicators"
	"futures-agent/internal/market"
	"futures-agent/internal/order"
	"futures-agent/internal/risk"
	"futures-agent/internal/sentiment/aggregator"
	"futures-agent/internal/sentiment/collectors"
	"futures-agent/internal/sentiment/scorer"
	"futures-agent/internal/supervisor"
	"futures-agent/pkg/clock"
	"futures-agent/pkg/config"
	"futures-agent/pkg/journal"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	symbolFlag := flag.String("symbol", "", "trading symbol (defaults to the first of DEFAULT_SYMBOLS)")
	live := flag.Bool("live", false, "require interactive YES confirmation before starting (the broker endpoints are the demo ones in either mode)")
	demo := flag.Bool("demo", false, "trade against a demo/paper account (default)")
	noSentiment := flag.Bool("no-sentiment", false, "disable the sentiment pipeline and trade on technicals only")
	maxContracts := flag.Int("max-contracts", 0, "override the max position size (0 keeps the configured default)")
	maxDailyLoss := flag.Float64("max-daily-loss", 0, "override the daily loss kill-switch threshold (0 keeps the configured default)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Printf("tradingbot: load config: %v", err)
		os.Exit(1)
	}

	symbols := cfg.DefaultSymbols
	if *symbolFlag != "" {
		symbols = []string{*symbolFlag}
	}
	if len(symbols) == 0 {
		log.Println("tradingbot: no symbols configured")
		os.Exit(1)
	}

	if cfg.TradovateUsername == "" || cfg.TradovatePassword == "" || cfg.TradovateAppID == "" {
		log.Println("tradingbot: missing Tradovate credentials")
		os.Exit(1)
	}

	if *live && !confirmLiveTrading() {
		log.Println("tradingbot: live trading not confirmed, exiting")
		os.Exit(0)
	}
	_ = demo // demo is the implicit default; present only to document the flag surface

	clk := clock.Real{}
	bus := events.NewBus()

	brokerClient := broker.NewClient(broker.Config{
		Username:    cfg.TradovateUsername,
		Password:    cfg.TradovatePassword,
		AppID:       cfg.TradovateAppID,
		AppVersion:  "1.0",
		CID:         cfg.TradovateCID,
		Secret:      cfg.TradovateSecret,
		RestBaseURL: restBaseURL,
		MarketWSURL: "wss://md.tradovateapi.com/v1/websocket",
		UserWSURL:   userWSURL,
	}, clk)

	store := market.NewStore(bus, 0, 0)
	indEngine := indicators.NewEngine(0, 0, 0, 0)

	riskCfg := risk.DefaultConfig()
	if *maxDailyLoss > 0 {
		riskCfg.MaxDailyLoss = *maxDailyLoss
	} else if cfg.MaxDailyLoss > 0 {
		riskCfg.MaxDailyLoss = cfg.MaxDailyLoss
	}
	if *maxContracts > 0 {
		riskCfg.MaxPositionSize = *maxContracts
	} else if cfg.MaxPositionSize > 0 {
		riskCfg.MaxPositionSize = cfg.MaxPositionSize
	}
	riskCfg.MaxTradesPerDay = cfg.MaxTradesPerDay
	gate := risk.NewGate(riskCfg, clk)

	orders := order.NewManager(brokerClient, gate, clk, cfg.CooldownSeconds, riskCfg.MaxPositionSize)

	searchTerms := make(map[string][]string, len(symbols))
	for _, s := range symbols {
		searchTerms[s] = []string{s}
	}

	microBlog := collectors.NewMicroBlog(cfg.MicroBlogBearerToken, searchTerms, clk)
	forum := collectors.NewForum(cfg.ForumClientID, cfg.ForumClientSecret, cfg.ForumUserAgent, searchTerms, clk)
	news := collectors.NewNews(cfg.NewsAPIKey, cfg.AlphaVantageAPIKey, searchTerms, clk)

	aggCfg := aggregator.DefaultConfig()
	aggCfg.Weights = aggregator.Weights{MicroBlog: cfg.TwitterWeight, Forum: cfg.RedditWeight, News: cfg.NewsWeight}
	agg := aggregator.New(aggCfg, clk)

	var sc *scorer.Scorer
	if cfg.GeminiAPIKey != "" {
		sc = scorer.New(cfg.GeminiAPIKey, "", clk)
	}

	decCfg := decider.DefaultConfig()
	decCfg.UseSentiment = !*noSentiment
	decCfg.UseLLMAdjudication = sc != nil
	decCfg.ConfidenceThreshold = cfg.ConfidenceThreshold
	decCfg.MaxPositionSize = riskCfg.MaxPositionSize
	dec := decider.New(decCfg, gate, sc)

	var jrnl journal.Journal = journal.NoOp{}
	if sqliteJrnl, err := journal.Open(cfg.DatabaseURL); err != nil {
		log.Printf("tradingbot: open journal (continuing without persistence): %v", err)
	} else {
		jrnl = sqliteJrnl
	}
	defer jrnl.Close()

	supCfg := supervisor.DefaultConfig(symbols)
	sup := supervisor.New(supCfg, supervisor.Deps{
		Broker:     brokerClient,
		Store:      store,
		Indicators: indEngine,
		Decider:    dec,
		Orders:     orders,
		RiskGate:   gate,
		Aggregate:  agg,
		Journal:    jrnl,
		Scorer:     sc,
		MicroBlog:  microBlog,
		Forum:      forum,
		News:       news,
	}, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		log.Printf("tradingbot: start supervisor: %v", err)
		os.Exit(1)
	}

	srv := facade.NewServer(sup, sup, gate, cfg.JWTSecret, clk)
	httpServer := &http.Server{
		Addr:    cfg.ServerHost + ":" + cfg.ServerPort,
		Handler: srv.Router,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("tradingbot: http server error: %v", err)
		}
	}()
	log.Printf("tradingbot: serving facade on %s", httpServer.Addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("tradingbot: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("tradingbot: http shutdown: %v", err)
	}
	if err := sup.Shutdown(shutdownCtx, 10*time.Second); err != nil {
		log.Printf("tradingbot: supervisor shutdown: %v", err)
	}
}

// confirmLiveTrading requires an interactive "YES" before trading real
// money, per the CLI's live-mode safeguard.
func confirmLiveTrading() bool {
	fmt.Print("Live trading requested. Type YES to confirm: ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line) == "YES"
}
