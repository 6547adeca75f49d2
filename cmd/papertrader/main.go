package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/efreitasn/papertrader/internal/broker"
	"github.com/efreitasn/papertrader/internal/config"
	"github.com/efreitasn/papertrader/internal/domain"
	"github.com/efreitasn/papertrader/internal/engine"
	"github.com/efreitasn/papertrader/internal/handler"
	"github.com/efreitasn/papertrader/internal/notify"
	"github.com/efreitasn/papertrader/internal/service"
	"github.com/efreitasn/papertrader/internal/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	limits, err := config.LoadLimits(cfg.LimitsFile)
	if err != nil {
		slog.Error("failed to load limits", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Instantiate stores.
	orderStore := store.NewMemoryOrderStore()
	tradeStore := store.NewMemoryTradeStore()
	positionStore := store.NewMemoryPositionStore()

	// Optional SQLite trade journal.
	var journal *store.TradeJournal
	if cfg.TradeJournalPath != "" {
		journal, err = store.NewTradeJournal(cfg.TradeJournalPath)
		if err != nil {
			logger.Error("failed to open trade journal", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer journal.Close()
	}

	// Execution venue. The simulator is always constructed: in live mode it
	// still serves as the reference price source since the live venue carries
	// no quote feed.
	sim := broker.NewSimulator(broker.SimulatorConfig{
		SlippagePct:    cfg.SlippagePct,
		CommissionRate: cfg.CommissionRate,
		FillDelay:      cfg.FillDelay,
		Seed:           time.Now().UnixNano(),
	}, logger)

	var brk broker.Broker = sim
	if cfg.BrokerMode == "live" {
		brk = broker.NewLive()
	}
	logger.Info("broker configured", slog.String("mode", cfg.BrokerMode), slog.String("venue", brk.Name()))

	// Engine.
	eng := engine.NewExecutionEngine(brk, cfg.PollInterval, logger)

	// Expiry manager fires before the order manager exists; bind late.
	var manager *service.OrderManager
	expiryMgr := engine.NewExpiryManager(cfg.ExpiryInterval, func(orderID string) {
		manager.ExpireOrder(orderID)
	}, logger)

	staleMon := engine.NewStaleMonitor(orderStore, cfg.StaleOrderAge, time.Minute, logger)

	// Websocket hub and notification channels.
	hub := notify.NewHub(logger)
	notifier := service.NewNotificationService(logger)
	notifier.AddChannel(&service.LogChannel{Log: logger})
	notifier.AddChannel(&service.WebsocketChannel{Hub: hub})

	// Services.
	positionMgr := service.NewPositionManager(positionStore, tradeStore, logger)
	positionMgr.OnUpdate(func(p *domain.Position) {
		notifier.Publish(service.Event{Type: service.EventPositionChanged, At: time.Now(), Payload: p})
	})
	riskMgr := service.NewRiskManager(limits.Risk, positionStore, tradeStore, time.Now(), logger)
	riskMgr.OnHalt(func(reason string) {
		notifier.Publish(service.Event{Type: service.EventRiskHalt, At: time.Now(), Payload: map[string]string{"reason": reason}})
	})
	manager = service.NewOrderManager(service.OrderManagerDeps{
		Validator: service.NewValidator(limits.Validation),
		Risk:      riskMgr,
		Positions: positionMgr,
		Orders:    orderStore,
		Trades:    tradeStore,
		Journal:   journal,
		Engine:    eng,
		Expiry:    expiryMgr,
		Prices:    sim,
		Notifier:  notifier,
		Log:       logger,
	})

	// Router.
	router := handler.NewRouter(manager, positionMgr, riskMgr, hub, logger)

	// Start background goroutines with cancellable context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	go eng.Run(ctx)
	go expiryMgr.Run(ctx)
	go staleMon.Run(ctx)

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start HTTP server in a goroutine.
	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop HTTP server, cancel context (stops background
	// goroutines).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	logger.Info("server stopped")
}
