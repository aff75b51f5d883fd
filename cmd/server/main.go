package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"freyr/api/httpserver"
	"freyr/config"
	"freyr/infra/kafka"
	"freyr/infra/outbox"
	"freyr/jobs/broadcaster"
	"freyr/jobs/depthfeed"
	"freyr/service"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ---------------- Engine ----------------

	mgr := service.NewManager(service.Config{
		TradeRetention: cfg.Engine.TradeRetention,
		PruneInterval:  cfg.Engine.PruneInterval,
	}, service.NoopBalance{}, log)
	mgr.Start(ctx)

	for _, seed := range cfg.Pairs {
		if _, err := mgr.CreateTradingPair(seed.BaseAsset, seed.QuoteAsset, seed.ChainID, seed.Config); err != nil {
			log.Fatal("seed trading pair", zap.Error(err))
		}
	}

	// ---------------- Trade outbox + broadcaster ----------------

	box, err := outbox.Open(cfg.Outbox.Dir)
	if err != nil {
		log.Fatal("open outbox", zap.Error(err))
	}
	defer box.Close()

	bc, err := broadcaster.New(cfg.Kafka.Brokers, cfg.Kafka.TradeTopic, box, mgr.Subscribe(), log)
	if err != nil {
		log.Fatal("start broadcaster", zap.Error(err))
	}
	defer bc.Close()
	go bc.Run(ctx)

	// ---------------- Depth feed ----------------

	depthProducer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.DepthTopic)
	defer depthProducer.Close()

	feed := depthfeed.New(mgr, depthProducer, cfg.Engine.DepthInterval, cfg.Engine.DepthLevels, log)
	go feed.Run(ctx)

	// ---------------- HTTP API ----------------

	api := httpserver.New(mgr, log)
	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Info("engine listening", zap.String("addr", cfg.Server.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
}
