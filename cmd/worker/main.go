package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"giftrelay/internal/chain"
	"giftrelay/internal/config"
	"giftrelay/internal/db"
	"giftrelay/internal/gateway"
	"giftrelay/internal/notify"
	"giftrelay/internal/provider"
	"giftrelay/internal/settings"
	"giftrelay/internal/store"
	"giftrelay/internal/wallet"
	"giftrelay/internal/worker"

	"go.uber.org/zap"

	applog "giftrelay/internal/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logg, err := applog.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logg.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		logg.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	st := store.New(pool)
	if err := st.SeedConfig(ctx, settings.Defaults(
		cfg.Orders.Rate, cfg.Orders.Fee, cfg.Orders.Packs,
		cfg.Orders.Premium3M, cfg.Orders.Premium6M, cfg.Orders.Premium12M,
		cfg.Orders.RandMin, cfg.Orders.RandMax,
		cfg.Orders.TTLMinutes, cfg.Worker.IntervalSeconds,
		cfg.Orders.PayCard, cfg.Orders.PayName,
	)); err != nil {
		logg.Fatal("config seed failed", zap.Error(err))
	}

	w, err := wallet.New(cfg.Wallet.Mnemonic, cfg.Wallet.Version, cfg.Wallet.Prefix)
	if err != nil {
		logg.Fatal("wallet init failed", zap.Error(err))
	}
	chainClient := chain.NewMulti(cfg.ChainEndpoints(), cfg.Chain.APIKey, cfg.Chain.FailThreshold)
	prov := provider.New(provider.Config{
		BaseURL: cfg.Provider.BaseURL,
		Cookies: cfg.Provider.Cookies,
		Token:   cfg.Provider.Token,
		Device:  cfg.Provider.Device,
	}, w, chainClient, logg)
	prov.Start()

	wk := &worker.Worker{
		Store:        st,
		Settings:     settings.Loader{Store: st},
		Provider:     prov,
		Notify:       notify.New(cfg.Notify.BotToken, logg),
		Log:          logg,
		ExpireBatch:  cfg.Worker.ExpireBatch,
		VerifyBatch:  cfg.Worker.VerifyBatch,
		DeliverBatch: cfg.Worker.DeliverBatch,
	}
	if cfg.Gateway.BaseURL != "" {
		wk.Gateway = gateway.New(cfg.Gateway.BaseURL, cfg.Gateway.APIKey)
	}

	logg.Info("worker started",
		zap.Bool("gateway", cfg.Gateway.BaseURL != ""),
		zap.Bool("provider", prov.Enabled()))

	wk.Run(ctx)
}
