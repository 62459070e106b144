package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"giftrelay/internal/chain"
	"giftrelay/internal/config"
	"giftrelay/internal/db"
	"giftrelay/internal/gateway"
	internalhttp "giftrelay/internal/http"
	"giftrelay/internal/matcher"
	"giftrelay/internal/pricing"
	"giftrelay/internal/provider"
	"giftrelay/internal/services"
	"giftrelay/internal/session"
	"giftrelay/internal/settings"
	"giftrelay/internal/store"
	"giftrelay/internal/wallet"

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

	ctx := context.Background()
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

	var gw *gateway.Client
	if cfg.Gateway.BaseURL != "" {
		gw = gateway.New(cfg.Gateway.BaseURL, cfg.Gateway.APIKey)
	}

	loader := settings.Loader{Store: st}
	orderSvc := &services.OrderService{
		Store:     st,
		Settings:  loader,
		Allocator: pricing.Allocator{Store: st},
		Provider:  prov,
		Log:       logg,
	}
	if gw != nil {
		orderSvc.Gateway = gw
	}

	h := &internalhttp.Handler{
		Orders:   orderSvc,
		Matcher:  &matcher.Matcher{Store: st, Log: logg},
		Sessions: session.NewStore(),
		Settings: loader,
		Store:    st,
		Provider: prov,
		Wallet:   w,
		Chain:    chainClient,
		Log:      logg,
	}
	srv := internalhttp.NewServer(h, cfg.Server.AdminToken)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		logg.Info("api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
