package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/park285/chess-wager/internal/archive"
	"github.com/park285/chess-wager/internal/auth"
	appcfg "github.com/park285/chess-wager/internal/config"
	"github.com/park285/chess-wager/internal/events"
	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/guard"
	"github.com/park285/chess-wager/internal/httpapi"
	"github.com/park285/chess-wager/internal/metrics"
	"github.com/park285/chess-wager/internal/msgcat"
	"github.com/park285/chess-wager/internal/obslog"
	"github.com/park285/chess-wager/internal/payment"
	"github.com/park285/chess-wager/internal/realtime"
	"github.com/park285/chess-wager/internal/rules"
	"github.com/park285/chess-wager/internal/session"
	"github.com/park285/chess-wager/internal/store"
	"github.com/park285/chess-wager/internal/sweep"
	"github.com/park285/chess-wager/internal/wallet"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("store_init_failed", zap.Error(err))
	}
	defer st.Close()

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_init_failed", zap.Error(err))
	}
	oracle, err := rules.NewOracle(cfg.ReplayCacheSize)
	if err != nil {
		logger.Fatal("oracle_init_failed", zap.Error(err))
	}
	m := metrics.New("chess_wager")

	// Redis carries cross-instance locking, push fan-out and session tokens when configured.
	var (
		locker   guard.Locker = guard.NewRegistry()
		bus      events.Bus
		verifier auth.Verifier
		rdb      *redis.Client
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis_url_invalid", zap.Error(err))
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis_ping_failed", zap.Error(err))
		}
		locker = guard.Chain{locker, guard.NewRedisLocker(rdb, cfg.LockTTL)}
		rbus := events.NewRedisBus(rdb, events.DefaultChannel)
		ready := make(chan struct{})
		go func() {
			if err := rbus.Run(ctx, ready); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event_bus_stopped", zap.Error(err))
			}
		}()
		select {
		case <-ready:
		case <-time.After(5 * time.Second):
			logger.Fatal("event_bus_subscribe_timeout")
		}
		bus = rbus
	} else {
		bus = events.NewLocalBus()
	}
	switch cfg.AuthMode {
	case appcfg.AuthGateway:
		verifier = auth.NewGatewayVerifier(cfg.GatewayToken)
	default:
		verifier = auth.NewSessionVerifier(rdb)
	}

	var archiver archive.Archiver
	if cfg.Archive.Enabled() {
		a, err := archive.NewS3Archiver(ctx, archive.S3Options{
			Bucket:    cfg.Archive.Bucket,
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Prefix:    "games",
		})
		if err != nil {
			logger.Fatal("archive_init_failed", zap.Error(err))
		}
		archiver = a
	}

	svc, err := session.New(session.Options{
		Store:       st,
		Oracle:      oracle,
		Locker:      locker,
		Bus:         bus,
		Clock:       game.NewClock(cfg.ClockTolerance),
		Settler:     wallet.Settler{PlatformAccount: cfg.PlatformAccountID},
		PlatformFee: cfg.PlatformFee,
		Archiver:    archiver,
		Metrics:     m,
		Messages:    msgs,
	})
	if err != nil {
		logger.Fatal("session_init_failed", zap.Error(err))
	}

	var deposits *payment.Deposits
	if cfg.MPesa.Enabled() {
		gw := payment.NewClient(payment.ClientOptions{
			BaseURL:        cfg.MPesa.BaseURL,
			ConsumerKey:    cfg.MPesa.ConsumerKey,
			ConsumerSecret: cfg.MPesa.ConsumerSecret,
			ShortCode:      cfg.MPesa.ShortCode,
			PassKey:        cfg.MPesa.PassKey,
			CallbackURL:    cfg.MPesa.CallbackURL,
		})
		deposits = payment.NewDeposits(st, gw, m)
	} else {
		logger.Info("mpesa_disabled")
	}

	api := httpapi.New(httpapi.Options{
		Sessions:       svc,
		Deposits:       deposits,
		Verifier:       verifier,
		Messages:       msgs,
		CallbackSecret: cfg.MPesa.CallbackSecret,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	hub := realtime.NewHub(realtime.Options{
		Sessions:       svc,
		Verifier:       verifier,
		Bus:            bus,
		Metrics:        m,
		OriginPatterns: originPatterns(cfg.AllowedOrigins),
	})
	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", hub)
	wsSrv := &http.Server{Addr: cfg.WSAddr, Handler: wsMux, ReadHeaderTimeout: 10 * time.Second}
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}

	sweeper, err := sweep.New(svc, cfg.SweepInterval)
	if err != nil {
		logger.Fatal("sweep_init_failed", zap.Error(err))
	}
	sweeper.Start()

	errCh := make(chan error, 3)
	go func() { errCh <- api.Listen(cfg.HTTPAddr) }()
	go func() { errCh <- listen(wsSrv) }()
	go func() { errCh <- listen(metricsSrv) }()
	logger.Info("server_started",
		zap.String("http", cfg.HTTPAddr),
		zap.String("ws", cfg.WSAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("auth_mode", string(cfg.AuthMode)),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Bool("redis", rdb != nil),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal")
	case err := <-errCh:
		logger.Error("listener_failed", zap.Error(err))
	}

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := sweeper.Stop(); err != nil {
		logger.Warn("sweep_stop_failed", zap.Error(err))
	}
	if err := api.Shutdown(sctx); err != nil {
		logger.Warn("http_shutdown_failed", zap.Error(err))
	}
	if err := hub.Close(sctx); err != nil {
		logger.Warn("hub_close_failed", zap.Error(err))
	}
	_ = wsSrv.Shutdown(sctx)
	_ = metricsSrv.Shutdown(sctx)
	svc.Wait()
	logger.Info("server_stopped")
}

func openStore(ctx context.Context, cfg *appcfg.AppConfig) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		obslog.L().Warn("store_in_memory", zap.String("reason", "DATABASE_URL not set"))
		return store.NewMemory(), nil
	}
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, err
	}
	return pg, nil
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// originPatterns converts the CORS origin list into websocket host patterns.
func originPatterns(allowed string) []string {
	var out []string
	for _, o := range strings.Split(allowed, ",") {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		out = append(out, o)
	}
	return out
}
