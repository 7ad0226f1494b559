package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/stopbars/realtime/internal/analytics"
	"github.com/stopbars/realtime/internal/catalogue"
	"github.com/stopbars/realtime/internal/config"
	"github.com/stopbars/realtime/internal/directory"
	"github.com/stopbars/realtime/internal/hub"
	"github.com/stopbars/realtime/internal/identity"
	"github.com/stopbars/realtime/internal/merge"
	"github.com/stopbars/realtime/internal/protocol"
	"github.com/stopbars/realtime/internal/server"
	"github.com/stopbars/realtime/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to yaml config file")
	flag.Parse()

	// Local development convenience; production sets real env vars.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Server.Env == "development" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	// Cloud Run hands the port through the environment.
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	st := store.NewRedis(rdb, cfg.Redis.KeyPrefix)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := st.Ping(ctx); err != nil {
			// Hubs degrade to empty state without Redis; keep serving.
			slog.Warn("redis unreachable at startup", "addr", cfg.Redis.Addr, "error", err)
		}
		cancel()
	}

	dir, err := directory.NewSupabase(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
	if err != nil {
		slog.Error("supabase directory init failed", "error", err)
		os.Exit(1)
	}
	cat, err := catalogue.NewSupabase(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
	if err != nil {
		slog.Error("supabase catalogue init failed", "error", err)
		os.Exit(1)
	}

	oracle := identity.NewVATSIMClient(cfg.VATSIM.BaseURL, cfg.Hub.IdentityTimeout())

	var sink analytics.Sink = analytics.NopSink{}
	if cfg.Analytics.ProjectID != "" {
		ps, err := analytics.NewPubSubSink(cfg.Analytics.ProjectID, cfg.Analytics.TopicID)
		if err != nil {
			slog.Warn("pub/sub sink init failed, analytics disabled", "error", err)
		} else {
			sink = ps
		}
	}
	emitter := analytics.NewEmitter(sink, cfg.Analytics.Buffer, hub.AnalyticsDropCounter)

	limits := protocol.Limits{
		MaxPacketChars: cfg.Hub.MaxPacketChars,
		MaxPatchSize:   cfg.Hub.MaxPatchSize,
		Guards: merge.Limits{
			MaxDepth:      cfg.Merge.MaxDepth,
			MaxProperties: cfg.Merge.MaxProperties,
			MaxArraySize:  cfg.Merge.MaxArraySize,
			MaxKeyLength:  cfg.Merge.MaxKeyLength,
		},
	}

	reg := hub.NewRegistry(cfg.Hub, limits, hub.Deps{
		Oracle:    oracle,
		Directory: dir,
		Catalogue: cat,
		Store:     st,
		Active:    st,
		Analytics: emitter,
	})

	srv := server.New(cfg.Server, reg, st.Ping)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("server shutdown error", "error", err)
		}
	}()

	if err := srv.Start(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	reg.Shutdown()
	if err := emitter.Close(); err != nil {
		slog.Warn("analytics close failed", "error", err)
	}
	slog.Info("server stopped")
}
