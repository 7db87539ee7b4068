package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/yacall/internal/adapter/driven/persistence/postgres"
	"github.com/Wyydra/yacall/internal/adapter/driven/presence"
	handler "github.com/Wyydra/yacall/internal/adapter/driving/http"
	"github.com/Wyydra/yacall/internal/auth"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/Wyydra/yacall/internal/logger"
	"github.com/Wyydra/yacall/internal/metrics"
)

func main() {
	configPath := flag.String("config", os.Getenv("YACALL_CONFIG"), "path to a TOML config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] [token <user-id>]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	l := logger.New(cfg.App.Env, cfg.App.LogLevel, os.Stdout)

	if flag.Arg(0) == "token" {
		if err := issueToken(cfg, flag.Arg(1)); err != nil {
			l.Fatal().Err(err).Msg("Failed to issue token")
		}
		return
	}

	if err := cfg.ValidateServer(); err != nil {
		l.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Fatal().Err(err).Msg("Server failed")
	}
	l.Info().Msg("Server exited")
}

// issueToken prints a bearer token for userID, or for a fresh id when none
// is given.
func issueToken(cfg *config.Config, raw string) error {
	mgr, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}
	userID := domain.NewUserID()
	if raw != "" {
		if userID, err = domain.ParseUserID(raw); err != nil {
			return fmt.Errorf("user id: %w", err)
		}
	}
	tok, err := mgr.Issue(time.Now(), userID)
	if err != nil {
		return err
	}
	fmt.Printf("user_id=%s\ntoken=%s\n", userID, tok)
	return nil
}

type stores struct {
	calls    port.CallRepository
	messages port.MessageRepository
	busy     port.BusyLock
	close    func()
}

func openStores(ctx context.Context, cfg *config.Config, l zerolog.Logger) (*stores, error) {
	s := &stores{close: func() {}}
	var closers []func()

	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, postgres.PoolConfig{})
		if err != nil {
			return nil, err
		}
		closers = append(closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		s.calls = postgres.NewCallRepository(pool)
		s.messages = postgres.NewMessageRepository(pool)
		l.Info().Msg("Using postgres storage")
	default:
		s.calls = memory.NewCallRepository()
		s.messages = memory.NewMessageRepository()
		l.Info().Msg("Using in-memory storage")
	}

	if cfg.Storage.RedisAddr != "" {
		rdb, err := presence.OpenRedis(ctx, presence.RedisConfig{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
		})
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		s.busy = presence.NewRedisLock(rdb, cfg.Storage.BusyTTL)
		l.Info().Msg("Using redis busy lock")
	} else {
		s.busy = presence.NewMemoryLock()
	}

	s.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return s, nil
}

func run(ctx context.Context, cfg *config.Config, l zerolog.Logger) error {
	st, err := openStores(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewRegistry(reg)

	mgr, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	hub := ws.NewHub(m)
	chatService := service.NewChatService(st.messages, hub)
	callService := service.NewCallService(st.calls, st.busy, chatService, hub, m)
	signalService := service.NewSignalService(st.calls, hub, m)

	h := handler.NewHandler(cfg.Server, handler.Deps{
		Calls:    callService,
		Chat:     chatService,
		Signal:   signalService,
		Hub:      hub,
		Auth:     mgr,
		Metrics:  m,
		Gatherer: reg,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      h.NewRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		l.Info().Str("addr", cfg.Server.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		l.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			l.Error().Err(err).Msg("Server forced to shutdown")
		}
		hub.Stop()
		return err
	})
	return g.Wait()
}
