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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Wyydra/yacall/internal/adapter/driven/lifecycle/rest"
	"github.com/Wyydra/yacall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/yacall/internal/adapter/driven/signaling"
	"github.com/Wyydra/yacall/internal/adapter/driving/console"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/session"
	"github.com/Wyydra/yacall/internal/logger"
	"github.com/Wyydra/yacall/internal/metrics"
)

func main() {
	configPath := flag.String("config", os.Getenv("YACALL_CONFIG"), "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	l := logger.New(cfg.App.Env, cfg.App.LogLevel, os.Stderr)

	if err := cfg.ValidateClient(); err != nil {
		l.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Fatal().Err(err).Msg("Client failed")
	}
}

func run(ctx context.Context, cfg *config.Config, l zerolog.Logger) error {
	self, err := domain.ParseUserID(cfg.Client.UserID)
	if err != nil {
		return err
	}

	lifecycle, err := rest.NewClient(cfg.Client.ServerURL, cfg.Client.Token, cfg.Client.RequestTimeout)
	if err != nil {
		return err
	}
	lifecycle.WithLogger(l)
	channel, err := signaling.NewChannel(signaling.Config{
		ServerURL:    cfg.Client.ServerURL,
		Token:        cfg.Client.Token,
		ReconnectMin: cfg.Client.ReconnectMin,
		ReconnectMax: cfg.Client.ReconnectMax,
	})
	if err != nil {
		return err
	}
	engine, err := pion.NewEngine(pion.Config{
		ICEServers: cfg.Media.ICEServers,
		AllowAudio: cfg.Media.AllowAudio,
		AllowVideo: cfg.Media.AllowVideo,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	sessionLog := l.With().Str("user_id", self.String()).Logger()

	machine := session.New(session.Config{
		Self:                self,
		IncomingRingTimeout: cfg.Client.IncomingRingTimeout,
		OutgoingRingTimeout: cfg.Client.OutgoingRingTimeout,
		NegotiationTimeout:  cfg.Client.NegotiationTimeout,
		EndedHold:           cfg.Client.EndedHold,
		QualityInterval:     cfg.Client.QualityInterval,
		TickInterval:        time.Second,
		RequestTimeout:      cfg.Client.RequestTimeout,
		NotifyIncoming:      cfg.Client.NotifyIncoming,
		Thresholds:          cfg.Quality,
	}, session.Deps{
		Lifecycle: lifecycle,
		Signaling: channel,
		Media:     engine,
		Alerter:   console.NewAlerter(l),
		Metrics:   metrics.NewSession(reg),
		Logger:    &sessionLog,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return channel.Run(gctx) })
	g.Go(func() error { return machine.Run(gctx) })
	g.Go(func() error {
		// Leaving the console ends the client.
		defer cancel()
		l.Info().Str("user_id", self.String()).Msg("Ready, type help for commands")
		return console.New(machine, os.Stdin, os.Stdout, l).Run(gctx)
	})

	if cfg.Client.DebugAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Client.DebugAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			l.Info().Str("addr", cfg.Client.DebugAddr).Msg("Serving client metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
