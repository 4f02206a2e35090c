package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/matchsync/internal/hub"
	"github.com/dgnsrekt/matchsync/internal/match"
	"github.com/dgnsrekt/matchsync/internal/notify"
	"github.com/dgnsrekt/matchsync/internal/server"
	matchsync "github.com/dgnsrekt/matchsync/internal/sync"
	"github.com/dgnsrekt/matchsync/internal/ws"
)

func watchCmd(flags *rootFlags) *cobra.Command {
	var (
		tournament string
		record     string
		noObserver bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live match updates from the hub",
		Long: `Connect to the hub, subscribe to a tournament, and follow match updates.

Updates are logged and fanned out to browser observers over Server-Sent Events
at /events on the observer address. Prometheus metrics are served at /metrics.

Examples:
  # Follow a tournament
  matchsync watch --tournament spring-open

  # Record every inbound frame for later replay by hubfaker
  matchsync watch --tournament spring-open --record frames.jsonl.zst

Send SIGHUP to drop every stored match and identity binding without
reconnecting.`,
		Args: cobra.NoArgs,
		RunE: withSession(flags, func(ctx context.Context, s *session, _ []string) error {
			if tournament == "" {
				tournament = s.cfg.Tournament
			}
			return runWatch(ctx, s, tournament, record, !noObserver && s.cfg.Observer.Enabled)
		}),
	}

	cmd.Flags().StringVarP(&tournament, "tournament", "t", "", "tournament to subscribe to (default from config)")
	cmd.Flags().StringVar(&record, "record", "", "append inbound frames to this JSONL file (.zst to compress)")
	cmd.Flags().BoolVar(&noObserver, "no-observer", false, "do not serve the observer endpoints")

	return cmd
}

func runWatch(ctx context.Context, s *session, tournament, record string, serveObserver bool) error {
	cfg, logger := s.cfg, s.logger

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := ws.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	broadcasterID := cfg.Observer.BroadcasterID
	if broadcasterID == "" {
		broadcasterID, _ = os.Hostname()
	}
	broadcaster := matchsync.NewMatchBroadcaster(broadcasterID, cfg.Observer.KeepAlive, logger)

	ntfyCfg := notify.LoadConfig()
	if err := ntfyCfg.Validate(); err != nil {
		return err
	}
	watcher := notify.NewLinkWatcher(notify.New(ntfyCfg, logger), logger)

	var recorder *hub.Recorder
	if record != "" {
		recorder, err = hub.NewRecorder(record)
		if err != nil {
			return err
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				logger.Warn("failed to close recording", zap.Error(err))
			}
		}()
		logger.Info("recording frames", zap.String("path", record))
	}

	handlers := ws.Handlers{
		OnMatchUpdate: func(u match.Update) {
			logger.Info("match update",
				zap.String("match", u.Ref()),
				zap.String("source", u.Source),
				zap.String("status", string(u.Status)),
				zap.String("player1", u.Player1.Name.OrElse("")),
				zap.String("player2", u.Player2.Name.OrElse("")),
			)
			broadcaster.PublishUpdate(u)
		},
		OnSubscriptionConfirmed: func(c ws.Confirmation) {
			logger.Info("subscribed", zap.String("tournament", c.Subject))
		},
		OnServerError: func(e ws.ServerError) {
			logger.Warn("hub error", zap.String("code", e.Code), zap.String("message", e.Message))
		},
	}
	if recorder != nil {
		handlers.OnFrame = func(kind ws.Kind, raw []byte) {
			if kind == ws.KindHeartbeatAck {
				return
			}
			if err := recorder.Record(tournament, raw); err != nil {
				logger.Warn("failed to record frame", zap.Error(err))
			}
		}
	}

	var closing atomic.Bool
	onStatus := func(connected bool, reason string) {
		broadcaster.PublishStatus(connected, reason)
		if !closing.Load() {
			watcher.Observe(connected, reason)
		}
	}

	client, err := ws.NewClient(cfg.ClientConfig(), handlers, onStatus, logger, metrics)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		broadcaster.Run(gctx)
		return nil
	})

	if serveObserver {
		srv := server.NewServer(broadcaster, client.Supervisor(), logger)
		httpServer := &http.Server{
			Addr:              cfg.Observer.Addr,
			Handler:           server.NewRouter(srv, registry, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving observers", zap.String("addr", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("observer server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if err := client.Start(gctx); err != nil {
		// Not fatal: the supervisor keeps retrying in the background.
		logger.Warn("initial connect failed", zap.Error(err))
	}
	if tournament != "" {
		if err := client.Subscribe(gctx, tournament); err != nil {
			logger.Warn("subscribe failed", zap.String("tournament", tournament), zap.Error(err))
		}
	} else {
		logger.Warn("no tournament configured, waiting for hub broadcasts only")
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				dropped := client.ResetIdentities()
				broadcaster.Reset()
				logger.Info("match state reset", zap.Int("bindings", dropped))
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		closing.Store(true)
		logger.Info("closing hub link")
		return client.Close()
	})

	err = g.Wait()
	watcher.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
