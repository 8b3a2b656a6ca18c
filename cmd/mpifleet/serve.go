package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mpifleet/internal/bus"
	"mpifleet/internal/config"
	"mpifleet/internal/handler"
	"mpifleet/internal/hub"
	"mpifleet/internal/metrics"
	"mpifleet/internal/repository"
	"mpifleet/internal/repository/sqlite"
	"mpifleet/internal/service"
)

const (
	subscriberBuffer = 256
	shutdownTimeout  = 10 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with live events and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.HTTP.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default from config, :8080)")
	return cmd
}

func subscribe(events *service.EventBus) (<-chan service.Event, func()) {
	ch := make(chan service.Event, subscriberBuffer)
	return ch, events.Subscribe(ch)
}

func (a *app) serve(ctx context.Context) error {
	log := a.log
	events := service.NewEventBus()
	orch, err := a.newOrchestrator(events)
	if err != nil {
		return err
	}
	fleetMetrics := metrics.New()

	// Installs outlive ctx, so their results are recorded until they finish
	recordCtx, stopRecording := context.WithCancel(context.Background())
	defer stopRecording()

	if path := config.ExpandHome(a.cfg.Storage.Path); path != "" {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}
		defer store.Close()

		machines, err := store.ListMachines(ctx)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		orch.Restore(machines)
		log.Info().Str("path", path).Int("machines", len(machines)).Msg("Restored snapshot")

		defer repository.NewRecorder(store, log).Attach(recordCtx, events, subscriberBuffer)()
	}
	fleetMetrics.Seed(orch.ListMachines())

	metricsCh, unsubscribeMetrics := subscribe(events)
	defer unsubscribeMetrics()
	go fleetMetrics.Run(ctx, metricsCh)

	sse := hub.New(log)
	go sse.Run(ctx)
	hubCh, unsubscribeHub := subscribe(events)
	defer unsubscribeHub()
	go sse.Forward(ctx, hubCh)

	if a.cfg.NATS.URL != "" {
		pub, err := bus.Connect(a.cfg.NATS.URL, a.cfg.NATS.Subject, log)
		if err != nil {
			return err
		}
		defer pub.Close()
		natsCh, unsubscribeNATS := subscribe(events)
		defer unsubscribeNATS()
		go pub.Run(recordCtx, natsCh)
		log.Info().Str("url", a.cfg.NATS.URL).Str("subject", a.cfg.NATS.Subject).Msg("Publishing events to NATS")
	}

	mux := http.NewServeMux()
	handler.NewAPI(ctx, orch, handler.Options{
		DefaultBase:  a.cfg.Scan.Base,
		DefaultCount: a.cfg.Scan.Count,
		ResolveBase:  resolveBase,
	}, log).Register(mux)
	mux.Handle("GET /events", sse)
	mux.Handle("GET /metrics", fleetMetrics.Handler())

	server := &http.Server{
		Addr:        a.cfg.HTTP.Addr,
		Handler:     handler.Chain(mux, handler.Recover(log), handler.CORS, handler.Logger(log)),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /events streams stay open
		IdleTimeout: 60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Waiting for running installs")
	orch.Wait()
	stopRecording()
	log.Info().Msg("Server stopped")
	return nil
}
