package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AegisNet/internal/ai"
	"AegisNet/internal/alerter"
	"AegisNet/internal/api"
	"AegisNet/internal/classifier"
	"AegisNet/internal/config"
	"AegisNet/internal/eventbus"
	"AegisNet/internal/metrics"
	"AegisNet/internal/model"
	"AegisNet/internal/notification"
	"AegisNet/internal/pipeline"
	"AegisNet/internal/probe"
	"AegisNet/internal/resultlog"
	"AegisNet/internal/scoring"
	"AegisNet/internal/validate"
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Service.Level()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("ns-inference exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The service does not start without a model.
	scorer, err := scoring.LoadAutoencoder(cfg.Service.ModelPath)
	if err != nil {
		return err
	}
	logger.Info("Model loaded", "path", cfg.Service.ModelPath, "features", scorer.Fields())

	m := metrics.New()
	validator, err := validate.New(logger)
	if err != nil {
		return err
	}
	results := resultlog.New(cfg.Service.MaxRecent)
	bus := eventbus.NewBus(cfg.Service.SubscriberQueueSize, func() []resultlog.Entry { return results.Recent(0) }, m, logger)
	cls := classifier.New(cfg.Classifier, m)
	p := pipeline.New(scorer, cls, results, bus, m, logger)

	handler := api.NewHandler(p, results, bus, validator, m, logger)
	server := &http.Server{
		Addr:              cfg.Service.HTTPListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := api.NewGRPCServer(logger)
	lis, err := net.Listen("tcp", cfg.Service.GRPCListenAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	var sub *probe.Subscriber
	if cfg.NATS.Enabled {
		sub, err = probe.NewSubscriber(cfg.NATS, m, logger)
		if err != nil {
			return err
		}
		err = sub.Start(ctx, func(ctx context.Context, ev model.IngestEvent) error {
			_, err := p.Ingest(ctx, ev)
			return err
		})
		if err != nil {
			return err
		}
	}

	var alert *alerter.Alerter
	if cfg.Alerter.Enabled {
		alert, err = newAlerter(cfg, bus, m, logger)
		if err != nil {
			return err
		}
		alert.Start(ctx)
	}

	handler.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info("ns-inference ready")

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, cleaning up...")
	case err = <-errCh:
		logger.Error("Server failed", "error", err)
	}

	handler.SetReady(false)
	if sub != nil {
		_ = sub.Close()
	}
	grpcServer.Stop()
	if alert != nil {
		alert.Stop()
	}
	bus.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logger.Error("HTTP server forced to shutdown", "error", serr)
	}
	logger.Info("ns-inference exited")
	return err
}

func newAlerter(cfg *config.Config, bus *eventbus.Bus, m *metrics.Metrics, logger *slog.Logger) (*alerter.Alerter, error) {
	notifier, err := notification.NewEmailNotifier(cfg.SMTP)
	if err != nil {
		return nil, err
	}
	var analyzer model.Analyzer
	if cfg.Alerter.AIAnalysis.Enabled {
		a, err := ai.NewAlerterAnalyzer(cfg.AI)
		if err != nil {
			return nil, err
		}
		analyzer = a
	}
	return alerter.NewAlerter(cfg.Alerter, bus, notifier, analyzer, m, logger)
}
