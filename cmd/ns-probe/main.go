package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AegisNet/internal/config"
	"AegisNet/internal/engine/flowaggregator"
	"AegisNet/internal/factory"
	"AegisNet/internal/metrics"
	capture "AegisNet/pkg/pcap"

	"github.com/google/gopacket/pcap"
)

const (
	snapshotLen int32 = 1600
	promiscuous       = true
	readTimeout       = 500 * time.Millisecond
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	iface := flag.String("iface", "", "Interface to capture packets from (overrides probe.interface)")
	pcapFile := flag.String("pcap", "", "Capture file to replay instead of a live interface (overrides probe.pcap_file)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *iface != "" {
		cfg.Probe.Interface = *iface
	}
	if *pcapFile != "" {
		cfg.Probe.PcapFile = *pcapFile
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Service.Level()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("ns-probe exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agentID := cfg.Probe.AgentID
	if agentID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "unknown"
		}
		agentID = host
	}
	logger = logger.With("agent_id", agentID)

	reader, err := openSource(cfg.Probe, logger)
	if err != nil {
		return err
	}
	defer reader.Close()

	sinks, err := factory.CreateSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				logger.Warn("Failed to close sink", "sink", s.Name(), "error", err)
			}
		}
	}()

	m := metrics.New()
	opts := flowaggregator.OptionsFromConfig(agentID, cfg.Probe)
	// A replayed file is aged by its own timestamps, not by when it is read.
	opts.CaptureClock = cfg.Probe.PcapFile != ""
	agg := flowaggregator.NewFlowAggregator(opts, sinks, m, logger)
	agg.Start(ctx)

	logger.Info("Capture started", "interface", cfg.Probe.Interface, "pcap_file", cfg.Probe.PcapFile)
	st, readErr := reader.ReadPackets(ctx, agg.Input())
	logger.Info("Capture finished", "read", st.Read, "parsed", st.Parsed, "skipped", st.Skipped)

	// Stop drains the workers and flushes what is left.
	agg.Stop()
	return readErr
}

func openSource(cfg config.ProbeConfig, logger *slog.Logger) (*capture.Reader, error) {
	if cfg.PcapFile != "" {
		return capture.OpenFile(cfg.PcapFile, logger)
	}
	if cfg.Interface == "" {
		return nil, errors.New("either probe.interface or probe.pcap_file must be set")
	}

	handle, err := pcap.OpenLive(cfg.Interface, snapshotLen, promiscuous, readTimeout)
	if err != nil {
		return nil, err
	}
	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, err
		}
	}
	retryable := func(err error) bool { return errors.Is(err, pcap.NextErrorTimeoutExpired) }
	return capture.NewReader(handle, handleCloser{handle}, retryable, logger), nil
}

type handleCloser struct{ h *pcap.Handle }

func (c handleCloser) Close() error {
	c.h.Close()
	return nil
}
