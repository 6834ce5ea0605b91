package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceConfig holds the settings of the inference service.
type ServiceConfig struct {
	HTTPListenAddr      string `yaml:"http_listen_addr"`
	GRPCListenAddr      string `yaml:"grpc_listen_addr"`
	ModelPath           string `yaml:"model_path"`
	MaxRecent           int    `yaml:"max_recent"`
	SubscriberQueueSize int    `yaml:"subscriber_queue_size"`
	LogLevel            string `yaml:"log_level"`
}

// Level returns the configured slog level. Unknown names fall back to info.
func (s ServiceConfig) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// ClassifierConfig holds the rolling-window settings of the threat classifier.
type ClassifierConfig struct {
	Window     time.Duration `yaml:"window"`
	IdleTTL    time.Duration `yaml:"idle_ttl"`
	MaxSources int           `yaml:"max_sources"`
}

// HTTPSinkConfig configures delivery of flows to an ingest endpoint.
type HTTPSinkConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// FileSinkConfig configures on-disk flush snapshots.
type FileSinkConfig struct {
	RootPath string `yaml:"root_path"`
}

// SinkDef defines a single flow sink of the probe.
type SinkDef struct {
	Type       string           `yaml:"type"` // http, nats, clickhouse or file
	Enabled    bool             `yaml:"enabled"`
	HTTP       HTTPSinkConfig   `yaml:"http"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	File       FileSinkConfig   `yaml:"file"`
}

// ProbeConfig holds the settings of the capture agent.
type ProbeConfig struct {
	AgentID             string        `yaml:"agent_id"`
	Interface           string        `yaml:"interface"`
	PcapFile            string        `yaml:"pcap_file"`
	BPFFilter           string        `yaml:"bpf_filter"`
	NumWorkers          int           `yaml:"num_workers"`
	SizeOfPacketChannel int           `yaml:"size_of_packet_channel"`
	NumShards           uint32        `yaml:"num_shards"`
	FlushInterval       time.Duration `yaml:"flush_interval"`
	FlowTTL             time.Duration `yaml:"flow_ttl"`
	MaxFlush            int           `yaml:"max_flush"`
	Sinks               []SinkDef     `yaml:"sinks"`
}

// NATSConfig holds the broker settings shared by probe and service.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// AIAnalysisConfig toggles LLM analysis of alert digests.
type AIAnalysisConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// AlerterConfig holds the configuration for the verdict digest alerter.
type AlerterConfig struct {
	Enabled       bool             `yaml:"enabled"`
	CheckInterval time.Duration    `yaml:"check_interval"`
	MinConfidence float64          `yaml:"min_confidence"`
	AIAnalysis    AIAnalysisConfig `yaml:"ai_analysis"`
}

// SMTPConfig holds the configuration for the email notifier.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// AIConfig holds the configuration for the AI analyzer.
type AIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Probe      ProbeConfig      `yaml:"probe"`
	NATS       NATSConfig       `yaml:"nats"`
	Alerter    AlerterConfig    `yaml:"alerter"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	AI         AIConfig         `yaml:"ai"`
}

// Default returns the configuration used for every key the file omits.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			HTTPListenAddr:      ":8000",
			GRPCListenAddr:      ":9090",
			ModelPath:           "models/autoencoder.json",
			MaxRecent:           64,
			SubscriberQueueSize: 256,
			LogLevel:            "info",
		},
		Classifier: ClassifierConfig{
			Window:     30 * time.Second,
			IdleTTL:    2 * time.Minute,
			MaxSources: 100000,
		},
		Probe: ProbeConfig{
			BPFFilter:           "tcp or udp",
			NumWorkers:          4,
			SizeOfPacketChannel: 1000,
			NumShards:           256,
			FlushInterval:       time.Second,
			FlowTTL:             30 * time.Second,
			MaxFlush:            200,
			Sinks: []SinkDef{
				{
					Type:    "http",
					Enabled: true,
					HTTP: HTTPSinkConfig{
						URL:     "http://127.0.0.1:8000/ingest",
						Timeout: 750 * time.Millisecond,
					},
				},
			},
		},
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Subject: "aegisnet.flows",
		},
		Alerter: AlerterConfig{
			CheckInterval: time.Minute,
			MinConfidence: 0.5,
			AIAnalysis:    AIAnalysisConfig{Timeout: 60 * time.Second},
		},
		AI: AIConfig{Model: "gpt-4o-mini"},
	}
}

// LoadConfig reads the configuration from a YAML file on top of Default.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Service.MaxRecent <= 0 {
		return fmt.Errorf("service.max_recent must be positive, got %d", c.Service.MaxRecent)
	}
	if c.Service.SubscriberQueueSize < 2 {
		return fmt.Errorf("service.subscriber_queue_size must be at least 2, got %d", c.Service.SubscriberQueueSize)
	}
	if c.Classifier.Window <= 0 {
		return fmt.Errorf("classifier.window must be a positive duration")
	}
	if c.Classifier.IdleTTL < c.Classifier.Window {
		return fmt.Errorf("classifier.idle_ttl (%s) must not be shorter than classifier.window (%s)",
			c.Classifier.IdleTTL, c.Classifier.Window)
	}
	if c.Classifier.MaxSources <= 0 {
		return fmt.Errorf("classifier.max_sources must be positive, got %d", c.Classifier.MaxSources)
	}
	if c.Probe.FlushInterval <= 0 || c.Probe.FlowTTL <= 0 {
		return fmt.Errorf("probe.flush_interval and probe.flow_ttl must be positive durations")
	}
	if c.Probe.MaxFlush <= 0 {
		return fmt.Errorf("probe.max_flush must be positive, got %d", c.Probe.MaxFlush)
	}
	if c.Probe.NumWorkers <= 0 {
		return fmt.Errorf("probe.num_workers must be positive, got %d", c.Probe.NumWorkers)
	}
	for i, s := range c.Probe.Sinks {
		switch s.Type {
		case "http", "nats", "clickhouse", "file":
		default:
			return fmt.Errorf("probe.sinks[%d]: unknown sink type '%s'", i, s.Type)
		}
	}
	if c.Alerter.Enabled && c.Alerter.CheckInterval <= 0 {
		return fmt.Errorf("alerter.check_interval must be a positive duration")
	}
	return nil
}
