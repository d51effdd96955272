package config

import "time"

// TracingConfig controls the OTel exporter.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Protocol    string `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

// Enabled reports whether an exporter endpoint has been configured.
func (t TracingConfig) Enabled() bool { return t.Endpoint != "" }

// Server holds process-wide settings loaded by the Loader.
type Server struct {
	Listen         string        `mapstructure:"listen"`
	ResultsDir     string        `mapstructure:"results_dir"`
	PlansDir       string        `mapstructure:"plans_dir"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DrainGrace     time.Duration `mapstructure:"drain_grace"`
	OutboxSize     int           `mapstructure:"outbox_size"`
	MaxRecords     int           `mapstructure:"max_records"`
	APIRate        int           `mapstructure:"api_rate"`
	APIBurst       int           `mapstructure:"api_burst"`
	LogLevel       string        `mapstructure:"log_level"`
	Tracing        TracingConfig `mapstructure:"tracing"`
}

func (s *Server) normalize() {
	if s.Listen == "" {
		s.Listen = ":8090"
	}
	if s.ResultsDir == "" {
		s.ResultsDir = "results"
	}
	if s.PlansDir == "" {
		s.PlansDir = "plans"
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 30 * time.Second
	}
	if s.DrainGrace <= 0 {
		s.DrainGrace = 30 * time.Second
	}
	if s.OutboxSize <= 0 {
		s.OutboxSize = 64
	}
	if s.MaxRecords <= 0 {
		s.MaxRecords = 200
	}
	if s.APIRate <= 0 {
		s.APIRate = 100
	}
	if s.APIBurst <= 0 {
		s.APIBurst = 200
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
}
