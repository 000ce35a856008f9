package observability

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
)

const (
	// EndpointStdout writes telemetry to stdout instead of a collector.
	EndpointStdout = "stdout"

	// ProtocolHTTP selects OTLP over HTTP/protobuf.
	ProtocolHTTP = "http"

	// ProtocolGRPC selects OTLP over gRPC.
	ProtocolGRPC = "grpc"
)

var (
	// ErrNilConfig is returned by Validate on a nil Config.
	ErrNilConfig = errors.New("observability: config is nil")

	// ErrMissingServiceName is returned when telemetry is enabled without a service name.
	ErrMissingServiceName = errors.New("observability: service name is required when observability is enabled")

	// ErrInvalidProtocol is returned for protocols other than "http" and "grpc".
	ErrInvalidProtocol = errors.New("observability: protocol must be either 'http' or 'grpc'")

	// ErrInvalidEndpointFormat is returned when the endpoint does not fit the protocol:
	// gRPC takes host:port, HTTP takes a URL with scheme.
	ErrInvalidEndpointFormat = errors.New("observability: invalid endpoint format for protocol")

	// ErrInvalidSampleRate is returned for trace sample rates outside [0, 1].
	ErrInvalidSampleRate = errors.New("observability: trace sample rate must be between 0.0 and 1.0")
)

// Config controls trace and metric export. Both signals share the exporter settings.
type Config struct {
	Enabled bool `koanf:"enabled"`

	Service     ServiceConfig `koanf:"service"`
	Environment string        `koanf:"environment"`

	// Endpoint is the collector address, or "stdout".
	Endpoint string            `koanf:"endpoint"`
	Protocol string            `koanf:"protocol"`
	Insecure bool              `koanf:"insecure"`
	Headers  map[string]string `koanf:"headers"`

	Trace   TraceConfig   `koanf:"trace"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// ServiceConfig identifies the service in exported telemetry.
type ServiceConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// TraceConfig holds span export settings.
type TraceConfig struct {
	Enabled bool `koanf:"enabled"`

	// SampleRate is the ratio of root spans kept. Zero means keep all.
	SampleRate   float64       `koanf:"samplerate"`
	BatchTimeout time.Duration `koanf:"batchtimeout"`
}

// MetricsConfig holds metric export settings.
type MetricsConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Interval      time.Duration `koanf:"interval"`
	ExportTimeout time.Duration `koanf:"exporttimeout"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Service.Version == "" {
		c.Service.Version = "unknown"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Endpoint == "" {
		c.Endpoint = EndpointStdout
	}
	if c.Protocol == "" {
		c.Protocol = ProtocolHTTP
	}
	if c.Trace.SampleRate == 0 {
		c.Trace.SampleRate = 1
	}
	if c.Trace.BatchTimeout == 0 {
		c.Trace.BatchTimeout = 5 * time.Second
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = 30 * time.Second
	}
	if c.Metrics.ExportTimeout == 0 {
		c.Metrics.ExportTimeout = 10 * time.Second
	}
	c.Headers = maps.Clone(c.Headers)
}

// Validate checks an enabled configuration. A disabled one is always valid.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if !c.Enabled {
		return nil
	}
	if c.Service.Name == "" {
		return ErrMissingServiceName
	}
	if c.Trace.SampleRate < 0 || c.Trace.SampleRate > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRate, c.Trace.SampleRate)
	}
	if c.Endpoint == EndpointStdout {
		return nil
	}

	hasScheme := strings.HasPrefix(c.Endpoint, "http://") || strings.HasPrefix(c.Endpoint, "https://")
	switch c.Protocol {
	case ProtocolHTTP:
		if !hasScheme {
			return fmt.Errorf("%w: http endpoint %q needs a scheme", ErrInvalidEndpointFormat, c.Endpoint)
		}
	case ProtocolGRPC:
		if hasScheme {
			return fmt.Errorf("%w: grpc endpoint %q must be host:port", ErrInvalidEndpointFormat, c.Endpoint)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, c.Protocol)
	}
	return nil
}
