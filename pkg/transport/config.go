package transport

import (
	"errors"
	"io"
	"time"

	"github.com/hualong-shen/mcp-go/pkg/logging"
	"github.com/hualong-shen/mcp-go/pkg/observability"
)

// Config is the unified configuration for all transports.
type Config struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// Endpoint is the HTTP URL for streamable HTTP transports.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Reader/Writer override stdin/stdout for stdio transports.
	// Primarily for tests.
	Reader io.Reader `json:"-" yaml:"-"`
	Writer io.Writer `json:"-" yaml:"-"`

	Features    FeatureConfig     `json:"features" yaml:"features"`
	Connection  ConnectionConfig  `json:"connection" yaml:"connection"`
	Reliability ReliabilityConfig `json:"reliability" yaml:"reliability"`
	Security    SecurityConfig    `json:"security" yaml:"security"`

	// Logger receives transport-level diagnostics. Nil means silent.
	Logger logging.Logger `json:"-" yaml:"-"`
	// Metrics, when set together with Features.EnableMetrics, records
	// per-method request counts and latencies.
	Metrics *observability.Metrics `json:"-" yaml:"-"`
}

// FeatureConfig toggles middleware layers.
type FeatureConfig struct {
	EnableReliability bool `json:"enable_reliability" yaml:"enable_reliability"`
	EnableMetrics     bool `json:"enable_metrics" yaml:"enable_metrics"`
}

// ConnectionConfig tunes the underlying connection.
type ConnectionConfig struct {
	// RequestTimeout bounds a single request/response round trip.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
	// ReadIdleTimeout closes an SSE stream that has been silent for
	// this long. Heartbeat comments reset it.
	ReadIdleTimeout time.Duration `json:"read_idle_timeout" yaml:"read_idle_timeout"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	IdleConnTimeout time.Duration `json:"idle_conn_timeout" yaml:"idle_conn_timeout"`
}

// ReliabilityConfig tunes the retry middleware.
type ReliabilityConfig struct {
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	InitialRetryDelay time.Duration `json:"initial_retry_delay" yaml:"initial_retry_delay"`
	MaxRetryDelay     time.Duration `json:"max_retry_delay" yaml:"max_retry_delay"`
	BackoffFactor     float64       `json:"backoff_factor" yaml:"backoff_factor"`

	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the breaker inside the retry middleware.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold"`
	OpenFor          time.Duration `json:"open_for" yaml:"open_for"`
}

// SecurityConfig carries client-side credentials.
type SecurityConfig struct {
	// BearerToken, when set, is sent as an Authorization header on
	// every HTTP request.
	BearerToken string `json:"bearer_token,omitempty" yaml:"bearer_token,omitempty"`
}

// DefaultConfig returns a Config with production defaults for the given
// transport kind.
func DefaultConfig(kind Kind) Config {
	return Config{
		Kind: kind,
		Features: FeatureConfig{
			EnableReliability: true,
		},
		Connection: ConnectionConfig{
			RequestTimeout:  30 * time.Second,
			ReadIdleTimeout: 60 * time.Second,
			MaxIdleConns:    100,
			IdleConnTimeout: 90 * time.Second,
		},
		Reliability: ReliabilityConfig{
			MaxRetries:        3,
			InitialRetryDelay: time.Second,
			MaxRetryDelay:     30 * time.Second,
			BackoffFactor:     2.0,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				SuccessThreshold: 2,
				OpenFor:          60 * time.Second,
			},
		},
	}
}

func (c Config) validate() error {
	switch c.Kind {
	case KindStdio:
		return nil
	case KindStreamableHTTP:
		if c.Endpoint == "" {
			return errors.New("endpoint is required for streamable HTTP transports")
		}
		return nil
	default:
		return ErrUnsupportedKind
	}
}

// buildMiddleware assembles the middleware stack the config enables.
// The first element ends up outermost.
func buildMiddleware(config Config) []Middleware {
	var mw []Middleware
	if config.Features.EnableMetrics && config.Metrics != nil {
		mw = append(mw, NewMetricsMiddleware(config.Metrics))
	}
	if config.Features.EnableReliability {
		mw = append(mw, NewReliabilityMiddleware(config.Reliability, config.Logger))
	}
	return mw
}
