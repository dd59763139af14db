package redisclient

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Dialer opens the network connection for a Conn. Tests use it to inject
// in-memory connections.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// config holds the configuration shared by a Manager and its connections
type config struct {
	// Endpoints
	readWriteHosts []Endpoint
	readOnlyHosts  []Endpoint
	password       string

	// Pools
	maxWritePoolSize int
	maxReadPoolSize  int
	poolTimeout      time.Duration
	defaultDB        int

	// Timeouts and retries
	connectTimeout time.Duration
	sendTimeout    time.Duration
	receiveTimeout time.Duration
	idleTimeout    time.Duration
	retryCount     int
	retryTimeout   time.Duration

	// Observability
	logger  Logger
	metrics MetricsCollector

	dialer Dialer
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		maxWritePoolSize: 10,
		maxReadPoolSize:  10,
		connectTimeout:   5 * time.Second,
		sendTimeout:      10 * time.Second,
		receiveTimeout:   30 * time.Second,
		idleTimeout:      240 * time.Second,
		logger:           defaultLogger(),
	}
}

// newConfig applies opts over the defaults and fills in derived values
func newConfig(opts []Option) (*config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.readWriteHosts) == 0 {
		cfg.readWriteHosts = []Endpoint{{Host: DefaultHost, Port: DefaultPort}}
	}
	if len(cfg.readOnlyHosts) == 0 {
		cfg.readOnlyHosts = cfg.readWriteHosts
	}
	return cfg, nil
}

// endpointPassword returns the password for ep, falling back to the global one
func (c *config) endpointPassword(ep Endpoint) string {
	if ep.Password != "" {
		return ep.Password
	}
	return c.password
}

func (c *config) recordCommand(cmd string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordCommand(cmd, d)
	}
}

func (c *config) recordError(kind string) {
	if c.metrics != nil {
		c.metrics.RecordError(kind)
	}
}

func (c *config) recordReconnection() {
	if c.metrics != nil {
		c.metrics.RecordReconnection()
	}
}

func (c *config) recordPoolWait(d time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordPoolWait(d)
	}
}

// Option represents a configuration option for a Manager or Conn
type Option func(*config) error

func hostsOption(hosts []string, dst *[]Endpoint) error {
	if len(hosts) == 0 {
		return fmt.Errorf("%w: empty host list", ErrInvalidConfig)
	}
	endpoints, err := ParseEndpoints(hosts)
	if err != nil {
		return err
	}
	*dst = endpoints
	return nil
}

// WithReadWriteHosts sets the endpoints used by the write pool
//
// Example:
//
//	WithReadWriteHosts("localhost:6379", "secret@10.0.0.2:6380")
func WithReadWriteHosts(hosts ...string) Option {
	return func(c *config) error {
		return hostsOption(hosts, &c.readWriteHosts)
	}
}

// WithReadOnlyHosts sets the endpoints used by the read pool.
// Defaults to the read-write hosts.
//
// Example:
//
//	WithReadOnlyHosts("replica-1:6379", "replica-2:6379")
func WithReadOnlyHosts(hosts ...string) Option {
	return func(c *config) error {
		return hostsOption(hosts, &c.readOnlyHosts)
	}
}

// WithMaxWritePoolSize sets the number of write pool slots (default 10)
func WithMaxWritePoolSize(size int) Option {
	return func(c *config) error {
		if size < 0 {
			return ErrInvalidConfig
		}
		c.maxWritePoolSize = size
		return nil
	}
}

// WithMaxReadPoolSize sets the number of read pool slots (default 10)
func WithMaxReadPoolSize(size int) Option {
	return func(c *config) error {
		if size < 0 {
			return ErrInvalidConfig
		}
		c.maxReadPoolSize = size
		return nil
	}
}

// WithDefaultDB sets the database index selected on every connection
//
// Example:
//
//	WithDefaultDB(2)
func WithDefaultDB(db int) Option {
	return func(c *config) error {
		if db < 0 {
			return ErrInvalidConfig
		}
		c.defaultDB = db
		return nil
	}
}

// WithPassword sets the password sent with AUTH for endpoints that carry none
func WithPassword(password string) Option {
	return func(c *config) error {
		c.password = password
		return nil
	}
}

// WithConnectTimeout sets the dial timeout
//
// Example:
//
//	WithConnectTimeout(2 * time.Second)
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithSendTimeout sets the write deadline for each command. Zero disables it.
func WithSendTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return ErrInvalidConfig
		}
		c.sendTimeout = timeout
		return nil
	}
}

// WithReceiveTimeout sets the read deadline for each reply. Zero disables it.
// Subscription loops never use a read deadline.
func WithReceiveTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return ErrInvalidConfig
		}
		c.receiveTimeout = timeout
		return nil
	}
}

// WithIdleTimeout sets how long a connection may sit unused before its
// socket is probed on next use. Zero disables the check.
//
// Example:
//
//	WithIdleTimeout(5 * time.Minute)
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return ErrInvalidConfig
		}
		c.idleTimeout = timeout
		return nil
	}
}

// WithRetry allows up to count extra dial attempts within timeout when a
// connection is opened. Commands themselves are never retried.
//
// Example:
//
//	WithRetry(3, 2*time.Second)
func WithRetry(count int, timeout time.Duration) Option {
	return func(c *config) error {
		if count < 0 || timeout < 0 {
			return ErrInvalidConfig
		}
		c.retryCount = count
		c.retryTimeout = timeout
		return nil
	}
}

// WithPoolTimeout bounds how long Acquire waits for a free slot.
// Zero (the default) waits forever.
func WithPoolTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return ErrInvalidConfig
		}
		c.poolTimeout = timeout
		return nil
	}
}

// WithLogger sets a custom logger
//
// Example:
//
//	WithLogger(redisclient.NewZerologLogger(os.Stdout, zerolog.DebugLevel))
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics enables metrics collection with the provided collector
func WithMetrics(collector MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}

// WithDialer replaces the TCP dialer
func WithDialer(dialer Dialer) Option {
	return func(c *config) error {
		if dialer == nil {
			return ErrInvalidConfig
		}
		c.dialer = dialer
		return nil
	}
}
