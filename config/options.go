package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	redisclient "github.com/raniellyferreira/redis-native-client"
)

// Options converts the configuration into client options. Defaults must
// already be applied.
func (c *ClientConfig) Options() ([]redisclient.Option, error) {
	level, err := zerolog.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}

	opts := []redisclient.Option{
		redisclient.WithReadWriteHosts(c.Hosts.ReadWrite...),
		redisclient.WithMaxWritePoolSize(c.Pool.MaxWrite),
		redisclient.WithMaxReadPoolSize(c.Pool.MaxRead),
		redisclient.WithPoolTimeout(c.Pool.Timeout),
		redisclient.WithDefaultDB(c.DefaultDB),
		redisclient.WithConnectTimeout(c.Timeouts.Connect),
		redisclient.WithSendTimeout(c.Timeouts.Send),
		redisclient.WithReceiveTimeout(c.Timeouts.Receive),
		redisclient.WithIdleTimeout(c.Timeouts.Idle),
		redisclient.WithRetry(c.Retry.Count, c.Retry.Timeout),
		redisclient.WithLogger(redisclient.NewZerologLogger(os.Stderr, level)),
	}
	if len(c.Hosts.ReadOnly) > 0 {
		opts = append(opts, redisclient.WithReadOnlyHosts(c.Hosts.ReadOnly...))
	}
	if c.Password != "" {
		opts = append(opts, redisclient.WithPassword(c.Password))
	}
	return opts, nil
}

// NewManager builds an unstarted manager from the configuration. extra
// options are applied last and override the file.
func (c *ClientConfig) NewManager(extra ...redisclient.Option) (*redisclient.Manager, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	return redisclient.NewManager(append(opts, extra...)...)
}
