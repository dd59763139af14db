package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHost           = "localhost:6379"
	DefaultMaxWritePool   = 10
	DefaultMaxReadPool    = 10
	DefaultConnectTimeout = 5 * time.Second
	DefaultSendTimeout    = 10 * time.Second
	DefaultReceiveTimeout = 30 * time.Second
	DefaultIdleTimeout    = 240 * time.Second
	DefaultLogLevel       = "info"
)

func (c *ClientConfig) applyDefaults() {
	if len(c.Hosts.ReadWrite) == 0 {
		c.Hosts.ReadWrite = []string{DefaultHost}
	}
	if len(c.Hosts.ReadOnly) == 0 {
		c.Hosts.ReadOnly = c.Hosts.ReadWrite
	}

	if c.Pool.MaxWrite == 0 {
		c.Pool.MaxWrite = DefaultMaxWritePool
	}
	if c.Pool.MaxRead == 0 {
		c.Pool.MaxRead = DefaultMaxReadPool
	}

	if c.Timeouts.Connect == 0 {
		c.Timeouts.Connect = DefaultConnectTimeout
	}
	if c.Timeouts.Send == 0 {
		c.Timeouts.Send = DefaultSendTimeout
	}
	if c.Timeouts.Receive == 0 {
		c.Timeouts.Receive = DefaultReceiveTimeout
	}
	if c.Timeouts.Idle == 0 {
		c.Timeouts.Idle = DefaultIdleTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}
