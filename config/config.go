package config

import "time"

// ClientConfig is the root of the YAML file
type ClientConfig struct {
	Hosts     HostsConfig    `yaml:"hosts"`
	Password  string         `yaml:"password"`
	DefaultDB int            `yaml:"default_db"`
	Pool      PoolConfig     `yaml:"pool"`
	Timeouts  TimeoutsConfig `yaml:"timeouts"`
	Retry     RetryConfig    `yaml:"retry"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// HostsConfig lists the endpoints, each "host", "host:port" or
// "password@host:port"
type HostsConfig struct {
	ReadWrite []string `yaml:"read_write"`
	ReadOnly  []string `yaml:"read_only"`
}

// PoolConfig sizes the connection pools
type PoolConfig struct {
	MaxWrite int           `yaml:"max_write"`
	MaxRead  int           `yaml:"max_read"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TimeoutsConfig holds the per-connection timeouts
type TimeoutsConfig struct {
	Connect time.Duration `yaml:"connect"`
	Send    time.Duration `yaml:"send"`
	Receive time.Duration `yaml:"receive"`
	Idle    time.Duration `yaml:"idle"`
}

// RetryConfig bounds the extra dial attempts when a connection is opened
type RetryConfig struct {
	Count   int           `yaml:"count"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig selects the log level: debug, info, warn, error or disabled
type LoggingConfig struct {
	Level string `yaml:"level"`
}
