package config

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	redisclient "github.com/raniellyferreira/redis-native-client"
)

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	if len(c.Hosts.ReadWrite) == 0 {
		return errors.New("hosts.read_write is required")
	}
	if err := validateHosts("hosts.read_write", c.Hosts.ReadWrite); err != nil {
		return err
	}
	if err := validateHosts("hosts.read_only", c.Hosts.ReadOnly); err != nil {
		return err
	}

	if c.DefaultDB < 0 {
		return fmt.Errorf("default_db must be >= 0, got %d", c.DefaultDB)
	}

	if c.Pool.MaxWrite < 1 {
		return errors.New("pool.max_write must be >= 1")
	}
	if c.Pool.MaxRead < 1 {
		return errors.New("pool.max_read must be >= 1")
	}
	if c.Pool.Timeout < 0 {
		return errors.New("pool.timeout must be >= 0")
	}

	if c.Timeouts.Connect <= 0 {
		return errors.New("timeouts.connect must be > 0")
	}
	if c.Timeouts.Send < 0 || c.Timeouts.Receive < 0 || c.Timeouts.Idle < 0 {
		return errors.New("timeouts must be >= 0")
	}

	if c.Retry.Count < 0 {
		return errors.New("retry.count must be >= 0")
	}
	if c.Retry.Timeout < 0 {
		return errors.New("retry.timeout must be >= 0")
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

func validateHosts(field string, hosts []string) error {
	for i, h := range hosts {
		if _, err := redisclient.ParseEndpoint(h); err != nil {
			return fmt.Errorf("%s[%d]: %w", field, i, err)
		}
	}
	return nil
}
