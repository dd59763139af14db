package redisclient

import (
	"errors"
	"testing"
	"time"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		input   string
		want    Endpoint
		wantErr bool
	}{
		{input: "", want: Endpoint{Host: "localhost", Port: 6379}},
		{input: "cache", want: Endpoint{Host: "cache", Port: 6379}},
		{input: "cache:6380", want: Endpoint{Host: "cache", Port: 6380}},
		{input: ":6381", want: Endpoint{Host: "localhost", Port: 6381}},
		{input: "s3cret@cache:6380", want: Endpoint{Host: "cache", Port: 6380, Password: "s3cret"}},
		{input: "p@ss@cache", want: Endpoint{Host: "cache", Port: 6379, Password: "p@ss"}},
		{input: "[::1]:7000", want: Endpoint{Host: "::1", Port: 7000}},
		{input: "[fe80::1]", want: Endpoint{Host: "fe80::1", Port: 6379}},
		{input: "fe80::1", want: Endpoint{Host: "fe80::1", Port: 6379}},
		{input: " cache:6380 ", want: Endpoint{Host: "cache", Port: 6380}},
		{input: "cache:port", wantErr: true},
		{input: "cache:0", wantErr: true},
		{input: "cache:70000", wantErr: true},
		{input: "[::1", wantErr: true},
		{input: "[::1]x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseEndpoint(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("ParseEndpoint(%q) error = %v, want ErrInvalidConfig", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEndpoint(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseEndpoint(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestEndpointAddr(t *testing.T) {
	if got := (Endpoint{Host: "cache", Port: 6380}).Addr(); got != "cache:6380" {
		t.Errorf("Addr() = %q", got)
	}
	if got := (Endpoint{Host: "::1", Port: 6379}).Addr(); got != "[::1]:6379" {
		t.Errorf("Addr() = %q", got)
	}
}

func TestOptionsValidation(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"empty host list", WithReadWriteHosts()},
		{"bad read-only host", WithReadOnlyHosts("cache:nope")},
		{"negative write pool", WithMaxWritePoolSize(-1)},
		{"negative read pool", WithMaxReadPoolSize(-1)},
		{"negative default db", WithDefaultDB(-1)},
		{"zero connect timeout", WithConnectTimeout(0)},
		{"negative send timeout", WithSendTimeout(-time.Second)},
		{"negative receive timeout", WithReceiveTimeout(-time.Second)},
		{"negative idle timeout", WithIdleTimeout(-time.Second)},
		{"negative retry count", WithRetry(-1, time.Second)},
		{"negative pool timeout", WithPoolTimeout(-time.Second)},
		{"nil logger", WithLogger(nil)},
		{"nil dialer", WithDialer(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(tt.opt); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewManager error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := newConfig([]Option{WithReadWriteHosts("primary:6379"), WithPassword("global")})
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.readOnlyHosts) != 1 || cfg.readOnlyHosts[0].Host != "primary" {
		t.Errorf("read-only hosts = %+v, want the read-write hosts", cfg.readOnlyHosts)
	}
	if cfg.maxWritePoolSize != 10 || cfg.idleTimeout != 240*time.Second {
		t.Errorf("defaults = %+v", cfg)
	}

	if got := cfg.endpointPassword(Endpoint{Host: "x"}); got != "global" {
		t.Errorf("endpointPassword = %q, want the global password", got)
	}
	if got := cfg.endpointPassword(Endpoint{Host: "x", Password: "own"}); got != "own" {
		t.Errorf("endpointPassword = %q, want the endpoint's own password", got)
	}
}
