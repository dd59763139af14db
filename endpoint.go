package redisclient

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// DefaultHost is used when an endpoint string names no host
	DefaultHost = "localhost"

	// DefaultPort is used when an endpoint string names no port
	DefaultPort = 6379
)

// Endpoint is one configured server address
type Endpoint struct {
	Host     string
	Port     int
	Password string
}

// ParseEndpoint parses "host", "host:port", "[v6]:port" and an optional
// "password@" prefix. A missing host means localhost and a missing port 6379.
func ParseEndpoint(s string) (Endpoint, error) {
	ep := Endpoint{Host: DefaultHost, Port: DefaultPort}

	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "@"); i >= 0 {
		ep.Password = s[:i]
		s = s[i+1:]
	}

	host, port := s, ""
	switch {
	case strings.HasPrefix(s, "["):
		end := strings.Index(s, "]")
		if end < 0 {
			return Endpoint{}, fmt.Errorf("%w: endpoint %q: missing ']'", ErrInvalidConfig, s)
		}
		host = s[1:end]
		rest := s[end+1:]
		if rest != "" {
			if !strings.HasPrefix(rest, ":") {
				return Endpoint{}, fmt.Errorf("%w: endpoint %q: unexpected %q after ']'", ErrInvalidConfig, s, rest)
			}
			port = rest[1:]
		}
	case strings.Count(s, ":") == 1:
		h, p, err := net.SplitHostPort(s)
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: endpoint %q: %v", ErrInvalidConfig, s, err)
		}
		host, port = h, p
	}
	// more than one colon without brackets is a bare IPv6 address

	if host != "" {
		ep.Host = host
	}
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return Endpoint{}, fmt.Errorf("%w: endpoint %q: invalid port %q", ErrInvalidConfig, s, port)
		}
		ep.Port = n
	}
	return ep, nil
}

// ParseEndpoints parses every entry of hosts
func ParseEndpoints(hosts []string) ([]Endpoint, error) {
	endpoints := make([]Endpoint, 0, len(hosts))
	for _, h := range hosts {
		ep, err := ParseEndpoint(h)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// Addr returns the dialable "host:port" form
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String returns the address without the password
func (e Endpoint) String() string {
	return e.Addr()
}
