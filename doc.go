// Package redisclient is a client for key-value servers that speak the
// pre-2.0 RESP dialect: CRLF-terminated inline command lines, binary-safe
// payload frames and the five reply sigils.
//
// Connections are handed out by a Manager that keeps one fixed-size pool
// for the read-write hosts and one for the read-only hosts:
//
//	m, err := redisclient.NewManager(
//		redisclient.WithReadWriteHosts("localhost:6379"),
//		redisclient.WithDefaultDB(1),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := m.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer m.Close()
//
//	conn, err := m.GetClient()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer conn.Close() // back to the pool
//
//	if err := conn.Set("greeting", []byte("hello")); err != nil {
//		log.Fatal(err)
//	}
//
// A connection opens its socket on first use. A connection that sat idle
// longer than the idle timeout is probed before the next command and
// replaced, re-authenticated and re-selected when the server has gone away.
//
// The package supports:
//
//   - Transactions (MULTI/EXEC) with per-command result callbacks
//   - Pipelines writing many commands in a single flush
//   - Publish/subscribe, blocking or streamed through a channel
//   - Structured logging through a pluggable Logger (zerolog by default)
//   - Optional metrics through a MetricsCollector
//
// Loading options from YAML is provided by the config subpackage; an
// in-process server for tests by redistest.
package redisclient
