package redistest

import "testing"

// Run starts a server on a random loopback port and stops it when the
// test ends
func Run(tb testing.TB) *Server {
	tb.Helper()

	s := NewServer("127.0.0.1:0")
	if err := s.Start(); err != nil {
		tb.Fatalf("failed to start test server: %v", err)
	}
	tb.Cleanup(func() { s.Stop() })
	return s
}

// RunWithPassword is Run for a server that requires AUTH
func RunWithPassword(tb testing.TB, password string) *Server {
	tb.Helper()

	s := NewServer("127.0.0.1:0")
	s.SetPassword(password)
	if err := s.Start(); err != nil {
		tb.Fatalf("failed to start test server: %v", err)
	}
	tb.Cleanup(func() { s.Stop() })
	return s
}
