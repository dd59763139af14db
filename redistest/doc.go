// Package redistest provides an in-process server for tests.
//
// The server understands the three request framings the client emits
// (inline lines, inline lines followed by a payload frame, multi-bulk
// requests), keeps numbered databases in memory, supports MULTI/EXEC,
// publish/subscribe with patterns and Lua scripting through gopher-lua,
// and logs every command it receives so tests can assert on the wire
// traffic.
//
//	srv := redistest.Run(t)
//	conn, _ := redisclient.NewConn(srv.Addr())
//	defer conn.Close()
package redistest
