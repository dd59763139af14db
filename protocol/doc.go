// Package protocol implements the wire codec: request encoding and reply
// decoding for the line-oriented protocol with length-prefixed bulk
// payloads.
//
// Requests are written inline, with an optional binary payload frame:
//
//	w := protocol.NewWriter(conn)
//	w.WriteInline("INCR", "counter")               // INCR counter\r\n
//	w.WriteBulkCommand("SET", []byte("v"), "key")  // SET key 1\r\nv\r\n
//	w.Flush()
//
// Replies are read with a typed reader matching the expected shape:
//
//	r := protocol.NewReader(conn)
//	n, err := r.ReadInt()
//	data, ok, err := r.ReadBulk() // ok is false for a null bulk
//
// The reader recognises all five reply sigils:
//   - '+' status
//   - '-' error, surfaced as *ServerError
//   - ':' integer
//   - '$' bulk, with $-1 as null
//   - '*' multi-bulk, with *-1 decoded as an empty sequence
//
// Malformed input is reported as *ProtocolError. The codec keeps no state
// beyond its buffers and needs no synchronization of its own.
package protocol
