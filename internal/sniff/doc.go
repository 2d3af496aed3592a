// Package sniff detects an optional PROXY protocol preamble (v1 text or v2
// binary) at the start of a TCP connection and strips it, recovering the
// address of the client that the load balancer forwarded.
//
// Detection runs lazily on the first Read. The receive queue is peeked, never
// consumed, until the bytes can be classified: a complete and valid header is
// then read off the socket, and anything else leaves the stream untouched so
// no payload byte is ever lost. A connection that is not PROXY-wrapped, or
// whose header is malformed or oversized, is treated as a plain connection.
//
// Byte-level header decoding is done by github.com/pires/go-proxyproto; this
// package owns only the framing: signature screening, header length and the
// size bounds that guarantee detection terminates.
package sniff
