// Package proxy implements the anystream relay: a TCP server that accepts
// clients through a stream.Conn (optionally PROXY-wrapped and TLS), opens
// one upstream connection per client, and copies bytes both ways.
//
// It also holds the shared connection plumbing: keepalive listeners,
// pooled copy buffers and bidirectional copy with half-close.
package proxy
