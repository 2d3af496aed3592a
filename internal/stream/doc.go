// Package stream unifies every way a TCP connection can be wrapped behind
// one capability, Stream.
//
// A Conn is built once by a Builder and holds exactly one layering of a
// socket: the bare socket, a PROXY protocol sniffer over it, TLS over the
// socket, or TLS over the sniffer. The layering never changes afterwards.
// Every operation dispatches to that single layer, so callers read, write,
// flush, shut down and ask for the client's address the same way whatever
// sits underneath.
//
// Closing a Conn closes its socket. Construction errors close it too.
package stream
