// Package dialer opens outbound TCP connections without blocking.
//
// Connect resolves the destination through a dnscache.Cache, creates an IPv4
// socket, and starts connect(2). A connect that is still in progress counts
// as success: the socket comes back in non-blocking mode and the caller can
// observe completion with sock.Socket.WaitConnected, or just start writing.
// Dial is the blocking convenience used by the relay.
package dialer
