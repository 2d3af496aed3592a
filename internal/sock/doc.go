// Package sock wraps an OS TCP socket with the controls the stream layers
// need from it: a non-blocking mode that returns ErrWouldBlock instead of
// parking the goroutine, non-destructive peeks of the receive queue, per-read
// timeouts, and shutdown(2) in either direction.
//
// Go descriptors are always non-blocking at the OS level and driven by the
// runtime poller. The non-blocking flag on a Socket therefore selects how
// Read, Write and Peek behave: a single attempt, or waiting for readiness
// the way net.Conn normally does. The *Wait variants always wait, regardless
// of the flag.
package sock
