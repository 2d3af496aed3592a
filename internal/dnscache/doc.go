// Package dnscache resolves "host:port" descriptors to a single IPv4 TCP
// address and remembers the answer for a fixed time.
//
// A Cache is explicitly constructed and shared by reference; there is no
// process-wide instance. Lookups take a read lock and may run in parallel;
// storing an answer takes the write lock for one map insert. Concurrent
// misses for the same descriptor are collapsed into one resolution.
package dnscache
