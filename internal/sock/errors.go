package sock

import "errors"

// ErrWouldBlock is returned by non-blocking operations that cannot make
// progress yet. It is not a failure: retry once the socket is ready.
//
// It satisfies net.Error with Timeout and Temporary both true, which is what
// crypto/tls checks before deciding a read error is fatal.
var ErrWouldBlock error = wouldBlockError{}

var errNoPeer = errors.New("sock: peer address unavailable")

type wouldBlockError struct{}

func (wouldBlockError) Error() string   { return "sock: operation would block" }
func (wouldBlockError) Timeout() bool   { return true }
func (wouldBlockError) Temporary() bool { return true }
