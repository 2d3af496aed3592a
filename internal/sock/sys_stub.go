//go:build !unix

package sock

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("sock: raw socket control is only supported on unix")

func (s *Socket) readOnce(_ []byte) (int, error) {
	return 0, errUnsupported
}

func (s *Socket) writeOnce(_ []byte) (int, error) {
	return 0, errUnsupported
}

func (s *Socket) peek(_ []byte, _ int, _ bool) (int, error) {
	return 0, errUnsupported
}

func (s *Socket) shutdown(how ShutdownHow) error {
	switch how {
	case ShutdownRead:
		return s.conn.CloseRead()
	case ShutdownWrite:
		return s.conn.CloseWrite()
	default:
		if err := s.conn.CloseRead(); err != nil {
			return err
		}
		return s.conn.CloseWrite()
	}
}

func (s *Socket) WaitConnected(_ context.Context) error {
	return errUnsupported
}
