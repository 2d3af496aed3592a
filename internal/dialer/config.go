package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds Dial from resolution until the connection is
	// established. Connect itself never waits for the handshake.
	DialTimeout time.Duration

	KeepAlive net.KeepAliveConfig
}
