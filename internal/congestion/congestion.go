// Package congestion selects the TCP congestion control algorithm of a
// connection.
package congestion

import (
	"net"

	"github.com/pkg/errors"
)

// ErrNoSupport is returned on platforms where the congestion control
// algorithm cannot be changed.
var ErrNoSupport = errors.New("congestion control selection is not supported on this platform")

// Set makes c use the named congestion control algorithm, e.g. "bbr".
func Set(c net.Conn, cc string) error {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return errors.Errorf("not a TCP connection: %T", c)
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return errors.Wrap(err, "cannot access the socket")
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = set(fd, cc)
	}); err != nil {
		return errors.Wrap(err, "cannot access the socket")
	}
	return errors.Wrapf(serr, "cannot set congestion control to %q", cc)
}
