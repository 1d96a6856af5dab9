//go:build linux

package netio

import (
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// setSocketOpts configures listener socket options via the Control callback.
//
// Options set:
//   - SO_REUSEADDR: allow listener restarts while old sockets drain
//   - TCP_USER_TIMEOUT: bound unacknowledged-write time before the kernel
//     fails the connection; inherited by accepted sockets
func setSocketOpts(c syscall.RawConn, userTimeout time.Duration) error {
	var sockErr error

	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		sockErr = applySockOpts(int(fd), userTimeout)
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}

	return sockErr
}

// applySockOpts sets individual socket options on the file descriptor.
func applySockOpts(fd int, userTimeout time.Duration) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", err)
	}

	if userTimeout > 0 {
		ms := int(userTimeout.Milliseconds())
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, ms); err != nil {
			return fmt.Errorf("set TCP_USER_TIMEOUT: %w", err)
		}
	}

	return nil
}
