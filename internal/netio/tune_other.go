//go:build !linux

package netio

import (
	"syscall"
	"time"
)

// setSocketOpts is a no-op on platforms without TCP_USER_TIMEOUT support.
func setSocketOpts(_ syscall.RawConn, _ time.Duration) error {
	return nil
}
