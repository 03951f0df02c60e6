//go:build !windows

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setReuseAddr is passed as net.ListenConfig.Control so a peer that
// restarts quickly (recovery scenarios) can rebind its listen port
// before the OS has released the previous socket's TIME_WAIT state.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
