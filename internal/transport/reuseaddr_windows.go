//go:build windows

package transport

import "syscall"

// setReuseAddr is a no-op on Windows: SO_REUSEADDR has different
// semantics there (silently permits port hijacking) and Windows is
// not a deployment target for this project.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
