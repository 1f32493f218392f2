//go:build darwin || freebsd || dragonfly
// +build darwin freebsd dragonfly

package netutil

import (
	"os"

	"golang.org/x/sys/unix"
)

const iptosClassCS6 = 0xc0

// setNoSigpipe keeps a write to a dead peer from raising SIGPIPE at all,
// which the BSDs support per socket.
func setNoSigpipe(fd int) error {
	return os.NewSyscallError("setsockopt",
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1))
}

// SetPriority marks the traffic class of a socket. There is no SO_PRIORITY
// here; the v4 TOS byte is the only hint available.
func SetPriority(fd, priority, domain int) error {
	if priority < 0 {
		return nil
	}
	if domain == unix.AF_INET {
		return os.NewSyscallError("setsockopt",
			unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, iptosClassCS6))
	}
	return nil
}
