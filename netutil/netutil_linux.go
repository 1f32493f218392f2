//go:build linux
// +build linux

package netutil

import (
	"os"

	"golang.org/x/sys/unix"
)

// CS6 class selector, the TOS byte used for latency-sensitive traffic.
const iptosClassCS6 = 0xc0

// setNoSigpipe is a no-op on Linux: the runtime ignores SIGPIPE for
// sockets, and workers additionally ignore it process-wide at startup.
func setNoSigpipe(fd int) error { return nil }

// SetPriority raises the kernel queueing priority of a socket and marks its
// traffic class. Negative priorities leave the socket untouched.
func SetPriority(fd, priority, domain int) error {
	if priority < 0 {
		return nil
	}
	switch domain {
	case unix.AF_INET:
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, iptosClassCS6); err != nil {
			return os.NewSyscallError("setsockopt", err)
		}
	case unix.AF_INET6:
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, iptosClassCS6); err != nil {
			return os.NewSyscallError("setsockopt", err)
		}
	}
	return os.NewSyscallError("setsockopt",
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, priority))
}
