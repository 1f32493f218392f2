// Package netutil holds the raw-descriptor socket plumbing the stack
// workers build on: socket creation, option twiddling and the non-blocking
// connect dance. Everything works on plain fds so callers stay in charge of
// readiness registration.
package netutil

import (
	"net"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// CreateSocket opens a close-on-exec stream socket in the given domain.
// Listeners pass reuseAddr so restarts do not trip over TIME_WAIT.
func CreateSocket(domain int, reuseAddr bool) (int, error) {
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)
	if reuseAddr {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return -1, os.NewSyscallError("setsockopt", err)
		}
	}
	return fd, nil
}

// SetNonblock flips fd to non-blocking mode.
func SetNonblock(fd int) error {
	return os.NewSyscallError("fcntl", unix.SetNonblock(fd, true))
}

// SetSocketOptions applies per-connection tuning: TCP_NODELAY, an explicit
// receive buffer when rcvbuf is positive, and the platform's way of keeping
// a dead peer from raising a process-wide signal. Failures are aggregated;
// callers usually just log them.
func SetSocketOptions(fd int, nodelay bool, rcvbuf int) error {
	var err error
	if nodelay {
		err = multierr.Append(err, os.NewSyscallError("setsockopt",
			unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)))
	}
	if rcvbuf > 0 {
		err = multierr.Append(err, os.NewSyscallError("setsockopt",
			unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, rcvbuf)))
	}
	err = multierr.Append(err, setNoSigpipe(fd))
	return err
}

// Connect is the blocking connect form.
func Connect(fd int, sa unix.Sockaddr) error {
	return os.NewSyscallError("connect", unix.Connect(fd, sa))
}

// NonblockConnect starts a connect on a non-blocking socket. Tri-state
// result: (true, nil) connected immediately, (false, nil) in progress —
// observe completion through writability and Reconnect — and (false, err)
// failed outright.
func NonblockConnect(fd int, sa unix.Sockaddr) (bool, error) {
	switch err := unix.Connect(fd, sa); err {
	case nil:
		return true, nil
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		return false, nil
	default:
		return false, os.NewSyscallError("connect", err)
	}
}

// Reconnect re-checks an in-progress non-blocking connect. Same tri-state
// as NonblockConnect; EISCONN means the earlier attempt finished. One
// check, no retry policy.
func Reconnect(fd int, sa unix.Sockaddr) (bool, error) {
	switch err := unix.Connect(fd, sa); err {
	case nil, unix.EISCONN:
		return true, nil
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		return false, nil
	default:
		return false, os.NewSyscallError("connect", err)
	}
}

// SocketError fetches the pending SO_ERROR, the classic completion check
// once a connecting socket turns writable.
func SocketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}

// SockaddrFromTCPAddr converts a resolved TCP address into the sockaddr and
// socket domain the raw syscalls want.
func SockaddrFromTCPAddr(addr *net.TCPAddr) (unix.Sockaddr, int, error) {
	if addr == nil {
		return nil, 0, errors.New("netutil: nil address")
	}
	ip := addr.IP
	if ip == nil {
		ip = net.IPv4zero
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	if ip16 := ip.To16(); ip16 != nil {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip16)
		return sa, unix.AF_INET6, nil
	}
	return nil, 0, errors.Errorf("netutil: unsupported address %s", addr)
}

// TCPAddrFromSockaddr converts back the other way, e.g. to learn the port
// the kernel picked for a ":0" bind.
func TCPAddrFromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	default:
		return nil
	}
}

// IPFromSockaddr renders the peer address an accept call reported.
func IPFromSockaddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]).String()
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String()
	default:
		return ""
	}
}

// IsTemporary reports whether err is the would-block family a non-blocking
// loop should simply retry on.
func IsTemporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

func isFdValid(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// CloseFd closes fd if it still names an open descriptor.
func CloseFd(fd int) error {
	if fd >= 0 && isFdValid(fd) {
		return unix.Close(fd)
	}
	return nil
}
