//go:build unix

package redisx

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// tosLowDelay and tosThroughput mirror IPTOS_LOWDELAY / IPTOS_THROUGHPUT:
// the interactive and subscription clients favor low latency, the
// pipeline client favors throughput (ground: the socket tuning the
// original library applies per channel purpose).
const (
	tosLowDelay   = 0x10
	tosThroughput = 0x08
)

// tuneSocket applies the per-role socket options this client cares about:
// keepalive and linger-off always, TCP_NODELAY and IP_TOS tuned by role,
// and an optional send/receive buffer size override.
func tuneSocket(conn net.Conn, r role, bufSize int) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	if err := tc.SetLinger(0); err != nil {
		return err
	}
	if err := tc.SetKeepAlive(true); err != nil {
		return err
	}
	if err := tc.SetNoDelay(r != RolePipeline); err != nil {
		return err
	}

	return controlRaw(tc, func(fd uintptr) error {
		tos := tosThroughput
		if r != RolePipeline {
			tos = tosLowDelay
		}
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
			return err
		}
		if bufSize > 0 {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, bufSize); err != nil {
				return err
			}
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, bufSize); err != nil {
				return err
			}
		}
		return nil
	})
}

// controlRaw runs f with the connection's raw file descriptor, surfacing
// both the syscall error and f's own error.
func controlRaw(tc *net.TCPConn, f func(fd uintptr) error) error {
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var ferr error
	cerr := raw.Control(func(fd uintptr) {
		ferr = f(fd)
	})
	if cerr != nil {
		return cerr
	}
	return ferr
}

// availableBytes reports how many bytes are available to read without
// blocking, via the FIONREAD ioctl (ground: the original's use of ioctl
// for redisxGetAvailable()).
func availableBytes(conn net.Conn) (int, error) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return 0, nil
	}
	var n int
	err := controlRaw(tc, func(fd uintptr) error {
		v, err := unix.IoctlGetInt(int(fd), syscall.FIONREAD)
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, err
}
