//go:build !unix

package redisx

import "net"

// tuneSocket on non-Unix platforms applies only what net.TCPConn exposes
// portably (linger off, keepalive, no-delay by role): golang.org/x/sys/unix
// socket options (IP_TOS, FIONREAD) have no portable equivalent, so IP_TOS
// and the bufSize override are not applied here.
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
	return tc.SetNoDelay(r != RolePipeline)
}

func availableBytes(conn net.Conn) (int, error) {
	return 0, nil
}
