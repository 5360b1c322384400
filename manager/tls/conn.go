package tls

import (
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/OpenListTeam/hle-sockets/manager/network"
)

// errWouldBlock 实现 net.Error，crypto/tls 遇到临时错误时不会把连接标记为失败。
type errWouldBlock struct{}

func (errWouldBlock) Error() string   { return "socket would block" }
func (errWouldBlock) Timeout() bool   { return true }
func (errWouldBlock) Temporary() bool { return true }

// socketConn 把 guest 套接字包装成 net.Conn。
type socketConn struct {
	socket network.SocketBase
}

var _ net.Conn = (*socketConn)(nil)

func newSocketConn(socket network.SocketBase) *socketConn {
	return &socketConn{socket: socket}
}

func (c *socketConn) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	n, errno := c.socket.Recv(0, b)
	switch errno {
	case network.ErrnoSUCCESS:
		if n == 0 {
			return 0, io.EOF
		}
		return int(n), nil
	case network.ErrnoAGAIN:
		return 0, errWouldBlock{}
	default:
		return 0, errnoError(errno)
	}
}

func (c *socketConn) Write(b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, errno := c.socket.Send(b[written:], 0)
		switch errno {
		case network.ErrnoSUCCESS:
			written += int(n)
		case network.ErrnoAGAIN:
			return written, errWouldBlock{}
		default:
			return written, errnoError(errno)
		}
	}
	return written, nil
}

// Close 不关闭套接字，它仍属于 guest 的描述符。
func (c *socketConn) Close() error {
	return nil
}

func (c *socketConn) LocalAddr() net.Addr {
	addr, _ := c.socket.GetSockName()
	return tcpAddr(addr)
}

func (c *socketConn) RemoteAddr() net.Addr {
	addr, _ := c.socket.GetPeerName()
	return tcpAddr(addr)
}

// 超时由 guest 通过 SO_RCVTIMEO/SO_SNDTIMEO 控制，这里不支持截止时间。
func (c *socketConn) SetDeadline(time.Time) error      { return nil }
func (c *socketConn) SetReadDeadline(time.Time) error  { return nil }
func (c *socketConn) SetWriteDeadline(time.Time) error { return nil }

func tcpAddr(addr network.SockAddrIn) *net.TCPAddr {
	return net.TCPAddrFromAddrPort(netip.AddrPortFrom(netip.AddrFrom4(addr.IP), addr.Port))
}
