//go:build unix

package network

import (
	"log/slog"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// Socket 是直接映射到宿主操作系统套接字的实现。
type Socket struct {
	fd     int
	closed atomic.Bool
	logger *slog.Logger
}

var _ SocketBase = (*Socket)(nil)

func NewSocket(logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	return &Socket{fd: -1, logger: logger}
}

func newSocketFromFd(fd int, logger *slog.Logger) *Socket {
	return &Socket{fd: fd, logger: logger}
}

// Fd 返回宿主文件描述符，未初始化时为 -1。
func (s *Socket) Fd() int { return s.fd }

func toUnixDomain(domain Domain) int {
	switch domain {
	case DomainINET:
		return unix.AF_INET
	default:
		return unix.AF_UNSPEC
	}
}

func toUnixType(typ Type) int {
	switch typ {
	case TypeSTREAM:
		return unix.SOCK_STREAM
	case TypeDGRAM:
		return unix.SOCK_DGRAM
	case TypeRAW:
		return unix.SOCK_RAW
	case TypeSEQPACKET:
		return unix.SOCK_SEQPACKET
	default:
		return 0
	}
}

func toUnixProtocol(protocol Protocol) int {
	switch protocol {
	case ProtocolICMP:
		return unix.IPPROTO_ICMP
	case ProtocolTCP:
		return unix.IPPROTO_TCP
	case ProtocolUDP:
		return unix.IPPROTO_UDP
	default:
		return 0
	}
}

func toUnixMsgFlags(flags int) int {
	var result int
	if flags&FlagMsgPeek != 0 {
		result |= unix.MSG_PEEK
	}
	if flags&FlagMsgDontWait != 0 {
		result |= unix.MSG_DONTWAIT
	}
	return result
}

func toSockaddr(addr SockAddrIn) *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Port: int(addr.Port), Addr: addr.IP}
}

func fromSockaddr(sa unix.Sockaddr) SockAddrIn {
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return SockAddrIn{Family: DomainINET, IP: in4.Addr, Port: uint16(in4.Port)}
	}
	return SockAddrIn{}
}

func (s *Socket) Initialize(domain Domain, typ Type, protocol Protocol) Errno {
	fd, err := unix.Socket(toUnixDomain(domain), toUnixType(typ), toUnixProtocol(protocol))
	if err != nil {
		return mapOsError(err)
	}
	unix.CloseOnExec(fd)
	s.fd = fd
	return ErrnoSUCCESS
}

func (s *Socket) Accept() (AcceptResult, Errno) {
	nfd, sa, err := unix.Accept(s.fd)
	if err != nil {
		return AcceptResult{}, mapOsError(err)
	}
	unix.CloseOnExec(nfd)
	return AcceptResult{
		Socket:     newSocketFromFd(nfd, s.logger),
		SockAddrIn: fromSockaddr(sa),
	}, ErrnoSUCCESS
}

func (s *Socket) Connect(addr SockAddrIn) Errno {
	return mapOsError(unix.Connect(s.fd, toSockaddr(addr)))
}

func (s *Socket) GetPeerName() (SockAddrIn, Errno) {
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return SockAddrIn{}, mapOsError(err)
	}
	return fromSockaddr(sa), ErrnoSUCCESS
}

func (s *Socket) GetSockName() (SockAddrIn, Errno) {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return SockAddrIn{}, mapOsError(err)
	}
	return fromSockaddr(sa), ErrnoSUCCESS
}

func (s *Socket) Bind(addr SockAddrIn) Errno {
	return mapOsError(unix.Bind(s.fd, toSockaddr(addr)))
}

func (s *Socket) Listen(backlog int32) Errno {
	return mapOsError(unix.Listen(s.fd, int(backlog)))
}

func (s *Socket) Shutdown(how ShutdownHow) Errno {
	var unixHow int
	switch how {
	case ShutdownRD:
		unixHow = unix.SHUT_RD
	case ShutdownWR:
		unixHow = unix.SHUT_WR
	case ShutdownRDWR:
		unixHow = unix.SHUT_RDWR
	default:
		return ErrnoINVAL
	}
	return mapOsError(unix.Shutdown(s.fd, unixHow))
}

func (s *Socket) Recv(flags int, message []byte) (int32, Errno) {
	n, _, err := unix.Recvfrom(s.fd, message, toUnixMsgFlags(flags))
	if err != nil {
		return -1, mapOsError(err)
	}
	return int32(n), ErrnoSUCCESS
}

func (s *Socket) RecvFrom(flags int, message []byte, addr *SockAddrIn) (int32, Errno) {
	n, from, err := unix.Recvfrom(s.fd, message, toUnixMsgFlags(flags))
	if err != nil {
		return -1, mapOsError(err)
	}
	if addr != nil {
		*addr = fromSockaddr(from)
	}
	return int32(n), ErrnoSUCCESS
}

func (s *Socket) Send(message []byte, flags int) (int32, Errno) {
	n, err := unix.SendmsgN(s.fd, message, nil, nil, toUnixMsgFlags(flags))
	if err != nil {
		return -1, mapOsError(err)
	}
	return int32(n), ErrnoSUCCESS
}

func (s *Socket) SendTo(flags uint32, message []byte, addr *SockAddrIn) (int32, Errno) {
	var to unix.Sockaddr
	if addr != nil {
		to = toSockaddr(*addr)
	}
	n, err := unix.SendmsgN(s.fd, message, nil, to, toUnixMsgFlags(int(flags)))
	if err != nil {
		return -1, mapOsError(err)
	}
	return int32(n), ErrnoSUCCESS
}

func (s *Socket) Close() Errno {
	if s.fd < 0 || s.closed.Swap(true) {
		return ErrnoBADF
	}
	return mapOsError(unix.Close(s.fd))
}

func (s *Socket) SetLinger(enable bool, linger uint32) Errno {
	l := unix.Linger{Linger: int32(linger)}
	if enable {
		l.Onoff = 1
	}
	return mapOsError(unix.SetsockoptLinger(s.fd, unix.SOL_SOCKET, unix.SO_LINGER, &l))
}

func (s *Socket) setBool(opt int, enable bool) Errno {
	value := 0
	if enable {
		value = 1
	}
	return mapOsError(unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, opt, value))
}

func (s *Socket) SetReuseAddr(enable bool) Errno { return s.setBool(unix.SO_REUSEADDR, enable) }
func (s *Socket) SetKeepAlive(enable bool) Errno { return s.setBool(unix.SO_KEEPALIVE, enable) }
func (s *Socket) SetBroadcast(enable bool) Errno { return s.setBool(unix.SO_BROADCAST, enable) }

func (s *Socket) SetSndBuf(value uint32) Errno {
	return mapOsError(unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_SNDBUF, int(value)))
}

func (s *Socket) SetRcvBuf(value uint32) Errno {
	return mapOsError(unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_RCVBUF, int(value)))
}

// 超时以毫秒为单位。
func (s *Socket) setTimeout(opt int, millis uint32) Errno {
	tv := unix.NsecToTimeval(int64(millis) * 1_000_000)
	return mapOsError(unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, opt, &tv))
}

func (s *Socket) SetSndTimeo(value uint32) Errno { return s.setTimeout(unix.SO_SNDTIMEO, value) }
func (s *Socket) SetRcvTimeo(value uint32) Errno { return s.setTimeout(unix.SO_RCVTIMEO, value) }

func (s *Socket) SetNonBlock(enable bool) Errno {
	return mapOsError(unix.SetNonblock(s.fd, enable))
}

func (s *Socket) GetPendingError() (Errno, Errno) {
	value, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return ErrnoSUCCESS, mapOsError(err)
	}
	if value == 0 {
		return ErrnoSUCCESS, ErrnoSUCCESS
	}
	return mapOsError(syscall.Errno(value)), ErrnoSUCCESS
}

func (s *Socket) IsOpened() bool {
	return s.fd >= 0 && !s.closed.Load()
}

func (s *Socket) HandleProxyPacket(ProxyPacket) {
	s.logger.Warn("proxy packet received, but not in proxy mode", "fd", s.fd)
}
