package network

// SocketBase 是 guest 套接字在宿主侧的能力集合。
// 实现只有两种：直连宿主网络的 *Socket 与经由联机房间转发的 *ProxySocket。
// 所有操作都通过 Errno 报告普通的网络错误，不会 panic。
type SocketBase interface {
	Initialize(domain Domain, typ Type, protocol Protocol) Errno
	Accept() (AcceptResult, Errno)
	Connect(addr SockAddrIn) Errno
	GetPeerName() (SockAddrIn, Errno)
	GetSockName() (SockAddrIn, Errno)
	Bind(addr SockAddrIn) Errno
	Listen(backlog int32) Errno
	Shutdown(how ShutdownHow) Errno

	Recv(flags int, message []byte) (int32, Errno)
	RecvFrom(flags int, message []byte, addr *SockAddrIn) (int32, Errno)
	Send(message []byte, flags int) (int32, Errno)
	SendTo(flags uint32, message []byte, addr *SockAddrIn) (int32, Errno)

	Close() Errno

	SetLinger(enable bool, linger uint32) Errno
	SetReuseAddr(enable bool) Errno
	SetKeepAlive(enable bool) Errno
	SetBroadcast(enable bool) Errno
	SetSndBuf(value uint32) Errno
	SetRcvBuf(value uint32) Errno
	SetSndTimeo(value uint32) Errno
	SetRcvTimeo(value uint32) Errno
	SetNonBlock(enable bool) Errno

	// GetPendingError 返回 (挂起的错误, 查询本身的错误)。
	GetPendingError() (Errno, Errno)

	IsOpened() bool

	// HandleProxyPacket 接收房间网络投递来的数据包。
	HandleProxyPacket(packet ProxyPacket)
}

// AcceptResult 是 Accept 成功后的新连接。
type AcceptResult struct {
	Socket     SocketBase
	SockAddrIn SockAddrIn
}

// ProxyPacket 是在房间网络中传输的一个数据包。
// LocalEndpoint 为发送方地址，RemoteEndpoint 为目标地址。
type ProxyPacket struct {
	LocalEndpoint  SockAddrIn
	RemoteEndpoint SockAddrIn
	Protocol       Protocol
	Broadcast      bool
	Reliable       bool
	Data           []byte
}
