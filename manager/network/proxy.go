package network

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// 接收超时为 0 时本应无限等待，这里改为 5 秒，避免丢包挂死调用方。
	defaultProxyRecvTimeout = 5000 * time.Millisecond
	// 小于此长度的非广播 UDP 包按不可靠方式发送。
	unreliablePacketLimit = 1200
	statsLogInterval      = 100
)

// ProxyStats 是代理套接字的收发统计。
type ProxyStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsDropped  uint64
	BytesSent       uint64
	BytesReceived   uint64
}

// ProxySocket 通过联机房间转发数据，只支持基于数据包的收发。
type ProxySocket struct {
	room   RoomNetwork
	logger *slog.Logger

	mu             sync.Mutex
	protocol       Protocol
	localEndpoint  SockAddrIn
	isBound        bool
	closed         bool
	opened         bool
	blocking       bool
	broadcast      bool
	sendTimeout    uint32
	receiveTimeout uint32
	received       []ProxyPacket
	stats          ProxyStats
	arrived        chan struct{}
}

var _ SocketBase = (*ProxySocket)(nil)

func NewProxySocket(room RoomNetwork, logger *slog.Logger) *ProxySocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxySocket{
		room:     room,
		logger:   logger,
		blocking: true,
		arrived:  make(chan struct{}, 1),
	}
}

// Initialize 重置全部状态，池中复用的套接字因此与新建的一致。
func (s *ProxySocket) Initialize(domain Domain, typ Type, protocol Protocol) Errno {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocol = protocol
	s.localEndpoint = SockAddrIn{}
	s.isBound = false
	s.closed = false
	s.opened = true
	s.blocking = true
	s.broadcast = false
	s.sendTimeout = 0
	s.receiveTimeout = 0
	s.received = nil
	s.logger.Debug("proxy socket initialized", "domain", domain, "type", typ, "protocol", protocol)
	return ErrnoSUCCESS
}

func (s *ProxySocket) HandleProxyPacket(packet ProxyPacket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.protocol != packet.Protocol || s.localEndpoint.Port != packet.RemoteEndpoint.Port || s.closed {
		s.stats.PacketsDropped++
		s.logger.Debug("dropped proxy packet: protocol mismatch or closed socket",
			"sent", s.stats.PacketsSent, "recv", s.stats.PacketsReceived, "dropped", s.stats.PacketsDropped)
		return
	}
	if !s.broadcast && packet.Broadcast {
		s.stats.PacketsDropped++
		s.logger.Debug("dropped broadcast packet on non-broadcast socket")
		return
	}

	data, err := DecompressPacketData(packet.Data)
	if err != nil {
		s.stats.PacketsDropped++
		s.logger.Error("dropped proxy packet", "error", err)
		return
	}
	packet.Data = data
	s.received = append(s.received, packet)
	s.stats.PacketsReceived++
	s.stats.BytesReceived += uint64(len(data))

	if s.stats.PacketsReceived%statsLogInterval == 0 {
		s.logger.Debug("proxy socket stats",
			"sent", s.stats.PacketsSent, "bytes_sent", s.stats.BytesSent,
			"recv", s.stats.PacketsReceived, "bytes_recv", s.stats.BytesReceived,
			"dropped", s.stats.PacketsDropped)
	}

	select {
	case s.arrived <- struct{}{}:
	default:
	}
}

// Stats 返回统计信息的快照。
func (s *ProxySocket) Stats() ProxyStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Pending 返回排队等待读取的数据包数量。
func (s *ProxySocket) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func (s *ProxySocket) Accept() (AcceptResult, Errno) {
	s.logger.Warn("(STUBBED) proxy socket accept")
	return AcceptResult{}, ErrnoSUCCESS
}

func (s *ProxySocket) Connect(SockAddrIn) Errno {
	s.logger.Warn("(STUBBED) proxy socket connect")
	return ErrnoSUCCESS
}

func (s *ProxySocket) GetPeerName() (SockAddrIn, Errno) {
	s.logger.Warn("(STUBBED) proxy socket getpeername")
	return SockAddrIn{}, ErrnoSUCCESS
}

func (s *ProxySocket) GetSockName() (SockAddrIn, Errno) {
	s.logger.Warn("(STUBBED) proxy socket getsockname")
	return SockAddrIn{}, ErrnoSUCCESS
}

func (s *ProxySocket) Bind(addr SockAddrIn) Errno {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isBound {
		s.logger.Warn("rebinding proxy socket is unimplemented")
		return ErrnoSUCCESS
	}
	s.localEndpoint = addr
	s.isBound = true
	return ErrnoSUCCESS
}

func (s *ProxySocket) Listen(int32) Errno {
	s.logger.Warn("(STUBBED) proxy socket listen")
	return ErrnoSUCCESS
}

func (s *ProxySocket) Shutdown(ShutdownHow) Errno {
	s.logger.Warn("(STUBBED) proxy socket shutdown")
	return ErrnoSUCCESS
}

func (s *ProxySocket) Recv(int, []byte) (int32, Errno) {
	s.logger.Warn("(STUBBED) proxy socket recv")
	return 0, ErrnoSUCCESS
}

func (s *ProxySocket) RecvFrom(flags int, message []byte, addr *SockAddrIn) (int32, Errno) {
	s.mu.Lock()
	timeout := defaultProxyRecvTimeout
	if s.receiveTimeout != 0 {
		timeout = time.Duration(s.receiveTimeout) * time.Millisecond
	}
	blocking := s.blocking && flags&FlagMsgDontWait == 0
	s.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		if len(s.received) > 0 {
			n, errno := s.receivePacket(flags, message, addr)
			s.mu.Unlock()
			return n, errno
		}
		s.mu.Unlock()

		if !blocking {
			return -1, ErrnoAGAIN
		}
		select {
		case <-s.arrived:
		case <-deadline.C:
			return -1, ErrnoTIMEDOUT
		}
	}
}

// receivePacket 读取队首数据包，调用方持有 s.mu。
func (s *ProxySocket) receivePacket(flags int, message []byte, addr *SockAddrIn) (int32, Errno) {
	packet := &s.received[0]
	if addr != nil {
		*addr = SockAddrIn{
			Family: DomainINET,
			IP:     packet.LocalEndpoint.IP,
			Port:   packet.LocalEndpoint.Port,
		}
	}

	peek := flags&FlagMsgPeek != 0
	maxLength := len(message)
	if len(packet.Data) > maxLength {
		copy(message, packet.Data[:maxLength])
		switch s.protocol {
		case ProtocolUDP:
			if !peek {
				s.popPacket()
			}
			return -1, ErrnoMSGSIZE
		case ProtocolTCP:
			// 流式协议保留未读完的部分
			packet.Data = append([]byte(nil), packet.Data[maxLength:]...)
		}
		return int32(maxLength), ErrnoSUCCESS
	}

	n := copy(message, packet.Data)
	if !peek {
		s.popPacket()
	}
	return int32(n), ErrnoSUCCESS
}

func (s *ProxySocket) popPacket() {
	s.received[0] = ProxyPacket{}
	s.received = s.received[1:]
}

func (s *ProxySocket) Send([]byte, int) (int32, Errno) {
	s.logger.Warn("(STUBBED) proxy socket send")
	return 0, ErrnoSUCCESS
}

func (s *ProxySocket) SendTo(_ uint32, message []byte, addr *SockAddrIn) (int32, Errno) {
	size := int32(len(message))

	s.mu.Lock()
	if !s.isBound {
		s.mu.Unlock()
		s.logger.Error("proxy socket is not bound")
		return size, ErrnoSUCCESS
	}
	if addr == nil {
		s.mu.Unlock()
		s.logger.Error("sendto on proxy socket without destination address")
		return -1, ErrnoINVAL
	}
	packet := ProxyPacket{
		LocalEndpoint:  s.localEndpoint,
		RemoteEndpoint: *addr,
		Protocol:       s.protocol,
		Broadcast:      s.broadcast && addr.IP[3] == 255,
	}
	s.mu.Unlock()

	member, ok := s.roomMember()
	if ok && !member.IsConnected() {
		return size, ErrnoSUCCESS
	}

	// INADDR_ANY 或宿主本机地址替换为房间内的虚拟地址
	local := packet.LocalEndpoint.IP
	if hostIP, found := HostIPv4Address(); local == (IPv4Address{}) || (found && hostIP == local) {
		if ok {
			packet.LocalEndpoint.IP = member.FakeIPAddress()
		}
	}

	packet.Data = append([]byte(nil), message...)
	gameData := packet.Protocol == ProtocolUDP && len(message) < unreliablePacketLimit && !packet.Broadcast
	packet.Reliable = !gameData

	s.sendPacket(member, ok, packet)
	return size, ErrnoSUCCESS
}

func (s *ProxySocket) roomMember() (RoomMember, bool) {
	if s.room == nil {
		return nil, false
	}
	member, ok := s.room.RoomMember()
	return member, ok && member != nil
}

func (s *ProxySocket) sendPacket(member RoomMember, ok bool, packet ProxyPacket) {
	if !ok {
		s.mu.Lock()
		s.stats.PacketsDropped++
		s.mu.Unlock()
		s.logger.Error("cannot send packet: room member unavailable")
		return
	}
	if !member.IsConnected() {
		s.mu.Lock()
		s.stats.PacketsDropped++
		dropped := s.stats.PacketsDropped
		s.mu.Unlock()
		s.logger.Warn("cannot send packet: not connected to room", "dropped", dropped)
		return
	}

	originalSize := len(packet.Data)
	data, err := CompressPacketData(packet.Data)
	if err != nil {
		s.logger.Error("cannot send packet", "error", err)
		return
	}
	packet.Data = data
	if err := member.SendProxyPacket(packet); err != nil {
		s.logger.Warn("send proxy packet failed", "error", err)
	}

	s.mu.Lock()
	s.stats.PacketsSent++
	s.stats.BytesSent += uint64(originalSize)
	s.mu.Unlock()
}

func (s *ProxySocket) Close() Errno {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.opened = false
	return ErrnoSUCCESS
}

func (s *ProxySocket) SetLinger(bool, uint32) Errno { return ErrnoSUCCESS }
func (s *ProxySocket) SetReuseAddr(bool) Errno      { return ErrnoSUCCESS }
func (s *ProxySocket) SetKeepAlive(bool) Errno      { return ErrnoSUCCESS }
func (s *ProxySocket) SetSndBuf(uint32) Errno       { return ErrnoSUCCESS }
func (s *ProxySocket) SetRcvBuf(uint32) Errno       { return ErrnoSUCCESS }

func (s *ProxySocket) SetBroadcast(enable bool) Errno {
	s.mu.Lock()
	s.broadcast = enable
	s.mu.Unlock()
	return ErrnoSUCCESS
}

func (s *ProxySocket) SetSndTimeo(value uint32) Errno {
	s.mu.Lock()
	s.sendTimeout = value
	s.mu.Unlock()
	return ErrnoSUCCESS
}

func (s *ProxySocket) SetRcvTimeo(value uint32) Errno {
	s.mu.Lock()
	s.receiveTimeout = value
	s.mu.Unlock()
	return ErrnoSUCCESS
}

func (s *ProxySocket) SetNonBlock(enable bool) Errno {
	s.mu.Lock()
	s.blocking = !enable
	s.mu.Unlock()
	return ErrnoSUCCESS
}

func (s *ProxySocket) GetPendingError() (Errno, Errno) {
	return ErrnoSUCCESS, ErrnoSUCCESS
}

func (s *ProxySocket) IsOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened && !s.closed
}

// pollEvents 计算代理套接字在 poll 中的就绪事件。
func (s *ProxySocket) pollEvents(events PollEvents) PollEvents {
	var revents PollEvents
	if events&(PollIn|PollRdNorm) != 0 && s.Pending() > 0 {
		revents |= events & (PollIn | PollRdNorm)
	}
	if events&PollOut != 0 {
		revents |= PollOut
	}
	return revents
}
