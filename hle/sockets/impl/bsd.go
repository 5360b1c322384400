package impl

import (
	"log/slog"

	"github.com/OpenListTeam/hle-sockets/common/bytespool"
	"github.com/OpenListTeam/hle-sockets/hle"
	"github.com/OpenListTeam/hle-sockets/ipc"
	"github.com/OpenListTeam/hle-sockets/manager/sockets"
)

// BSD 是 bsd:u、bsd:s 与 bsd:a 服务，每个实例拥有独立的描述符表。
type BSD struct {
	*ipc.Service
	table  *sockets.BSD
	logger *slog.Logger
}

func NewBSD(h *hle.Host, name string) *BSD {
	logger := h.Logger().With("service", name)
	s := &BSD{
		Service: ipc.NewService(name),
		table: sockets.NewBSD(
			sockets.WithLogger(logger),
			sockets.WithRoomNetwork(h.RoomNetwork()),
			sockets.WithPool(h.SocketPool()),
		),
		logger: logger,
	}
	s.RegisterHandlers([]ipc.FunctionInfo{
		{ID: 0, Handler: s.RegisterClient, Name: "RegisterClient"},
		{ID: 1, Handler: s.StartMonitoring, Name: "StartMonitoring"},
		{ID: 2, Handler: s.Socket, Name: "Socket"},
		{ID: 3, Handler: s.stubErrno("SocketExempt", -1, sockets.ErrnoOPNOTSUPP), Name: "SocketExempt"},
		{ID: 4, Handler: s.stubErrno("Open", -1, sockets.ErrnoACCES), Name: "Open"},
		{ID: 5, Handler: s.Select, Name: "Select"},
		{ID: 6, Handler: s.Poll, Name: "Poll"},
		{ID: 7, Handler: s.stubErrno("Sysctl", -1, sockets.ErrnoOPNOTSUPP), Name: "Sysctl"},
		{ID: 8, Handler: s.Recv, Name: "Recv"},
		{ID: 9, Handler: s.RecvFrom, Name: "RecvFrom"},
		{ID: 10, Handler: s.Send, Name: "Send"},
		{ID: 11, Handler: s.SendTo, Name: "SendTo"},
		{ID: 12, Handler: s.Accept, Name: "Accept"},
		{ID: 13, Handler: s.Bind, Name: "Bind"},
		{ID: 14, Handler: s.Connect, Name: "Connect"},
		{ID: 15, Handler: s.GetPeerName, Name: "GetPeerName"},
		{ID: 16, Handler: s.GetSockName, Name: "GetSockName"},
		{ID: 17, Handler: s.GetSockOpt, Name: "GetSockOpt"},
		{ID: 18, Handler: s.Listen, Name: "Listen"},
		{ID: 19, Handler: s.stubErrno("Ioctl", -1, sockets.ErrnoNOTTY), Name: "Ioctl"},
		{ID: 20, Handler: s.Fcntl, Name: "Fcntl"},
		{ID: 21, Handler: s.SetSockOpt, Name: "SetSockOpt"},
		{ID: 22, Handler: s.Shutdown, Name: "Shutdown"},
		{ID: 23, Handler: s.ShutdownAllSockets, Name: "ShutdownAllSockets"},
		{ID: 24, Handler: s.Write, Name: "Write"},
		{ID: 25, Handler: s.Read, Name: "Read"},
		{ID: 26, Handler: s.CloseFd, Name: "Close"},
		{ID: 27, Handler: s.DuplicateSocket, Name: "DuplicateSocket"},
		{ID: 28, Handler: s.stubErrno("GetResourceStatistics", -1, sockets.ErrnoOPNOTSUPP), Name: "GetResourceStatistics"},
		{ID: 29, Handler: s.stubErrno("RecvMMsg", 0, sockets.ErrnoOPNOTSUPP), Name: "RecvMMsg"},
		{ID: 30, Handler: s.stubErrno("SendMMsg", 0, sockets.ErrnoOPNOTSUPP), Name: "SendMMsg"},
		{ID: 31, Handler: s.EventFd, Name: "EventFd"},
		{ID: 32, Handler: s.stubErrno("RegisterResourceStatisticsName", -1, sockets.ErrnoOPNOTSUPP), Name: "RegisterResourceStatisticsName"},
		{ID: 33, Handler: s.RegisterClientShared, Name: "RegisterClientShared"},
		{ID: 34, Handler: s.stubErrno("GetSocketStatistics", -1, sockets.ErrnoOPNOTSUPP), Name: "GetSocketStatistics"},
		{ID: 35, Handler: s.stubErrno("NifIoctl", -1, sockets.ErrnoNOTTY), Name: "NifIoctl"},
		{ID: 36, Handler: s.stubErrno("Unknown36", -1, sockets.ErrnoOPNOTSUPP), Name: "Unknown36"},
		{ID: 37, Handler: s.stubErrno("Unknown37", -1, sockets.ErrnoOPNOTSUPP), Name: "Unknown37"},
		{ID: 38, Handler: s.stubErrno("Unknown38", -1, sockets.ErrnoOPNOTSUPP), Name: "Unknown38"},
		{ID: 39, Handler: s.stubErrno("Unknown39", -1, sockets.ErrnoOPNOTSUPP), Name: "Unknown39"},
		{ID: 40, Handler: s.stubErrno("Unknown40", -1, sockets.ErrnoOPNOTSUPP), Name: "Unknown40"},
		{ID: 200, Handler: s.stubErrno("SetThreadCoreMask", -1, sockets.ErrnoOPNOTSUPP), Name: "SetThreadCoreMask"},
		{ID: 201, Handler: s.GetThreadCoreMask, Name: "GetThreadCoreMask"},
	})
	return s
}

// Table 返回服务的描述符表，SSL 服务通过它直接复制与关闭描述符。
func (s *BSD) Table() *sockets.BSD {
	return s.table
}

// Close 在服务销毁时关闭全部描述符。
func (s *BSD) Close() error {
	return s.table.CloseAll()
}

func buildErrnoResponse(c *ipc.Context, errno sockets.Errno) {
	ret := int32(0)
	if errno != sockets.ErrnoSUCCESS {
		ret = -1
	}
	pushRetErrno(c, ret, errno)
}

// stubErrno 返回一个只记录日志并回复 (ret, errno) 的处理函数。
func (s *BSD) stubErrno(name string, ret int32, errno sockets.Errno) ipc.HandlerFunc {
	return func(c *ipc.Context) {
		s.logger.Warn("called "+name, "stubbed", true)
		pushRetErrno(c, ret, errno)
	}
}

// --- Client registration ---

// libraryConfigData 是 RegisterClient 的参数。
type libraryConfigData struct {
	Version         uint32
	TCPTxBufSize    uint32
	TCPRxBufSize    uint32
	TCPTxBufMaxSize uint32
	TCPRxBufMaxSize uint32
	UDPTxBufSize    uint32
	UDPRxBufSize    uint32
	SbEfficiency    uint32
}

func (s *BSD) RegisterClient(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	var config libraryConfigData
	rp.PopRaw(&config)
	transferMemorySize := rp.PopU64()

	s.logger.Info("RegisterClient", "version", config.Version, "pid", c.PID(), "transfer_memory_size", transferMemorySize)
	s.logger.Debug("RegisterClient buffers",
		"tcp_tx", config.TCPTxBufSize, "tcp_rx", config.TCPRxBufSize,
		"tcp_tx_max", config.TCPTxBufMaxSize, "tcp_rx_max", config.TCPRxBufMaxSize,
		"udp_tx", config.UDPTxBufSize, "udp_rx", config.UDPRxBufSize,
		"sb_efficiency", config.SbEfficiency)

	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushS32(0)
}

func (s *BSD) RegisterClientShared(c *ipc.Context) {
	s.logger.Warn("called RegisterClientShared", "stubbed", true)
	pushRetErrno(c, 0, sockets.ErrnoSUCCESS)
}

func (s *BSD) StartMonitoring(c *ipc.Context) {
	s.logger.Info("StartMonitoring")
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

// --- Socket lifecycle ---

func (s *BSD) Socket(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	domain := rp.PopU32()
	typ := rp.PopU32()
	protocol := rp.PopU32()

	s.logger.Debug("Socket", "domain", domain, "type", typ, "protocol", protocol)

	fd, errno := s.table.Socket(sockets.Domain(domain), sockets.Type(typ), sockets.Protocol(protocol))
	pushRetErrno(c, fd, errno)
}

func (s *BSD) Select(c *ipc.Context) {
	s.logger.Debug("called Select", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(0).PushU32(0)
}

func (s *BSD) Poll(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	nfds := rp.PopS32()
	timeout := rp.PopS32()

	s.logger.Debug("Poll", "nfds", nfds, "timeout", timeout)

	executeWork(c, s.table, &pollWork{
		nfds:        nfds,
		timeout:     timeout,
		readBuffer:  c.ReadBuffer(0),
		writeBuffer: make([]byte, c.GetWriteBufferSize(0)),
	})
}

func (s *BSD) Accept(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()

	s.logger.Debug("Accept", "fd", fd)

	executeWork(c, s.table, &acceptWork{
		fd:          fd,
		writeBuffer: make([]byte, c.GetWriteBufferSize(0)),
	})
}

func (s *BSD) Bind(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()
	addr := c.ReadBuffer(0)

	s.logger.Debug("Bind", "fd", fd, "addrlen", len(addr))
	buildErrnoResponse(c, s.table.Bind(fd, addr))
}

func (s *BSD) Connect(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()

	s.logger.Debug("Connect", "fd", fd, "addrlen", len(c.ReadBuffer(0)))

	executeWork(c, s.table, &connectWork{
		fd:   fd,
		addr: c.ReadBuffer(0),
	})
}

// addressResponse 把地址写入 guest 缓冲区并回复 (ret, errno, len)。
func (s *BSD) addressResponse(c *ipc.Context, addr sockets.SockAddrIn, errno sockets.Errno) {
	buf := make([]byte, c.GetWriteBufferSize(0))
	if errno == sockets.ErrnoSUCCESS {
		if len(buf) < sockets.SockAddrInSize {
			errno = sockets.ErrnoINVAL
		} else {
			buf = buf[:sockets.SockAddrInSize]
			copy(buf, addr.Bytes())
		}
	}
	c.WriteBuffer(buf, 0)

	ret := int32(0)
	if errno != sockets.ErrnoSUCCESS {
		ret = -1
	}
	pushRetErrno(c, ret, errno).PushU32(uint32(len(buf)))
}

func (s *BSD) GetPeerName(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()

	s.logger.Debug("GetPeerName", "fd", fd)
	addr, errno := s.table.GetPeerName(fd)
	s.addressResponse(c, addr, errno)
}

func (s *BSD) GetSockName(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()

	s.logger.Debug("GetSockName", "fd", fd)
	addr, errno := s.table.GetSockName(fd)
	s.addressResponse(c, addr, errno)
}

func (s *BSD) Listen(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()
	backlog := rp.PopS32()

	s.logger.Debug("Listen", "fd", fd, "backlog", backlog)
	buildErrnoResponse(c, s.table.Listen(fd, backlog))
}

func (s *BSD) Shutdown(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()
	how := rp.PopS32()

	s.logger.Debug("Shutdown", "fd", fd, "how", how)
	buildErrnoResponse(c, s.table.Shutdown(fd, sockets.ShutdownHow(how)))
}

func (s *BSD) ShutdownAllSockets(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	how := rp.PopS32()

	s.logger.Debug("ShutdownAllSockets", "how", how)
	buildErrnoResponse(c, s.table.ShutdownAllSockets(sockets.ShutdownHow(how)))
}

func (s *BSD) CloseFd(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()

	s.logger.Debug("Close", "fd", fd)
	buildErrnoResponse(c, s.table.Close(fd))
}

// duplicateSocketParams 与 guest 的布局一致，共 0x10 字节。
type duplicateSocketParams struct {
	FD       int32
	_        uint32
	Reserved uint64
}

type duplicateSocketOutput struct {
	Ret   int32
	Errno uint32
}

func (s *BSD) DuplicateSocket(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	var input duplicateSocketParams
	rp.PopRaw(&input)

	s.logger.Debug("DuplicateSocket", "fd", input.FD)

	fd, errno := s.table.DuplicateSocket(input.FD)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushRaw(duplicateSocketOutput{
		Ret:   fd,
		Errno: uint32(errno),
	})
}

func (s *BSD) EventFd(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	initval := rp.PopU64()
	flags := rp.PopU32()

	s.logger.Warn("called EventFd", "stubbed", true, "initval", initval, "flags", flags)
	buildErrnoResponse(c, sockets.ErrnoSUCCESS)
}

func (s *BSD) GetThreadCoreMask(c *ipc.Context) {
	s.logger.Warn("called GetThreadCoreMask", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU64(0).PushS32(-1).PushU32(uint32(sockets.ErrnoOPNOTSUPP))
}

// --- Options ---

func (s *BSD) GetSockOpt(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()
	level := rp.PopU32()
	optname := sockets.OptName(rp.PopU32())

	optval := make([]byte, c.GetWriteBufferSize(0))
	s.logger.Debug("GetSockOpt", "fd", fd, "level", level, "optname", uint32(optname), "len", len(optval))

	errno := s.table.GetSockOpt(fd, level, optname, optval)
	c.WriteBuffer(optval, 0)

	ret := int32(0)
	if errno != sockets.ErrnoSUCCESS {
		ret = -1
	}
	pushRetErrno(c, ret, errno).PushU32(uint32(len(optval)))
}

func (s *BSD) SetSockOpt(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()
	level := rp.PopU32()
	optname := sockets.OptName(rp.PopU32())
	optval := c.ReadBuffer(0)

	s.logger.Debug("SetSockOpt", "fd", fd, "level", level, "optname", uint32(optname), "optlen", len(optval))
	buildErrnoResponse(c, s.table.SetSockOpt(fd, level, optname, optval))
}

func (s *BSD) Fcntl(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()
	cmd := rp.PopU32()
	arg := rp.PopS32()

	s.logger.Debug("Fcntl", "fd", fd, "cmd", cmd, "arg", arg)

	ret, errno := s.table.Fcntl(fd, sockets.FcntlCmd(cmd), arg)
	pushRetErrno(c, ret, errno)
}

// --- Data transfer ---

func (s *BSD) Recv(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()
	flags := rp.PopU32()

	s.logger.Debug("Recv", "fd", fd, "flags", flags, "len", c.GetWriteBufferSize(0))

	executeWork(c, s.table, &recvWork{
		fd:      fd,
		flags:   int32(flags),
		message: bytespool.Alloc(c.GetWriteBufferSize(0)),
	})
}

func (s *BSD) RecvFrom(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()
	flags := rp.PopU32()

	s.logger.Debug("RecvFrom", "fd", fd, "flags", flags, "len", c.GetWriteBufferSize(0), "addrlen", c.GetWriteBufferSize(1))

	executeWork(c, s.table, &recvFromWork{
		fd:       fd,
		flags:    int32(flags),
		message:  bytespool.Alloc(c.GetWriteBufferSize(0)),
		addrSize: c.GetWriteBufferSize(1),
	})
}

func (s *BSD) Send(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()
	flags := rp.PopU32()

	s.logger.Debug("Send", "fd", fd, "flags", flags, "len", len(c.ReadBuffer(0)))

	executeWork(c, s.table, &sendWork{
		fd:      fd,
		flags:   int32(flags),
		message: c.ReadBuffer(0),
	})
}

func (s *BSD) SendTo(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()
	flags := rp.PopU32()

	s.logger.Debug("SendTo", "fd", fd, "flags", flags, "len", len(c.ReadBuffer(0)), "addrlen", len(c.ReadBuffer(1)))

	executeWork(c, s.table, &sendToWork{
		fd:      fd,
		flags:   flags,
		message: c.ReadBuffer(0),
		addr:    c.ReadBuffer(1),
	})
}

func (s *BSD) Write(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()

	s.logger.Debug("Write", "fd", fd, "len", len(c.ReadBuffer(0)))

	executeWork(c, s.table, &sendWork{
		fd:      fd,
		message: c.ReadBuffer(0),
	})
}

func (s *BSD) Read(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	fd := rp.PopS32()

	ret, errno := s.table.Read(fd, nil)
	s.logger.Warn("called Read", "stubbed", true, "fd", fd, "len", c.GetWriteBufferSize(0))
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushS32(ret).PushU32(uint32(errno))
}
