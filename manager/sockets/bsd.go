package sockets

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/OpenListTeam/hle-sockets/manager/network"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// MaxFD 是描述符表的容量。
const MaxFD = 128

// sharedSocket 允许多个描述符共享同一个宿主套接字，refs 受 BSD.mu 保护。
type sharedSocket struct {
	network.SocketBase
	refs int
}

// FileDescriptor 是描述符表中的一项。
type FileDescriptor struct {
	socket            *sharedSocket
	flags             int32
	// closing 表示宿主 Close 正在进行：槽位仍被占用，但查找时视为未分配。
	closing           bool
	isConnectionBased bool
	domain            network.Domain
	typ               network.Type
	protocol          network.Protocol
}

func (d *FileDescriptor) poolKey() PoolKey {
	return PoolKey{Domain: d.domain, Type: d.typ, Protocol: d.protocol}
}

// BSD 是 guest 的套接字描述符表。表锁只保护分配、查找与释放，
// 不会在可能阻塞的宿主调用期间持有。
type BSD struct {
	mu     sync.Mutex
	fds    [MaxFD]*FileDescriptor
	pool   *Pool
	room   network.RoomNetwork
	logger *slog.Logger

	newDirect func(logger *slog.Logger) network.SocketBase

	member     network.RoomMember
	roomHandle network.CallbackHandle
	closeOnce  sync.Once
}

type Option func(*BSD)

func WithLogger(logger *slog.Logger) Option {
	return func(b *BSD) { b.logger = logger }
}

func WithRoomNetwork(room network.RoomNetwork) Option {
	return func(b *BSD) { b.room = room }
}

func WithPool(pool *Pool) Option {
	return func(b *BSD) { b.pool = pool }
}

// WithDirectSocketFactory 替换直连套接字的构造函数。
func WithDirectSocketFactory(fn func(logger *slog.Logger) network.SocketBase) Option {
	return func(b *BSD) { b.newDirect = fn }
}

func NewBSD(opts ...Option) *BSD {
	b := &BSD{
		logger: slog.Default(),
		room:   network.OfflineRoom{},
		newDirect: func(logger *slog.Logger) network.SocketBase {
			return network.NewSocket(logger)
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.pool == nil {
		b.pool = NewPool()
	}
	if member, ok := b.room.RoomMember(); ok && member != nil {
		b.member = member
		b.roomHandle = member.BindOnProxyPacketReceived(b.onProxyPacketReceived)
	}
	return b
}

func (b *BSD) Pool() *Pool { return b.pool }

func (b *BSD) onProxyPacketReceived(packet network.ProxyPacket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[*sharedSocket]struct{})
	for _, d := range b.fds {
		if d == nil || d.closing {
			continue
		}
		if _, ok := seen[d.socket]; ok {
			continue
		}
		seen[d.socket] = struct{}{}
		d.socket.HandleProxyPacket(packet)
	}
}

// --- Descriptor table helpers ---

func isValidFd(fd int32) bool {
	return fd >= 0 && fd < MaxFD
}

// lookup 返回描述符的快照，调用方不需要持有锁。
func (b *BSD) lookup(fd int32) (FileDescriptor, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lookupLocked(fd)
}

func (b *BSD) lookupLocked(fd int32) (FileDescriptor, bool) {
	if !isValidFd(fd) {
		b.logger.Error("invalid file descriptor handle", "fd", fd)
		return FileDescriptor{}, false
	}
	d := b.fds[fd]
	if d == nil {
		b.logger.Error("file descriptor handle is not allocated", "fd", fd)
		return FileDescriptor{}, false
	}
	if d.closing {
		b.logger.Error("file descriptor handle is being closed", "fd", fd)
		return FileDescriptor{}, false
	}
	return *d, true
}

// findFreeLocked 线性扫描最小的空闲槽位。
func (b *BSD) findFreeLocked() int32 {
	for i, d := range b.fds {
		if d == nil {
			return int32(i)
		}
	}
	return -1
}

// OpenCount 返回已分配的描述符数量。
func (b *BSD) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, d := range b.fds {
		if d != nil {
			n++
		}
	}
	return n
}

// --- Lifecycle ---

// Socket 分配最小的空闲描述符并创建套接字。
func (b *BSD) Socket(domain Domain, typ Type, protocol Protocol) (int32, Errno) {
	if typ&typeFlagNonBlockOnCreate != 0 {
		b.logger.Warn("socket created with the non-blocking type bit, ignoring it", "type", uint32(typ))
		typ &^= typeFlagNonBlockOnCreate
	}
	switch {
	case typ == TypeSEQPACKET:
		panic("sockets: SOCK_SEQPACKET is not implemented")
	case typ == TypeRAW && (domain != DomainINET || protocol != ProtocolICMP):
		panic("sockets: SOCK_RAW is only implemented for INET/ICMP")
	}

	hostDomain, hostType, hostProtocol := TranslateDomain(domain), TranslateType(typ), TranslateProtocol(protocol)

	b.mu.Lock()
	defer b.mu.Unlock()

	fd := b.findFreeLocked()
	if fd < 0 {
		b.logger.Error("descriptor table is full")
		return -1, ErrnoMFILE
	}

	d := &FileDescriptor{
		isConnectionBased: typ == TypeSTREAM,
		domain:            hostDomain,
		typ:               hostType,
		protocol:          hostProtocol,
	}

	var s network.SocketBase
	if network.IsRoomConnected(b.room) {
		if pooled, ok := b.pool.TryAcquire(d.poolKey()); ok {
			s = pooled
		} else {
			s = network.NewProxySocket(b.room, b.logger)
		}
	} else {
		s = b.newDirect(b.logger)
	}
	if errno := s.Initialize(hostDomain, hostType, hostProtocol); errno != network.ErrnoSUCCESS {
		b.logger.Error("socket initialization failed", "fd", fd, "errno", errno)
		return -1, TranslateErrno(errno)
	}

	d.socket = &sharedSocket{SocketBase: s, refs: 1}
	b.fds[fd] = d
	b.logger.Info("new socket", "fd", fd, "domain", domain, "type", typ, "protocol", protocol)
	return fd, ErrnoSUCCESS
}

// Accept 接受连接并为其分配新的描述符。
func (b *BSD) Accept(fd int32) (int32, Errno, SockAddrIn) {
	b.mu.Lock()
	parent, ok := b.lookupLocked(fd)
	if !ok {
		b.mu.Unlock()
		return -1, ErrnoBADF, SockAddrIn{}
	}
	if b.findFreeLocked() < 0 {
		b.mu.Unlock()
		return -1, ErrnoMFILE, SockAddrIn{}
	}
	b.mu.Unlock()

	result, errno := parent.socket.Accept()
	if errno != network.ErrnoSUCCESS {
		return -1, TranslateErrno(errno), SockAddrIn{}
	}
	if result.Socket == nil {
		b.logger.Warn("accept returned no socket", "fd", fd)
		return -1, ErrnoOPNOTSUPP, SockAddrIn{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	newFd := b.findFreeLocked()
	if newFd < 0 {
		result.Socket.Close()
		return -1, ErrnoMFILE, SockAddrIn{}
	}
	b.fds[newFd] = &FileDescriptor{
		socket:            &sharedSocket{SocketBase: result.Socket, refs: 1},
		isConnectionBased: parent.isConnectionBased,
		domain:            parent.domain,
		typ:               parent.typ,
		protocol:          parent.protocol,
	}
	return newFd, ErrnoSUCCESS, TranslateSockAddrInToGuest(result.SockAddrIn)
}

func (b *BSD) Bind(fd int32, addr []byte) Errno {
	d, ok := b.lookup(fd)
	if !ok {
		return ErrnoBADF
	}
	guestAddr, ok := ParseSockAddrIn(addr)
	if !ok {
		return ErrnoINVAL
	}
	return TranslateErrno(d.socket.Bind(TranslateSockAddrIn(guestAddr)))
}

func (b *BSD) Connect(fd int32, addr []byte) Errno {
	d, ok := b.lookup(fd)
	if !ok {
		return ErrnoBADF
	}
	guestAddr, ok := ParseSockAddrIn(addr)
	if !ok {
		return ErrnoINVAL
	}
	hostAddr := TranslateSockAddrIn(guestAddr)
	result := TranslateErrno(d.socket.Connect(hostAddr))
	if result != ErrnoSUCCESS {
		b.logger.Error("connect failed", "fd", fd, "addr", hostAddr.String(), "errno", result)
	} else {
		b.logger.Info("connected", "fd", fd, "addr", hostAddr.String())
	}
	return result
}

func (b *BSD) GetPeerName(fd int32) (SockAddrIn, Errno) {
	d, ok := b.lookup(fd)
	if !ok {
		return SockAddrIn{}, ErrnoBADF
	}
	addr, errno := d.socket.GetPeerName()
	if errno != network.ErrnoSUCCESS {
		return SockAddrIn{}, TranslateErrno(errno)
	}
	return TranslateSockAddrInToGuest(addr), ErrnoSUCCESS
}

func (b *BSD) GetSockName(fd int32) (SockAddrIn, Errno) {
	d, ok := b.lookup(fd)
	if !ok {
		return SockAddrIn{}, ErrnoBADF
	}
	addr, errno := d.socket.GetSockName()
	if errno != network.ErrnoSUCCESS {
		return SockAddrIn{}, TranslateErrno(errno)
	}
	return TranslateSockAddrInToGuest(addr), ErrnoSUCCESS
}

func (b *BSD) Listen(fd int32, backlog int32) Errno {
	d, ok := b.lookup(fd)
	if !ok {
		return ErrnoBADF
	}
	return TranslateErrno(d.socket.Listen(backlog))
}

func (b *BSD) Shutdown(fd int32, how ShutdownHow) Errno {
	d, ok := b.lookup(fd)
	if !ok {
		return ErrnoBADF
	}
	return TranslateErrno(d.socket.Shutdown(TranslateShutdownHow(how)))
}

// ShutdownAllSockets 对所有打开的描述符执行 Shutdown。
func (b *BSD) ShutdownAllSockets(how ShutdownHow) Errno {
	b.mu.Lock()
	seen := make(map[*sharedSocket]struct{})
	var targets []*sharedSocket
	for _, d := range b.fds {
		if d == nil || d.closing {
			continue
		}
		if _, ok := seen[d.socket]; !ok {
			seen[d.socket] = struct{}{}
			targets = append(targets, d.socket)
		}
	}
	b.mu.Unlock()

	result := ErrnoSUCCESS
	for _, s := range targets {
		if errno := TranslateErrno(s.Shutdown(TranslateShutdownHow(how))); errno != ErrnoSUCCESS && result == ErrnoSUCCESS {
			result = errno
		}
	}
	return result
}

// --- Options ---

// GetSockOpt 只支持 SOCKET 层的 ERROR，其它选项记录日志后直接返回成功。
func (b *BSD) GetSockOpt(fd int32, level uint32, optname OptName, optval []byte) Errno {
	d, ok := b.lookup(fd)
	if !ok {
		return ErrnoBADF
	}
	if SocketLevel(level) != SocketLevelSOCKET {
		b.logger.Warn("unknown getsockopt level", "fd", fd, "level", level)
		return ErrnoINVAL
	}

	switch optname {
	case OptNameERROR:
		if len(optval) != 4 {
			b.logger.Error("getsockopt ERROR needs a 4 byte buffer", "fd", fd, "size", len(optval))
			return ErrnoINVAL
		}
		pending, errno := d.socket.GetPendingError()
		if errno == network.ErrnoSUCCESS {
			binary.LittleEndian.PutUint32(optval, uint32(TranslateErrno(pending)))
		}
		return TranslateErrno(errno)
	default:
		b.logger.Warn("unimplemented getsockopt option", "fd", fd, "optname", uint32(optname))
		return ErrnoSUCCESS
	}
}

func (b *BSD) SetSockOpt(fd int32, level uint32, optname OptName, optval []byte) Errno {
	d, ok := b.lookup(fd)
	if !ok {
		return ErrnoBADF
	}
	if SocketLevel(level) != SocketLevelSOCKET {
		b.logger.Warn("unknown setsockopt level", "fd", fd, "level", level)
		return ErrnoINVAL
	}
	s := d.socket

	if optname == OptNameLINGER {
		linger, ok := parseLinger(optval)
		if !ok || (linger.OnOff != 0 && linger.OnOff != 1) {
			return ErrnoINVAL
		}
		return TranslateErrno(s.SetLinger(linger.OnOff != 0, linger.Linger))
	}

	if len(optval) != 4 {
		return ErrnoINVAL
	}
	value := binary.LittleEndian.Uint32(optval)

	switch optname {
	case OptNameREUSEADDR, OptNameKEEPALIVE, OptNameBROADCAST:
		if value != 0 && value != 1 {
			return ErrnoINVAL
		}
		enable := value != 0
		switch optname {
		case OptNameREUSEADDR:
			return TranslateErrno(s.SetReuseAddr(enable))
		case OptNameKEEPALIVE:
			return TranslateErrno(s.SetKeepAlive(enable))
		default:
			return TranslateErrno(s.SetBroadcast(enable))
		}
	case OptNameSNDBUF:
		return TranslateErrno(s.SetSndBuf(value))
	case OptNameRCVBUF:
		return TranslateErrno(s.SetRcvBuf(value))
	case OptNameSNDTIMEO:
		return TranslateErrno(s.SetSndTimeo(value))
	case OptNameRCVTIMEO:
		return TranslateErrno(s.SetRcvTimeo(value))
	case OptNameNOSIGPIPE:
		b.logger.Warn("(STUBBED) setsockopt NOSIGPIPE", "fd", fd, "value", value)
		return ErrnoSUCCESS
	default:
		b.logger.Warn("unimplemented setsockopt option", "fd", fd, "optname", uint32(optname))
		return ErrnoINVAL
	}
}

// Fcntl 只支持 GETFL 与 SETFL，标志位中只有 O_NONBLOCK 有意义。
func (b *BSD) Fcntl(fd int32, cmd FcntlCmd, arg int32) (int32, Errno) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.lookupLocked(fd)
	if !ok {
		return -1, ErrnoBADF
	}

	switch cmd {
	case FcntlGETFL:
		if arg != 0 {
			panic("sockets: fcntl GETFL with a non-zero argument")
		}
		return d.flags, ErrnoSUCCESS
	case FcntlSETFL:
		enable := arg&FlagONonBlock != 0
		if errno := TranslateErrno(d.socket.SetNonBlock(enable)); errno != ErrnoSUCCESS {
			return -1, errno
		}
		b.fds[fd].flags = arg
		return 0, ErrnoSUCCESS
	default:
		b.logger.Warn("unimplemented fcntl command", "fd", fd, "cmd", uint32(cmd))
		return -1, ErrnoSUCCESS
	}
}

// --- Data transfer ---

// withDontWait 在一次调用期间按 MSG_DONTWAIT 临时切换为非阻塞，返回去掉该标志后的 flags。
func withDontWait(d FileDescriptor, flags int32, op func(flags int32)) {
	if flags&FlagMsgDontWait != 0 {
		flags &^= FlagMsgDontWait
		if d.flags&FlagONonBlock == 0 {
			d.socket.SetNonBlock(true)
			defer d.socket.SetNonBlock(false)
		}
	}
	op(flags)
}

func (b *BSD) Recv(fd int32, flags int32, message []byte) (int32, Errno) {
	d, ok := b.lookup(fd)
	if !ok {
		return -1, ErrnoBADF
	}
	var (
		ret   int32
		errno network.Errno
	)
	withDontWait(d, flags, func(flags int32) {
		ret, errno = d.socket.Recv(int(flags), message)
	})
	return ret, TranslateErrno(errno)
}

// RecvFrom 返回读取的字节数与 guest 地址；面向连接的套接字与出错时地址为空。
func (b *BSD) RecvFrom(fd int32, flags int32, message []byte) (int32, []byte, Errno) {
	d, ok := b.lookup(fd)
	if !ok {
		return -1, nil, ErrnoBADF
	}

	var (
		addr  network.SockAddrIn
		pAddr *network.SockAddrIn
		ret   int32
		errno network.Errno
	)
	if !d.isConnectionBased {
		pAddr = &addr
	}
	withDontWait(d, flags, func(flags int32) {
		ret, errno = d.socket.RecvFrom(int(flags), message, pAddr)
	})

	result := TranslateErrno(errno)
	if ret < 0 || d.isConnectionBased {
		return ret, nil, result
	}
	return ret, TranslateSockAddrInToGuest(addr).Bytes(), result
}

func (b *BSD) Send(fd int32, flags int32, message []byte) (int32, Errno) {
	d, ok := b.lookup(fd)
	if !ok {
		return -1, ErrnoBADF
	}
	return TranslateResult(d.socket.Send(message, int(flags)))
}

// Write 等同于 flags 为 0 的 Send。
func (b *BSD) Write(fd int32, message []byte) (int32, Errno) {
	return b.Send(fd, 0, message)
}

// Read 尚未实现，总是返回 0 字节。
func (b *BSD) Read(fd int32, message []byte) (int32, Errno) {
	b.logger.Warn("(STUBBED) read", "fd", fd, "size", len(message))
	return 0, ErrnoSUCCESS
}

func (b *BSD) SendTo(fd int32, flags uint32, message []byte, addr []byte) (int32, Errno) {
	d, ok := b.lookup(fd)
	if !ok {
		return -1, ErrnoBADF
	}

	var pAddr *network.SockAddrIn
	if len(addr) > 0 {
		guestAddr, ok := ParseSockAddrIn(addr)
		if !ok {
			return -1, ErrnoINVAL
		}
		hostAddr := TranslateSockAddrIn(guestAddr)
		pAddr = &hostAddr
	} else if !d.isConnectionBased {
		return -1, ErrnoINVAL
	}
	return TranslateResult(d.socket.SendTo(flags, message, pAddr))
}

// --- Close / duplicate ---

// Close 关闭描述符。宿主关闭失败时保留槽位；共享的套接字只在最后一个引用关闭时真正关闭。
func (b *BSD) Close(fd int32) Errno {
	b.mu.Lock()
	if _, ok := b.lookupLocked(fd); !ok {
		b.mu.Unlock()
		return ErrnoBADF
	}
	d := b.fds[fd]
	if d.socket.refs > 1 {
		d.socket.refs--
		b.fds[fd] = nil
		b.mu.Unlock()
		b.logger.Info("close shared socket", "fd", fd)
		return ErrnoSUCCESS
	}
	// 在锁内取走最后一个引用，宿主 Close 期间 DuplicateSocket 与查找都拿不到它。
	d.closing = true
	d.socket.refs = 0
	b.mu.Unlock()

	if errno := TranslateErrno(d.socket.Close()); errno != ErrnoSUCCESS {
		b.mu.Lock()
		d.closing = false
		d.socket.refs = 1
		b.mu.Unlock()
		return errno
	}
	b.logger.Info("close socket", "fd", fd)

	b.mu.Lock()
	b.fds[fd] = nil
	b.mu.Unlock()

	if _, isProxy := d.socket.SocketBase.(*network.ProxySocket); isProxy && network.IsRoomConnected(b.room) {
		b.pool.Release(d.poolKey(), d.socket.SocketBase)
	}
	return ErrnoSUCCESS
}

// DuplicateSocket 分配新描述符，与原描述符共享同一个套接字。
func (b *BSD) DuplicateSocket(fd int32) (int32, Errno) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.lookupLocked(fd); !ok {
		return -1, ErrnoBADF
	}
	newFd := b.findFreeLocked()
	if newFd < 0 {
		return -1, ErrnoMFILE
	}
	dup := *b.fds[fd]
	dup.socket.refs++
	b.fds[newFd] = &dup
	return newFd, ErrnoSUCCESS
}

// GetSocket 返回描述符对应的宿主套接字。
func (b *BSD) GetSocket(fd int32) (network.SocketBase, bool) {
	d, ok := b.lookup(fd)
	if !ok {
		return nil, false
	}
	return d.socket.SocketBase, true
}

// --- Poll ---

// Poll 读取 in 中的 nfds 个 PollFD，把结果按原顺序写入 out。
func (b *BSD) Poll(nfds int32, timeout int32, in []byte, out []byte) (int32, Errno) {
	if nfds <= 0 {
		return -1, ErrnoSUCCESS
	}
	length := int(nfds) * PollFDSize
	if len(in) < length || len(out) < length {
		return -1, ErrnoINVAL
	}
	if timeout < -1 {
		b.logger.Error("invalid poll timeout", "timeout", timeout)
		return -1, ErrnoINVAL
	}

	fds := readPollFDs(in, int(nfds))
	for i := range fds {
		fds[i].Revents = 0
	}

	b.mu.Lock()
	hostFds := make([]network.PollFD, len(fds))
	for i, pollFd := range fds {
		if !isValidFd(pollFd.FD) {
			b.mu.Unlock()
			b.logger.Error("poll: invalid file descriptor handle", "fd", pollFd.FD)
			fds[i].Revents = PollNval
			writePollFDs(out, fds)
			return 0, ErrnoSUCCESS
		}
		d := b.fds[pollFd.FD]
		if d == nil || d.closing {
			b.mu.Unlock()
			b.logger.Debug("poll: file descriptor handle is not allocated", "fd", pollFd.FD)
			fds[i].Revents = PollNval
			writePollFDs(out, fds)
			return 0, ErrnoSUCCESS
		}
		hostFds[i] = network.PollFD{
			Socket: d.socket.SocketBase,
			Events: TranslatePollEvents(pollFd.Events),
		}
	}
	b.mu.Unlock()

	ret, errno := network.Poll(hostFds, timeout)
	for i := range fds {
		fds[i].Revents = TranslatePollEventsToGuest(hostFds[i].Revents)
	}
	writePollFDs(out, fds)
	return ret, TranslateErrno(errno)
}

// --- Teardown ---

// CloseAll 在服务销毁时关闭全部描述符并解除房间回调。
func (b *BSD) CloseAll() error {
	var err error
	b.closeOnce.Do(func() {
		if b.member != nil {
			b.member.Unbind(b.roomHandle)
		}

		b.mu.Lock()
		seen := make(map[*sharedSocket]struct{})
		var sockets []*sharedSocket
		var fdsOf []int
		for i, d := range b.fds {
			// 正在关闭的槽位由进行中的 Close 负责释放
			if d == nil || d.closing {
				continue
			}
			b.fds[i] = nil
			if _, ok := seen[d.socket]; ok {
				continue
			}
			seen[d.socket] = struct{}{}
			sockets = append(sockets, d.socket)
			fdsOf = append(fdsOf, i)
		}
		b.mu.Unlock()

		for i, s := range sockets {
			if errno := s.Close(); errno != network.ErrnoSUCCESS && errno != network.ErrnoBADF {
				err = multierr.Append(err, errors.Errorf("close fd %d: %s", fdsOf[i], errno))
			}
		}
	})
	return err
}
