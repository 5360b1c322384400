package sockets

import (
	"encoding/binary"
	"log/slog"
	"testing"
	"time"

	"github.com/OpenListTeam/hle-sockets/manager/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopbackAddr(port uint16) []byte {
	return SockAddrIn{Len: SockAddrInSize, Family: uint8(DomainINET), Port: port, IP: [4]byte{127, 0, 0, 1}}.Bytes()
}

func newFakeBSD(t *testing.T) (*BSD, *[]*fakeSocket) {
	t.Helper()
	created := &[]*fakeSocket{}
	b := NewBSD(WithDirectSocketFactory(newFakeFactory(created)))
	t.Cleanup(func() { b.CloseAll() })
	return b, created
}

func newRealBSD(t *testing.T) *BSD {
	t.Helper()
	b := NewBSD()
	t.Cleanup(func() { b.CloseAll() })
	return b
}

func TestSocketLowestFreeHandle(t *testing.T) {
	b := newRealBSD(t)

	fd, errno := b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Equal(t, int32(0), fd)
	require.Equal(t, ErrnoSUCCESS, b.Bind(0, loopbackAddr(0)))
	require.Equal(t, ErrnoSUCCESS, b.Listen(0, 5))

	fd, errno = b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Equal(t, int32(1), fd)

	require.Equal(t, ErrnoSUCCESS, b.Close(0))
	fd, errno = b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Equal(t, int32(0), fd)
}

func TestSocketTableFull(t *testing.T) {
	b, created := newFakeBSD(t)
	for i := 0; i < MaxFD; i++ {
		fd, errno := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)
		require.Equal(t, ErrnoSUCCESS, errno)
		require.Equal(t, int32(i), fd)
	}
	before, _ := b.GetSocket(5)

	fd, errno := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)
	require.Equal(t, int32(-1), fd)
	require.Equal(t, ErrnoMFILE, errno)
	require.Equal(t, MaxFD, b.OpenCount())
	after, _ := b.GetSocket(5)
	require.Same(t, before, after)

	_, errno = b.DuplicateSocket(0)
	require.Equal(t, ErrnoMFILE, errno)

	require.Equal(t, ErrnoSUCCESS, b.Close(64))
	fd, _ = b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)
	require.Equal(t, int32(64), fd)
	require.Len(t, *created, MaxFD+1)
}

func TestSocketContractViolations(t *testing.T) {
	b, _ := newFakeBSD(t)
	require.Panics(t, func() { b.Socket(DomainINET, TypeSEQPACKET, ProtocolUnspecified) })
	require.Panics(t, func() { b.Socket(DomainINET, TypeRAW, ProtocolUDP) })
	require.NotPanics(t, func() { b.Socket(DomainINET, TypeRAW, ProtocolICMP) })

	fd, errno := b.Socket(DomainINET, TypeDGRAM|typeFlagNonBlockOnCreate, ProtocolUDP)
	require.Equal(t, ErrnoSUCCESS, errno)
	flags, _ := b.Fcntl(fd, FcntlGETFL, 0)
	require.Zero(t, flags)
	require.Panics(t, func() { b.Fcntl(fd, FcntlGETFL, 1) })
}

func TestBindAddressInUse(t *testing.T) {
	b := newRealBSD(t)
	listener, _ := b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)
	require.Equal(t, ErrnoSUCCESS, b.Bind(listener, loopbackAddr(0)))
	require.Equal(t, ErrnoSUCCESS, b.Listen(listener, 1))
	name, errno := b.GetSockName(listener)
	require.Equal(t, ErrnoSUCCESS, errno)

	second, _ := b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)
	assert.Equal(t, ErrnoADDRINUSE, b.Bind(second, name.Bytes()))
}

func TestCloseInvalidAndFailure(t *testing.T) {
	b, created := newFakeBSD(t)
	require.Equal(t, ErrnoBADF, b.Close(-1))
	require.Equal(t, ErrnoBADF, b.Close(MaxFD))
	require.Equal(t, ErrnoBADF, b.Close(3))

	fd, _ := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)
	(*created)[0].closeErrno = network.ErrnoBADF
	require.Equal(t, ErrnoBADF, b.Close(fd))
	require.Equal(t, 1, b.OpenCount())

	(*created)[0].closeErrno = network.ErrnoSUCCESS
	require.Equal(t, ErrnoSUCCESS, b.Close(fd))
	require.Zero(t, b.OpenCount())
	require.Equal(t, ErrnoBADF, b.Close(fd))
}

func TestDuplicateSocketOutlivesOriginal(t *testing.T) {
	b := newRealBSD(t)
	receiver, _ := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)
	require.Equal(t, ErrnoSUCCESS, b.Bind(receiver, loopbackAddr(0)))
	name, errno := b.GetSockName(receiver)
	require.Equal(t, ErrnoSUCCESS, errno)

	sender, _ := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)
	dup, errno := b.DuplicateSocket(sender)
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Equal(t, int32(2), dup)

	require.Equal(t, ErrnoSUCCESS, b.Close(sender))
	n, errno := b.SendTo(dup, 0, []byte("hi"), name.Bytes())
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Equal(t, int32(2), n)

	buf := make([]byte, 8)
	n, addr, errno := b.RecvFrom(receiver, 0, buf)
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Equal(t, "hi", string(buf[:n]))
	require.Len(t, addr, SockAddrInSize)

	require.Equal(t, ErrnoSUCCESS, b.Close(dup))
	_, ok := b.GetSocket(dup)
	require.False(t, ok)
}

func TestDuplicateSharesOneHostClose(t *testing.T) {
	b, created := newFakeBSD(t)
	fd, _ := b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)
	dup, _ := b.DuplicateSocket(fd)

	require.Equal(t, ErrnoSUCCESS, b.Close(fd))
	require.Zero(t, (*created)[0].closed)
	require.Equal(t, ErrnoSUCCESS, b.Close(dup))
	require.Equal(t, 1, (*created)[0].closed)
}

func newBlockingBSD(t *testing.T, s *blockingCloseSocket) *BSD {
	t.Helper()
	b := NewBSD(WithDirectSocketFactory(func(*slog.Logger) network.SocketBase { return s }))
	t.Cleanup(func() { b.CloseAll() })
	return b
}

func TestDuplicateDuringCloseIsRejected(t *testing.T) {
	s := newBlockingCloseSocket(network.ErrnoSUCCESS)
	b := newBlockingBSD(t, s)
	fd, errno := b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)
	require.Equal(t, ErrnoSUCCESS, errno)

	done := make(chan Errno, 1)
	go func() { done <- b.Close(fd) }()
	<-s.entered

	dup, errno := b.DuplicateSocket(fd)
	assert.Equal(t, int32(-1), dup)
	assert.Equal(t, ErrnoBADF, errno)
	_, ok := b.GetSocket(fd)
	assert.False(t, ok)
	// 关闭期间槽位仍被占用
	assert.Equal(t, 1, b.OpenCount())

	close(s.release)
	require.Equal(t, ErrnoSUCCESS, <-done)
	assert.Equal(t, int32(1), s.closes.Load())
	assert.Zero(t, b.OpenCount())
	assert.Equal(t, ErrnoBADF, b.Close(fd))
	assert.Equal(t, int32(1), s.closes.Load())
}

func TestFailedCloseRestoresDescriptor(t *testing.T) {
	s := newBlockingCloseSocket(network.ErrnoBADF)
	close(s.release)
	b := newBlockingBSD(t, s)
	fd, _ := b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)

	require.Equal(t, ErrnoBADF, b.Close(fd))
	_, ok := b.GetSocket(fd)
	require.True(t, ok)

	dup, errno := b.DuplicateSocket(fd)
	require.Equal(t, ErrnoSUCCESS, errno)
	s.result = network.ErrnoSUCCESS
	require.Equal(t, ErrnoSUCCESS, b.Close(fd))
	require.Equal(t, int32(1), s.closes.Load())
	require.Equal(t, ErrnoSUCCESS, b.Close(dup))
	require.Equal(t, int32(2), s.closes.Load())
}

func TestPollArguments(t *testing.T) {
	b, _ := newFakeBSD(t)
	in := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	out := []byte{9, 9, 9, 9, 9, 9, 9, 9}

	for _, nfds := range []int32{0, -3} {
		ret, errno := b.Poll(nfds, 0, in, out)
		require.Equal(t, int32(-1), ret)
		require.Equal(t, ErrnoSUCCESS, errno)
		require.Equal(t, []byte{9, 9, 9, 9, 9, 9, 9, 9}, out)
	}

	_, errno := b.Poll(2, 0, in, out)
	require.Equal(t, ErrnoINVAL, errno)
	_, errno = b.Poll(1, -2, in, out)
	require.Equal(t, ErrnoINVAL, errno)
}

func pollBuffer(entries ...PollFD) []byte {
	buf := make([]byte, len(entries)*PollFDSize)
	writePollFDs(buf, entries)
	return buf
}

func TestPollInvalidHandle(t *testing.T) {
	b, _ := newFakeBSD(t)
	fd, _ := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)

	for _, bad := range []int32{MaxFD, -1, 77} {
		in := pollBuffer(
			PollFD{FD: fd, Events: PollIn, Revents: PollOut},
			PollFD{FD: bad, Events: PollIn, Revents: PollErr},
			PollFD{FD: fd, Events: PollOut, Revents: PollHup},
		)
		out := make([]byte, len(in))
		ret, errno := b.Poll(3, -1, in, out)
		require.Equal(t, int32(0), ret)
		require.Equal(t, ErrnoSUCCESS, errno)

		got := readPollFDs(out, 3)
		assert.Zero(t, got[0].Revents)
		assert.Equal(t, PollNval, got[1].Revents)
		assert.Zero(t, got[2].Revents)
		assert.Equal(t, bad, got[1].FD)
	}
}

func TestPollReadiness(t *testing.T) {
	b := newRealBSD(t)
	receiver, _ := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)
	require.Equal(t, ErrnoSUCCESS, b.Bind(receiver, loopbackAddr(0)))
	name, _ := b.GetSockName(receiver)
	sender, _ := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)

	in := pollBuffer(PollFD{FD: sender, Events: PollOut}, PollFD{FD: receiver, Events: PollIn})
	out := make([]byte, len(in))
	ret, errno := b.Poll(2, 0, in, out)
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Equal(t, int32(1), ret)
	got := readPollFDs(out, 2)
	require.Equal(t, PollOut, got[0].Revents)
	require.Zero(t, got[1].Revents)

	b.SendTo(sender, 0, []byte("x"), name.Bytes())
	ret, errno = b.Poll(2, 1000, in, out)
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Equal(t, int32(2), ret)
	got = readPollFDs(out, 2)
	require.Equal(t, PollIn, got[1].Revents)
}

func TestRecvFromConnectionBasedOmitsAddress(t *testing.T) {
	b, created := newFakeBSD(t)
	stream, _ := b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)
	(*created)[0].recvFrom = network.SockAddrIn{Family: network.DomainINET, Port: 1}

	n, addr, errno := b.RecvFrom(stream, 0, make([]byte, 8))
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Equal(t, int32(4), n)
	require.Empty(t, addr)

	dgram, _ := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)
	(*created)[1].recvFrom = network.SockAddrIn{Family: network.DomainINET, IP: [4]byte{1, 2, 3, 4}, Port: 99}
	_, addr, errno = b.RecvFrom(dgram, 0, make([]byte, 8))
	require.Equal(t, ErrnoSUCCESS, errno)
	parsed, ok := ParseSockAddrIn(addr)
	require.True(t, ok)
	require.Equal(t, SockAddrIn{Len: 16, Family: 2, Port: 99, IP: [4]byte{1, 2, 3, 4}}, parsed)
}

func TestRecvFromErrorClearsAddress(t *testing.T) {
	b := newRealBSD(t)
	fd, _ := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)
	require.Equal(t, ErrnoSUCCESS, b.Bind(fd, loopbackAddr(0)))
	n, addr, errno := b.RecvFrom(fd, FlagMsgDontWait, make([]byte, 8))
	require.Equal(t, int32(-1), n)
	require.Equal(t, ErrnoAGAIN, errno)
	require.Empty(t, addr)
}

func TestSendToDatagramRequiresAddress(t *testing.T) {
	b, created := newFakeBSD(t)
	fd, _ := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)

	n, errno := b.SendTo(fd, 0, []byte("abc"), nil)
	require.Equal(t, int32(-1), n)
	require.Equal(t, ErrnoINVAL, errno)
	require.Zero(t, (*created)[0].sendTos)

	_, errno = b.SendTo(fd, 0, []byte("abc"), []byte{1, 2, 3})
	require.Equal(t, ErrnoINVAL, errno)
	require.Zero(t, (*created)[0].sendTos)

	stream, _ := b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)
	n, errno = b.SendTo(stream, 0, []byte("abc"), nil)
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Equal(t, int32(3), n)
}

func TestDontWaitRestoresBlocking(t *testing.T) {
	b, created := newFakeBSD(t)
	fd, _ := b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)
	s := (*created)[0]

	_, errno := b.Recv(fd, FlagMsgDontWait, make([]byte, 4))
	require.Equal(t, ErrnoAGAIN, errno)
	require.Equal(t, []bool{true, false}, s.nonBlock)

	// 描述符已是非阻塞时不再切换
	_, errno = b.Fcntl(fd, FcntlSETFL, FlagONonBlock)
	require.Equal(t, ErrnoSUCCESS, errno)
	s.nonBlock = nil
	b.Recv(fd, FlagMsgDontWait, make([]byte, 4))
	b.Recv(fd, 0, make([]byte, 4))
	require.Empty(t, s.nonBlock)
}

func TestFcntlFlags(t *testing.T) {
	b := newRealBSD(t)
	fd, _ := b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)

	flags, errno := b.Fcntl(fd, FcntlGETFL, 0)
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Zero(t, flags)

	ret, errno := b.Fcntl(fd, FcntlSETFL, FlagONonBlock)
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Zero(t, ret)
	flags, _ = b.Fcntl(fd, FcntlGETFL, 0)
	require.Equal(t, int32(FlagONonBlock), flags)

	ret, errno = b.Fcntl(fd, FcntlCmd(1), 0)
	require.Equal(t, int32(-1), ret)
	require.Equal(t, ErrnoSUCCESS, errno)

	_, errno = b.Fcntl(99, FcntlGETFL, 0)
	require.Equal(t, ErrnoBADF, errno)
}

func TestGetSockOptError(t *testing.T) {
	b := newRealBSD(t)
	fd, _ := b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)

	optval := []byte{0xff, 0xff, 0xff, 0xff}
	require.Equal(t, ErrnoSUCCESS, b.GetSockOpt(fd, uint32(SocketLevelSOCKET), OptNameERROR, optval))
	require.Zero(t, binary.LittleEndian.Uint32(optval))

	require.Equal(t, ErrnoINVAL, b.GetSockOpt(fd, uint32(SocketLevelSOCKET), OptNameERROR, make([]byte, 8)))
	require.Equal(t, ErrnoINVAL, b.GetSockOpt(fd, 6, OptNameERROR, optval))
	require.Equal(t, ErrnoSUCCESS, b.GetSockOpt(fd, uint32(SocketLevelSOCKET), OptNameRCVBUF, optval))
	require.Equal(t, ErrnoBADF, b.GetSockOpt(42, uint32(SocketLevelSOCKET), OptNameERROR, optval))
}

func TestSetSockOpt(t *testing.T) {
	b := newRealBSD(t)
	fd, _ := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)
	level := uint32(SocketLevelSOCKET)
	u32 := func(v uint32) []byte {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, v)
		return buf
	}
	linger := func(onoff, secs uint32) []byte {
		buf := make([]byte, LingerSize)
		binary.LittleEndian.PutUint32(buf, onoff)
		binary.LittleEndian.PutUint32(buf[4:], secs)
		return buf
	}

	assert.Equal(t, ErrnoSUCCESS, b.SetSockOpt(fd, level, OptNameREUSEADDR, u32(1)))
	assert.Equal(t, ErrnoSUCCESS, b.SetSockOpt(fd, level, OptNameBROADCAST, u32(0)))
	assert.Equal(t, ErrnoINVAL, b.SetSockOpt(fd, level, OptNameKEEPALIVE, u32(2)))
	assert.Equal(t, ErrnoSUCCESS, b.SetSockOpt(fd, level, OptNameRCVBUF, u32(1<<16)))
	assert.Equal(t, ErrnoSUCCESS, b.SetSockOpt(fd, level, OptNameSNDTIMEO, u32(500)))
	assert.Equal(t, ErrnoSUCCESS, b.SetSockOpt(fd, level, OptNameNOSIGPIPE, u32(1)))
	assert.Equal(t, ErrnoINVAL, b.SetSockOpt(fd, level, OptNameERROR, u32(0)))
	assert.Equal(t, ErrnoINVAL, b.SetSockOpt(fd, level, OptNameSNDBUF, []byte{1, 0}))
	assert.Equal(t, ErrnoINVAL, b.SetSockOpt(fd, 0, OptNameREUSEADDR, u32(1)))

	assert.Equal(t, ErrnoSUCCESS, b.SetSockOpt(fd, level, OptNameLINGER, linger(1, 2)))
	assert.Equal(t, ErrnoINVAL, b.SetSockOpt(fd, level, OptNameLINGER, linger(3, 2)))
	assert.Equal(t, ErrnoINVAL, b.SetSockOpt(fd, level, OptNameLINGER, u32(1)))
}

func TestAcceptCopiesParent(t *testing.T) {
	b := newRealBSD(t)
	listener, _ := b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)
	require.Equal(t, ErrnoSUCCESS, b.Bind(listener, loopbackAddr(0)))
	require.Equal(t, ErrnoSUCCESS, b.Listen(listener, 1))
	name, _ := b.GetSockName(listener)

	client, _ := b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)
	require.Equal(t, ErrnoSUCCESS, b.Connect(client, name.Bytes()))

	fd, errno, peer := b.Accept(listener)
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Equal(t, int32(2), fd)
	require.Equal(t, uint8(SockAddrInSize), peer.Len)
	require.Equal(t, [4]byte{127, 0, 0, 1}, peer.IP)

	n, errno := b.Write(client, []byte("hello"))
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Equal(t, int32(5), n)

	buf := make([]byte, 16)
	n, addr, errno := b.RecvFrom(fd, 0, buf)
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Equal(t, "hello", string(buf[:n]))
	require.Empty(t, addr)

	peerName, errno := b.GetPeerName(client)
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Equal(t, name, peerName)

	require.Equal(t, ErrnoSUCCESS, b.Shutdown(client, ShutdownRDWR))
	require.Equal(t, ErrnoINVAL, b.Connect(client, []byte{1}))

	_, errno, _ = b.Accept(33)
	require.Equal(t, ErrnoBADF, errno)
}

func TestReadIsStub(t *testing.T) {
	b, _ := newFakeBSD(t)
	fd, _ := b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)
	n, errno := b.Read(fd, make([]byte, 8))
	require.Zero(t, n)
	require.Equal(t, ErrnoSUCCESS, errno)
}

func TestProxySocketsArePooled(t *testing.T) {
	room := network.NewLoopbackRoom(nil)
	member := room.Join(network.IPv4Address{10, 13, 0, 1})
	defer member.Leave()

	b := NewBSD(WithRoomNetwork(member))
	defer b.CloseAll()

	fd, errno := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)
	require.Equal(t, ErrnoSUCCESS, errno)
	first, _ := b.GetSocket(fd)
	require.IsType(t, &network.ProxySocket{}, first)

	require.Equal(t, ErrnoSUCCESS, b.Close(fd))
	require.Equal(t, 1, b.Pool().Len(udpKey))

	fd, _ = b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)
	second, _ := b.GetSocket(fd)
	require.Same(t, first, second)
	require.Zero(t, b.Pool().Len(udpKey))
	require.True(t, second.IsOpened())
}

func TestRoomPacketsReachSockets(t *testing.T) {
	room := network.NewLoopbackRoom(nil)
	a := room.Join(network.IPv4Address{10, 13, 0, 1})
	peer := room.Join(network.IPv4Address{10, 13, 0, 2})
	defer a.Leave()
	defer peer.Leave()

	b := NewBSD(WithRoomNetwork(a))
	defer b.CloseAll()

	fd, _ := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)
	require.Equal(t, ErrnoSUCCESS, b.Bind(fd, SockAddrIn{Family: uint8(DomainINET), Port: 6000}.Bytes()))
	dup, _ := b.DuplicateSocket(fd)

	data, err := network.CompressPacketData([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, peer.SendProxyPacket(network.ProxyPacket{
		LocalEndpoint:  network.SockAddrIn{Family: network.DomainINET, IP: peer.FakeIPAddress(), Port: 7000},
		RemoteEndpoint: network.SockAddrIn{Family: network.DomainINET, IP: a.FakeIPAddress(), Port: 6000},
		Protocol:       network.ProtocolUDP,
		Data:           data,
	}))

	require.Equal(t, ErrnoSUCCESS, b.SetSockOpt(dup, uint32(SocketLevelSOCKET), OptNameRCVTIMEO, []byte{0xe8, 0x03, 0, 0}))
	buf := make([]byte, 16)
	n, addr, errno := b.RecvFrom(dup, 0, buf)
	require.Equal(t, ErrnoSUCCESS, errno)
	require.Equal(t, "ping", string(buf[:n]))
	parsed, _ := ParseSockAddrIn(addr)
	require.Equal(t, uint16(7000), parsed.Port)

	// 共享套接字只收到一份
	n, _, errno = b.RecvFrom(fd, FlagMsgDontWait, buf)
	require.Equal(t, int32(-1), n)
	require.Equal(t, ErrnoAGAIN, errno)
}

func TestShutdownAllAndCloseAll(t *testing.T) {
	b, created := newFakeBSD(t)
	b.Socket(DomainINET, TypeSTREAM, ProtocolTCP)
	fd, _ := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)
	b.DuplicateSocket(fd)

	require.Equal(t, ErrnoSUCCESS, b.ShutdownAllSockets(ShutdownRDWR))
	(*created)[1].closeErrno = network.ErrnoOTHER
	err := b.CloseAll()
	require.Error(t, err)
	require.Contains(t, err.Error(), "close fd 1")
	require.Zero(t, b.OpenCount())
	require.Equal(t, 1, (*created)[0].closed)
	require.Equal(t, 1, (*created)[1].closed)
	require.NoError(t, b.CloseAll())
}

func TestConcurrentAllocation(t *testing.T) {
	b, _ := newFakeBSD(t)
	done := make(chan int32, 64)
	for i := 0; i < 64; i++ {
		go func() {
			fd, _ := b.Socket(DomainINET, TypeDGRAM, ProtocolUDP)
			done <- fd
		}()
	}
	seen := make(map[int32]bool)
	timeout := time.After(5 * time.Second)
	for i := 0; i < 64; i++ {
		select {
		case fd := <-done:
			require.False(t, seen[fd], "fd %d allocated twice", fd)
			seen[fd] = true
		case <-timeout:
			t.Fatal("allocation stalled")
		}
	}
	for fd := int32(0); fd < 64; fd++ {
		require.True(t, seen[fd])
	}
}
