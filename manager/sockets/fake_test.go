package sockets

import (
	"log/slog"
	"sync/atomic"

	"github.com/OpenListTeam/hle-sockets/manager/network"
)

// fakeSocket 记录调用情况，用于不需要真实网络的测试。
type fakeSocket struct {
	closeErrno network.Errno
	closed     int
	sendTos    int
	nonBlock   []bool
	recvFrom   network.SockAddrIn
	pending    network.Errno
	packets    int
}

var _ network.SocketBase = (*fakeSocket)(nil)

func newFakeFactory(created *[]*fakeSocket) func(*slog.Logger) network.SocketBase {
	return func(*slog.Logger) network.SocketBase {
		s := &fakeSocket{}
		if created != nil {
			*created = append(*created, s)
		}
		return s
	}
}

func (f *fakeSocket) Initialize(network.Domain, network.Type, network.Protocol) network.Errno {
	return network.ErrnoSUCCESS
}
func (f *fakeSocket) Accept() (network.AcceptResult, network.Errno) {
	return network.AcceptResult{Socket: &fakeSocket{}, SockAddrIn: network.SockAddrIn{Family: network.DomainINET, IP: [4]byte{10, 0, 0, 1}, Port: 5555}}, network.ErrnoSUCCESS
}
func (f *fakeSocket) Connect(network.SockAddrIn) network.Errno { return network.ErrnoSUCCESS }
func (f *fakeSocket) GetPeerName() (network.SockAddrIn, network.Errno) {
	return network.SockAddrIn{}, network.ErrnoNOTCONN
}
func (f *fakeSocket) GetSockName() (network.SockAddrIn, network.Errno) {
	return network.SockAddrIn{Family: network.DomainINET, Port: 80}, network.ErrnoSUCCESS
}
func (f *fakeSocket) Bind(network.SockAddrIn) network.Errno     { return network.ErrnoSUCCESS }
func (f *fakeSocket) Listen(int32) network.Errno                { return network.ErrnoSUCCESS }
func (f *fakeSocket) Shutdown(network.ShutdownHow) network.Errno { return network.ErrnoSUCCESS }
func (f *fakeSocket) Recv(int, []byte) (int32, network.Errno)   { return -1, network.ErrnoAGAIN }
func (f *fakeSocket) RecvFrom(_ int, message []byte, addr *network.SockAddrIn) (int32, network.Errno) {
	if addr != nil {
		*addr = f.recvFrom
	}
	return int32(copy(message, "data")), network.ErrnoSUCCESS
}
func (f *fakeSocket) Send(message []byte, _ int) (int32, network.Errno) {
	return int32(len(message)), network.ErrnoSUCCESS
}
func (f *fakeSocket) SendTo(_ uint32, message []byte, _ *network.SockAddrIn) (int32, network.Errno) {
	f.sendTos++
	return int32(len(message)), network.ErrnoSUCCESS
}
func (f *fakeSocket) Close() network.Errno {
	f.closed++
	return f.closeErrno
}
func (f *fakeSocket) SetLinger(bool, uint32) network.Errno { return network.ErrnoSUCCESS }
func (f *fakeSocket) SetReuseAddr(bool) network.Errno      { return network.ErrnoSUCCESS }
func (f *fakeSocket) SetKeepAlive(bool) network.Errno      { return network.ErrnoSUCCESS }
func (f *fakeSocket) SetBroadcast(bool) network.Errno      { return network.ErrnoSUCCESS }
func (f *fakeSocket) SetSndBuf(uint32) network.Errno       { return network.ErrnoSUCCESS }
func (f *fakeSocket) SetRcvBuf(uint32) network.Errno       { return network.ErrnoSUCCESS }
func (f *fakeSocket) SetSndTimeo(uint32) network.Errno     { return network.ErrnoSUCCESS }
func (f *fakeSocket) SetRcvTimeo(uint32) network.Errno     { return network.ErrnoSUCCESS }
func (f *fakeSocket) SetNonBlock(enable bool) network.Errno {
	f.nonBlock = append(f.nonBlock, enable)
	return network.ErrnoSUCCESS
}
func (f *fakeSocket) GetPendingError() (network.Errno, network.Errno) {
	return f.pending, network.ErrnoSUCCESS
}
func (f *fakeSocket) IsOpened() bool                       { return f.closed == 0 }
func (f *fakeSocket) HandleProxyPacket(network.ProxyPacket) { f.packets++ }

// blockingCloseSocket 的 Close 会阻塞到 release 被关闭。
type blockingCloseSocket struct {
	*fakeSocket
	result  network.Errno
	entered chan struct{}
	release chan struct{}
	closes  atomic.Int32
}

func newBlockingCloseSocket(result network.Errno) *blockingCloseSocket {
	return &blockingCloseSocket{
		fakeSocket: &fakeSocket{},
		result:     result,
		entered:    make(chan struct{}, 4),
		release:    make(chan struct{}),
	}
}

func (s *blockingCloseSocket) Close() network.Errno {
	s.closes.Add(1)
	s.entered <- struct{}{}
	<-s.release
	return s.result
}
