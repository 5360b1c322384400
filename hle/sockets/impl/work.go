package impl

import (
	"github.com/OpenListTeam/hle-sockets/common/bytespool"
	"github.com/OpenListTeam/hle-sockets/ipc"
	"github.com/OpenListTeam/hle-sockets/manager/sockets"
)

// work 把可能阻塞的操作与响应序列化分开，Execute 在接到请求的工作线程上同步执行。
type work interface {
	Execute(b *sockets.BSD)
	Response(c *ipc.Context)
}

func executeWork(c *ipc.Context, b *sockets.BSD, w work) {
	w.Execute(b)
	w.Response(c)
}

func pushRetErrno(c *ipc.Context, ret int32, errno sockets.Errno) *ipc.ResponseBuilder {
	return ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushS32(ret).PushU32(uint32(errno))
}

// --- Poll ---

type pollWork struct {
	nfds        int32
	timeout     int32
	readBuffer  []byte
	writeBuffer []byte

	ret   int32
	errno sockets.Errno
}

func (w *pollWork) Execute(b *sockets.BSD) {
	w.ret, w.errno = b.Poll(w.nfds, w.timeout, w.readBuffer, w.writeBuffer)
}

func (w *pollWork) Response(c *ipc.Context) {
	if len(w.writeBuffer) > 0 {
		c.WriteBuffer(w.writeBuffer, 0)
	}
	pushRetErrno(c, w.ret, w.errno)
}

// --- Accept ---

type acceptWork struct {
	fd          int32
	writeBuffer []byte

	ret   int32
	errno sockets.Errno
}

func (w *acceptWork) Execute(b *sockets.BSD) {
	var addr sockets.SockAddrIn
	w.ret, w.errno, addr = b.Accept(w.fd)
	if w.errno == sockets.ErrnoSUCCESS {
		copy(w.writeBuffer, addr.Bytes())
	}
}

func (w *acceptWork) Response(c *ipc.Context) {
	if len(w.writeBuffer) > 0 {
		c.WriteBuffer(w.writeBuffer, 0)
	}
	pushRetErrno(c, w.ret, w.errno).PushU32(uint32(len(w.writeBuffer)))
}

// --- Connect ---

type connectWork struct {
	fd   int32
	addr []byte

	errno sockets.Errno
}

func (w *connectWork) Execute(b *sockets.BSD) {
	w.errno = b.Connect(w.fd, w.addr)
}

func (w *connectWork) Response(c *ipc.Context) {
	buildErrnoResponse(c, w.errno)
}

// --- Recv ---

type recvWork struct {
	fd      int32
	flags   int32
	message []byte

	ret   int32
	errno sockets.Errno
}

func (w *recvWork) Execute(b *sockets.BSD) {
	w.ret, w.errno = b.Recv(w.fd, w.flags, w.message)
}

func (w *recvWork) Response(c *ipc.Context) {
	c.WriteBuffer(w.message, 0)
	bytespool.Free(w.message)
	pushRetErrno(c, w.ret, w.errno)
}

// --- RecvFrom ---

type recvFromWork struct {
	fd      int32
	flags   int32
	message []byte
	// addrSize 是 guest 地址缓冲区的大小。
	addrSize int

	ret   int32
	addr  []byte
	errno sockets.Errno
}

func (w *recvFromWork) Execute(b *sockets.BSD) {
	w.ret, w.addr, w.errno = b.RecvFrom(w.fd, w.flags, w.message)
	if len(w.addr) > w.addrSize {
		w.addr = w.addr[:w.addrSize]
	}
}

func (w *recvFromWork) Response(c *ipc.Context) {
	c.WriteBuffer(w.message, 0)
	bytespool.Free(w.message)
	if len(w.addr) > 0 {
		c.WriteBuffer(w.addr, 1)
	}
	pushRetErrno(c, w.ret, w.errno).PushU32(uint32(len(w.addr)))
}

// --- Send / SendTo ---

type sendWork struct {
	fd      int32
	flags   int32
	message []byte

	ret   int32
	errno sockets.Errno
}

func (w *sendWork) Execute(b *sockets.BSD) {
	w.ret, w.errno = b.Send(w.fd, w.flags, w.message)
}

func (w *sendWork) Response(c *ipc.Context) {
	pushRetErrno(c, w.ret, w.errno)
}

type sendToWork struct {
	fd      int32
	flags   uint32
	message []byte
	addr    []byte

	ret   int32
	errno sockets.Errno
}

func (w *sendToWork) Execute(b *sockets.BSD) {
	w.ret, w.errno = b.SendTo(w.fd, w.flags, w.message, w.addr)
}

func (w *sendToWork) Response(c *ipc.Context) {
	pushRetErrno(c, w.ret, w.errno)
}
