package ipc

import (
	"context"
	"log/slog"
)

// Request 是一次 IPC 调用的输入。
type Request struct {
	Command uint32
	// Params 是按 guest 布局排列的原始参数。
	Params []byte
	// InBuffers 是 guest 提供的只读缓冲区。
	InBuffers [][]byte
	// OutBufferSizes 是 guest 提供的可写缓冲区大小。
	OutBufferSizes []int
	PID            uint64
}

// Reply 是一次 IPC 调用的输出。
type Reply struct {
	// Data 是按 4 字节对齐写入的响应字。
	Data []byte
	// OutBuffers 与 Request.OutBufferSizes 按下标对应，未写入的为 nil。
	OutBuffers [][]byte
	// Objects 是本次调用新建的会话句柄。
	Objects []uint32
}

// Context 是命令处理函数看到的请求上下文。
type Context struct {
	ctx     context.Context
	manager *ServerManager
	session *Session
	req     *Request
	reply   *Reply
}

func newContext(ctx context.Context, manager *ServerManager, session *Session, req *Request) *Context {
	return &Context{
		ctx:     ctx,
		manager: manager,
		session: session,
		req:     req,
		reply:   &Reply{OutBuffers: make([][]byte, len(req.OutBufferSizes))},
	}
}

// NewContext 构造一个不经过 ServerManager 的上下文，供进程内调用使用。
func NewContext(ctx context.Context, manager *ServerManager, req *Request) *Context {
	return newContext(ctx, manager, nil, req)
}

func (c *Context) Context() context.Context { return c.ctx }
func (c *Context) Manager() *ServerManager  { return c.manager }
func (c *Context) Command() uint32          { return c.req.Command }
func (c *Context) PID() uint64              { return c.req.PID }
func (c *Context) Reply() *Reply            { return c.reply }

func (c *Context) Logger() *slog.Logger {
	if c.manager != nil {
		return c.manager.logger
	}
	return slog.Default()
}

func (c *Context) CanReadBuffer(index int) bool {
	return index >= 0 && index < len(c.req.InBuffers)
}

// ReadBuffer 返回第 index 个输入缓冲区，不存在时返回 nil。
func (c *Context) ReadBuffer(index int) []byte {
	if !c.CanReadBuffer(index) {
		return nil
	}
	return c.req.InBuffers[index]
}

func (c *Context) CanWriteBuffer(index int) bool {
	return index >= 0 && index < len(c.req.OutBufferSizes)
}

// GetWriteBufferSize 返回第 index 个输出缓冲区的大小，不存在时为 0。
func (c *Context) GetWriteBufferSize(index int) int {
	if !c.CanWriteBuffer(index) {
		return 0
	}
	return c.req.OutBufferSizes[index]
}

// WriteBuffer 写入第 index 个输出缓冲区，超出大小的部分被截断，返回写入的字节数。
func (c *Context) WriteBuffer(data []byte, index int) int {
	if !c.CanWriteBuffer(index) {
		c.Logger().Warn("write to missing buffer", "index", index, "size", len(data))
		return 0
	}
	size := min(len(data), c.req.OutBufferSizes[index])
	buf := make([]byte, size)
	copy(buf, data)
	c.reply.OutBuffers[index] = buf
	return size
}
