package ipc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// RequestParser 按顺序读取请求参数，均为小端序。
type RequestParser struct {
	data []byte
	off  int
}

func NewRequestParser(c *Context) *RequestParser {
	return &RequestParser{data: c.req.Params}
}

func (p *RequestParser) take(n int) []byte {
	if p.off+n > len(p.data) {
		panic(fmt.Sprintf("ipc: request parameters too short: need %d bytes at offset %d, have %d", n, p.off, len(p.data)))
	}
	b := p.data[p.off : p.off+n]
	p.off += n
	return b
}

// AlignTo 将读取位置对齐到 n 字节。
func (p *RequestParser) AlignTo(n int) {
	if rem := p.off % n; rem != 0 {
		p.off += n - rem
	}
}

func (p *RequestParser) Skip(n int) { p.take(n) }

func (p *RequestParser) PopU8() uint8 { return p.take(1)[0] }
func (p *RequestParser) PopBool() bool {
	return p.PopU8() != 0
}
func (p *RequestParser) PopU16() uint16 { return binary.LittleEndian.Uint16(p.take(2)) }
func (p *RequestParser) PopU32() uint32 { return binary.LittleEndian.Uint32(p.take(4)) }
func (p *RequestParser) PopS32() int32  { return int32(p.PopU32()) }
func (p *RequestParser) PopU64() uint64 { return binary.LittleEndian.Uint64(p.take(8)) }
func (p *RequestParser) PopS64() int64  { return int64(p.PopU64()) }

// PopRaw 把原始参数解码到 v 指向的定长结构体。
func (p *RequestParser) PopRaw(v any) {
	size := binary.Size(v)
	if size < 0 {
		panic(fmt.Sprintf("ipc: %T has no fixed size", v))
	}
	if err := binary.Read(bytes.NewReader(p.take(size)), binary.LittleEndian, v); err != nil {
		panic(fmt.Sprintf("ipc: decode %T: %v", v, err))
	}
}

// ResponseBuilder 按 4 字节对齐依次写入响应。
type ResponseBuilder struct {
	c *Context
}

func NewResponseBuilder(c *Context) *ResponseBuilder {
	return &ResponseBuilder{c: c}
}

func (b *ResponseBuilder) push(data []byte) *ResponseBuilder {
	out := b.c.reply.Data
	out = append(out, data...)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	b.c.reply.Data = out
	return b
}

func (b *ResponseBuilder) Push(r Result) *ResponseBuilder { return b.PushU32(uint32(r)) }

func (b *ResponseBuilder) PushU8(v uint8) *ResponseBuilder { return b.push([]byte{v}) }
func (b *ResponseBuilder) PushBool(v bool) *ResponseBuilder {
	if v {
		return b.PushU8(1)
	}
	return b.PushU8(0)
}

func (b *ResponseBuilder) PushU32(v uint32) *ResponseBuilder {
	return b.push(binary.LittleEndian.AppendUint32(nil, v))
}

func (b *ResponseBuilder) PushS32(v int32) *ResponseBuilder { return b.PushU32(uint32(v)) }

func (b *ResponseBuilder) PushU64(v uint64) *ResponseBuilder {
	return b.push(binary.LittleEndian.AppendUint64(nil, v))
}

func (b *ResponseBuilder) PushF64(v float64) *ResponseBuilder {
	return b.PushU64(math.Float64bits(v))
}

// PushRaw 写入定长结构体的原始内存布局。
func (b *ResponseBuilder) PushRaw(v any) *ResponseBuilder {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		panic(fmt.Sprintf("ipc: encode %T: %v", v, err))
	}
	return b.push(buf.Bytes())
}

// PushInterface 为 h 打开一个新会话，并把句柄附加到响应中。
func (b *ResponseBuilder) PushInterface(h Handler) *ResponseBuilder {
	if b.c.manager == nil {
		panic("ipc: PushInterface without a server manager")
	}
	handle := b.c.manager.openSession(h, true)
	b.c.reply.Objects = append(b.c.reply.Objects, handle)
	return b
}
