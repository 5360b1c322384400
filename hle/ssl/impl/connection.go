package impl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/OpenListTeam/hle-sockets/ipc"
	"github.com/OpenListTeam/hle-sockets/manager/network"
	"github.com/OpenListTeam/hle-sockets/manager/sockets"
	manager_tls "github.com/OpenListTeam/hle-sockets/manager/tls"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// IoMode 是 ISslConnection 的 IO 模式。
type IoMode uint32

const (
	IoModeBlocking    IoMode = 1
	IoModeNonBlocking IoMode = 2
)

// OptionType 是 ISslConnection 的选项。
type OptionType uint32

const (
	OptionDoNotCloseSocket   OptionType = 0
	OptionGetServerCertChain OptionType = 1
)

const (
	serverCertChainMagic = 0x4E4D684374726543
	// 证书链缓冲区的建议大小
	neededServerCertBufferSize = 0x1000
	defaultIoTimeoutMs         = 30000
	dtlsHandshakeTimeoutMs     = 10000
	cipherNameSize             = 0x40
	cipherVersionSize          = 0x8
)

// SslConnection 是 ISslConnection，套接字来自 bsd:u 的描述符表。
type SslConnection struct {
	*ipc.Service
	manager     *ipc.ServerManager
	version     SslVersion
	connections *atomic.Int32
	backend     manager_tls.Backend
	logger      *slog.Logger

	socket     network.SocketBase
	fd         int32
	fdToClose  int32
	hasFdClose bool

	doNotCloseSocket   bool
	getServerCertChain bool
	didHandshake       bool

	hostname          string
	verifyOption      uint32
	ioMode            IoMode
	sessionCacheMode  uint32
	renegotiationMode uint32
	ioTimeoutMs       uint32
}

func newSslConnection(m *ipc.ServerManager, version SslVersion, connections *atomic.Int32,
	backend manager_tls.Backend, logger *slog.Logger) *SslConnection {
	s := &SslConnection{
		Service:     ipc.NewService("ISslConnection"),
		manager:     m,
		version:     version,
		connections: connections,
		backend:     backend,
		logger:      logger.With("service", "ISslConnection"),
		fd:          -1,
		ioMode:      IoModeBlocking,
		ioTimeoutMs: defaultIoTimeoutMs,
	}
	s.RegisterHandlers([]ipc.FunctionInfo{
		{ID: 0, Handler: s.SetSocketDescriptor, Name: "SetSocketDescriptor"},
		{ID: 1, Handler: s.SetHostName, Name: "SetHostName"},
		{ID: 2, Handler: s.SetVerifyOption, Name: "SetVerifyOption"},
		{ID: 3, Handler: s.SetIoMode, Name: "SetIoMode"},
		{ID: 4, Handler: s.GetSocketDescriptor, Name: "GetSocketDescriptor"},
		{ID: 5, Handler: s.GetHostName, Name: "GetHostName"},
		{ID: 6, Handler: s.GetVerifyOption, Name: "GetVerifyOption"},
		{ID: 7, Handler: s.GetIoMode, Name: "GetIoMode"},
		{ID: 8, Handler: s.DoHandshake, Name: "DoHandshake"},
		{ID: 9, Handler: s.DoHandshakeGetServerCert, Name: "DoHandshakeGetServerCert"},
		{ID: 10, Handler: s.Read, Name: "Read"},
		{ID: 11, Handler: s.Write, Name: "Write"},
		{ID: 12, Handler: s.zeroS32("Pending"), Name: "Pending"},
		{ID: 13, Handler: s.zeroS32("Peek"), Name: "Peek"},
		{ID: 14, Handler: s.Poll, Name: "Poll"},
		{ID: 15, Handler: s.zeroU32("GetVerifyCertError"), Name: "GetVerifyCertError"},
		{ID: 16, Handler: s.GetNeededServerCertBufferSize, Name: "GetNeededServerCertBufferSize"},
		{ID: 17, Handler: s.SetSessionCacheMode, Name: "SetSessionCacheMode"},
		{ID: 18, Handler: s.GetSessionCacheMode, Name: "GetSessionCacheMode"},
		{ID: 19, Handler: s.success("FlushSessionCache"), Name: "FlushSessionCache"},
		{ID: 20, Handler: s.SetRenegotiationMode, Name: "SetRenegotiationMode"},
		{ID: 21, Handler: s.GetRenegotiationMode, Name: "GetRenegotiationMode"},
		{ID: 22, Handler: s.SetOption, Name: "SetOption"},
		{ID: 23, Handler: s.GetOption, Name: "GetOption"},
		{ID: 24, Handler: s.zeroU32("GetVerifyCertErrors"), Name: "GetVerifyCertErrors"},
		{ID: 25, Handler: s.GetCipherInfo, Name: "GetCipherInfo"},
		{ID: 26, Handler: s.SetNextAlpnProto, Name: "SetNextAlpnProto"},
		{ID: 27, Handler: s.GetNextAlpnProto, Name: "GetNextAlpnProto"},
		{ID: 28, Handler: s.SetDtlsSocketDescriptor, Name: "SetDtlsSocketDescriptor"},
		{ID: 29, Handler: s.GetDtlsHandshakeTimeout, Name: "GetDtlsHandshakeTimeout"},
		{ID: 30, Handler: s.SetPrivateOption, Name: "SetPrivateOption"},
		{ID: 31, Handler: s.success("SetSrtpCiphers"), Name: "SetSrtpCiphers"},
		{ID: 32, Handler: s.zeroU32("GetSrtpCipher"), Name: "GetSrtpCipher"},
		{ID: 33, Handler: s.ExportKeyingMaterial, Name: "ExportKeyingMaterial"},
		{ID: 34, Handler: s.SetIoTimeout, Name: "SetIoTimeout"},
		{ID: 35, Handler: s.GetIoTimeout, Name: "GetIoTimeout"},
	})
	connections.Add(1)
	return s
}

// Close 在会话关闭时调用，释放复制出的描述符。
func (s *SslConnection) Close() error {
	s.connections.Add(-1)
	var err error
	if s.hasFdClose {
		if !s.doNotCloseSocket {
			s.logger.Error("DoNotCloseSocket was changed after setting socket", "fd", s.fdToClose)
		} else if bsd, ok := ipc.GetServiceAs[bsdService](s.manager, "bsd:u"); ok {
			if errno := bsd.Table().Close(s.fdToClose); errno != sockets.ErrnoSUCCESS {
				s.logger.Error("failed to close duplicated socket", "fd", s.fdToClose, "errno", errno)
				err = errors.Errorf("close duplicated socket %d: %s", s.fdToClose, errno)
			}
		}
	}
	return multierr.Append(err, s.backend.Close())
}

// resultOf 把后端错误转换为 SSL 结果码。
func resultOf(err error) ipc.Result {
	switch {
	case err == nil:
		return ipc.ResultSuccess
	case errors.Is(err, manager_tls.ErrNoSocket):
		return ResultNoSocket
	case errors.Is(err, manager_tls.ErrWouldBlock):
		return ResultWouldBlock
	case errors.Is(err, manager_tls.ErrTimeout):
		return ResultTimeout
	case errors.Is(err, manager_tls.ErrPipeClosed):
		return ResultPipeClosed
	default:
		return ResultInternalError
	}
}

func (s *SslConnection) mustNotHaveHandshaked(op string) {
	if s.didHandshake {
		panic(fmt.Sprintf("ssl: %s after handshake", op))
	}
}

// --- Socket ---

func (s *SslConnection) setSocketDescriptor(fd int32) (int32, ipc.Result) {
	s.mustNotHaveHandshaked("SetSocketDescriptor")
	bsd, ok := ipc.GetServiceAs[bsdService](s.manager, "bsd:u")
	if !ok {
		s.logger.Error("bsd:u is not available")
		return -1, ResultInternalError
	}
	table := bsd.Table()

	outFd := int32(-1)
	if s.doNotCloseSocket {
		dup, errno := table.DuplicateSocket(fd)
		if errno != sockets.ErrnoSUCCESS {
			s.logger.Error("failed to duplicate socket", "fd", fd, "errno", errno)
			return -1, ResultInvalidSocket
		}
		fd = dup
		s.fdToClose = dup
		s.hasFdClose = true
		outFd = dup
	}

	socket, ok := table.GetSocket(fd)
	if !ok {
		s.logger.Error("invalid socket", "fd", fd)
		return outFd, ResultInvalidSocket
	}
	s.socket = socket
	s.fd = fd
	s.backend.SetSocket(socket)
	return outFd, ipc.ResultSuccess
}

func (s *SslConnection) SetSocketDescriptor(c *ipc.Context) {
	fd := ipc.NewRequestParser(c).PopS32()
	s.logger.Debug("called SetSocketDescriptor", "fd", fd)
	outFd, r := s.setSocketDescriptor(fd)
	ipc.NewResponseBuilder(c).Push(r).PushS32(outFd)
}

func (s *SslConnection) GetSocketDescriptor(c *ipc.Context) {
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushS32(s.fd)
}

func (s *SslConnection) SetHostName(c *ipc.Context) {
	s.mustNotHaveHandshaked("SetHostName")
	hostname := cString(c.ReadBuffer(0))
	s.logger.Debug("called SetHostName", "hostname", hostname)
	if err := s.backend.SetHostName(hostname); err != nil {
		ipc.NewResponseBuilder(c).Push(resultOf(err))
		return
	}
	s.hostname = hostname
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslConnection) GetHostName(c *ipc.Context) {
	c.WriteBuffer(append([]byte(s.hostname), 0), 0)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslConnection) SetVerifyOption(c *ipc.Context) {
	s.mustNotHaveHandshaked("SetVerifyOption")
	s.verifyOption = ipc.NewRequestParser(c).PopU32()
	s.logger.Warn("called SetVerifyOption", "stubbed", true, "option", s.verifyOption)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslConnection) GetVerifyOption(c *ipc.Context) {
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(s.verifyOption)
}

func (s *SslConnection) SetIoMode(c *ipc.Context) {
	mode := IoMode(ipc.NewRequestParser(c).PopU32())
	if mode != IoModeBlocking && mode != IoModeNonBlocking {
		panic(fmt.Sprintf("ssl: invalid io mode %d", mode))
	}
	if s.socket == nil {
		ipc.NewResponseBuilder(c).Push(ResultNoSocket)
		return
	}
	nonBlock := mode == IoModeNonBlocking
	if errno := s.socket.SetNonBlock(nonBlock); errno != network.ErrnoSUCCESS {
		s.logger.Error("failed to set socket non-block flag", "non_block", nonBlock, "errno", errno)
	}
	s.backend.SetNonBlocking(nonBlock)
	s.ioMode = mode
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslConnection) GetIoMode(c *ipc.Context) {
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(uint32(s.ioMode))
}

// --- Handshake ---

func (s *SslConnection) doHandshake() ipc.Result {
	if s.didHandshake || s.socket == nil {
		return ResultNoSocket
	}
	r := resultOf(s.backend.DoHandshake())
	s.didHandshake = r.IsSuccess()
	return r
}

func (s *SslConnection) DoHandshake(c *ipc.Context) {
	ipc.NewResponseBuilder(c).Push(s.doHandshake())
}

func (s *SslConnection) DoHandshakeGetServerCert(c *ipc.Context) {
	var out struct {
		CertsSize  uint32
		CertsCount uint32
	}
	r := s.doHandshake()
	if r.IsSuccess() {
		certs, err := s.backend.GetServerCerts()
		r = resultOf(err)
		if r.IsSuccess() {
			data := serializeServerCerts(certs, s.getServerCertChain)
			c.WriteBuffer(data, 0)
			out.CertsCount = uint32(len(certs))
			out.CertsSize = uint32(len(data))
		}
	}
	ipc.NewResponseBuilder(c).Push(r).PushRaw(out)
}

// serializeServerCerts 在 chain 为 false 时只返回第一张证书；
// 否则写出 {magic, count, pad} 头、每张证书的 {size, offset}，再依次写出证书。
func serializeServerCerts(certs [][]byte, chain bool) []byte {
	if !chain {
		if len(certs) == 0 {
			return nil
		}
		return certs[0]
	}
	const headerSize, entrySize = 16, 8
	data := make([]byte, 0, headerSize+entrySize*len(certs))
	data = binary.LittleEndian.AppendUint64(data, serverCertChainMagic)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(certs)))
	data = binary.LittleEndian.AppendUint32(data, 0)

	offset := headerSize + entrySize*len(certs)
	for _, cert := range certs {
		data = binary.LittleEndian.AppendUint32(data, uint32(len(cert)))
		data = binary.LittleEndian.AppendUint32(data, uint32(offset))
		offset += len(cert)
	}
	for _, cert := range certs {
		data = append(data, cert...)
	}
	return data
}

// --- IO ---

func (s *SslConnection) Read(c *ipc.Context) {
	if !s.didHandshake {
		ipc.NewResponseBuilder(c).Push(ResultInternalError).PushU32(0)
		return
	}
	buf := make([]byte, c.GetWriteBufferSize(0))
	n, err := s.backend.Read(buf)
	if r := resultOf(err); r.IsError() {
		ipc.NewResponseBuilder(c).Push(r).PushU32(0)
		return
	}
	c.WriteBuffer(buf[:n], 0)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(uint32(n))
}

func (s *SslConnection) Write(c *ipc.Context) {
	if !s.didHandshake {
		ipc.NewResponseBuilder(c).Push(ResultInternalError).PushU32(0)
		return
	}
	n, err := s.backend.Write(c.ReadBuffer(0))
	ipc.NewResponseBuilder(c).Push(resultOf(err)).PushU32(uint32(n))
}

func (s *SslConnection) Poll(c *ipc.Context) {
	event := ipc.NewRequestParser(c).PopU32()
	s.logger.Warn("called Poll", "stubbed", true, "event", event)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushS32(0)
}

// --- Options ---

func (s *SslConnection) SetOption(c *ipc.Context) {
	var params optionParams
	ipc.NewRequestParser(c).PopRaw(&params)
	switch OptionType(params.Option) {
	case OptionDoNotCloseSocket:
		s.doNotCloseSocket = params.Value != 0
	case OptionGetServerCertChain:
		s.getServerCertChain = params.Value != 0
	default:
		s.logger.Warn("unknown option", "option", params.Option, "value", params.Value)
	}
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslConnection) GetOption(c *ipc.Context) {
	option := OptionType(ipc.NewRequestParser(c).PopU32())
	var value bool
	switch option {
	case OptionDoNotCloseSocket:
		value = s.doNotCloseSocket
	case OptionGetServerCertChain:
		value = s.getServerCertChain
	default:
		s.logger.Warn("unknown option", "option", uint32(option))
	}
	var out int32
	if value {
		out = 1
	}
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushS32(out)
}

func (s *SslConnection) SetSessionCacheMode(c *ipc.Context) {
	s.mustNotHaveHandshaked("SetSessionCacheMode")
	s.sessionCacheMode = ipc.NewRequestParser(c).PopU32()
	s.logger.Warn("called SetSessionCacheMode", "stubbed", true, "mode", s.sessionCacheMode)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslConnection) GetSessionCacheMode(c *ipc.Context) {
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(s.sessionCacheMode)
}

func (s *SslConnection) SetRenegotiationMode(c *ipc.Context) {
	s.renegotiationMode = ipc.NewRequestParser(c).PopU32()
	s.logger.Warn("called SetRenegotiationMode", "stubbed", true, "mode", s.renegotiationMode)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslConnection) GetRenegotiationMode(c *ipc.Context) {
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(s.renegotiationMode)
}

func (s *SslConnection) SetIoTimeout(c *ipc.Context) {
	s.ioTimeoutMs = ipc.NewRequestParser(c).PopU32()
	s.logger.Warn("called SetIoTimeout", "stubbed", true, "timeout_ms", s.ioTimeoutMs)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslConnection) GetIoTimeout(c *ipc.Context) {
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(s.ioTimeoutMs)
}

func (s *SslConnection) GetNeededServerCertBufferSize(c *ipc.Context) {
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(neededServerCertBufferSize)
}

// GetCipherInfo 写出 0x48 字节的 {cipher_name[0x40], protocol_version[0x8]}。
func (s *SslConnection) GetCipherInfo(c *ipc.Context) {
	cipher, version := "TLS_RSA_WITH_AES_128_CBC_SHA", "TLSv1.2"
	if reporter, ok := s.backend.(manager_tls.CipherReporter); ok {
		if name, ver, ok := reporter.CipherInfo(); ok {
			cipher, version = name, guestVersionName(ver)
		}
	}
	info := make([]byte, cipherNameSize+cipherVersionSize)
	copy(info[:cipherNameSize-1], cipher)
	copy(info[cipherNameSize:cipherNameSize+cipherVersionSize-1], version)
	c.WriteBuffer(info, 0)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

// guestVersionName 把 "TLS 1.3" 写成 guest 使用的 "TLSv1.3"。
func guestVersionName(v string) string {
	return strings.Replace(v, "TLS ", "TLSv", 1)
}

func (s *SslConnection) SetNextAlpnProto(c *ipc.Context) {
	s.logger.Warn("called SetNextAlpnProto", "stubbed", true, "size", len(c.ReadBuffer(0)))
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

// GetNextAlpnProto 回复 {state, size}，state 0 表示不支持。
func (s *SslConnection) GetNextAlpnProto(c *ipc.Context) {
	s.logger.Warn("called GetNextAlpnProto", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(0).PushU32(0)
}

func (s *SslConnection) SetDtlsSocketDescriptor(c *ipc.Context) {
	fd := ipc.NewRequestParser(c).PopS32()
	s.logger.Warn("called SetDtlsSocketDescriptor", "stubbed", true, "fd", fd)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslConnection) GetDtlsHandshakeTimeout(c *ipc.Context) {
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(dtlsHandshakeTimeoutMs)
}

func (s *SslConnection) SetPrivateOption(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	option := rp.PopU32()
	value := rp.PopS32()
	s.logger.Warn("called SetPrivateOption", "stubbed", true, "option", option, "value", value)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslConnection) ExportKeyingMaterial(c *ipc.Context) {
	s.logger.Warn("called ExportKeyingMaterial", "stubbed", true)
	c.WriteBuffer(make([]byte, c.GetWriteBufferSize(0)), 0)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslConnection) success(name string) ipc.HandlerFunc {
	return func(c *ipc.Context) {
		s.logger.Warn("called "+name, "stubbed", true)
		ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
	}
}

func (s *SslConnection) zeroU32(name string) ipc.HandlerFunc {
	return func(c *ipc.Context) {
		s.logger.Warn("called "+name, "stubbed", true)
		ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(0)
	}
}

func (s *SslConnection) zeroS32(name string) ipc.HandlerFunc {
	return func(c *ipc.Context) {
		s.logger.Warn("called "+name, "stubbed", true)
		ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushS32(0)
	}
}

// cString 截取到第一个 NUL。
func cString(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf)
}
