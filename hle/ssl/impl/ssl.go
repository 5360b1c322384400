package impl

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/OpenListTeam/hle-sockets/hle"
	"github.com/OpenListTeam/hle-sockets/ipc"
	"github.com/OpenListTeam/hle-sockets/manager/sockets"
	"github.com/pkg/errors"
)

const moduleSSL = 123

var (
	ResultNoSocket      = ipc.MakeResult(moduleSSL, 103)
	ResultInvalidSocket = ipc.MakeResult(moduleSSL, 106)
	ResultWouldBlock    = ipc.MakeResult(moduleSSL, 204)
	ResultTimeout       = ipc.MakeResult(moduleSSL, 205)
	ResultPipeClosed    = ipc.MakeResult(moduleSSL, 207)
	ResultInternalError = ipc.MakeResult(moduleSSL, 999)
)

// SslVersion 是 guest 请求的协议版本位图，高位保存接口版本。
type SslVersion uint32

func (v SslVersion) APIVersion() uint32 {
	return uint32(v) >> 24 & 0x7f
}

// createContextParams 是 CreateContext 的参数，共 0x10 字节。
type createContextParams struct {
	Version        SslVersion
	_              uint32
	PIDPlaceholder uint64
}

// bsdService 是 SSL 连接用来取得套接字的 BSD 服务。
type bsdService interface {
	ipc.Handler
	Table() *sockets.BSD
}

// --- ssl ---
type sslModule struct{}

func NewSSL() hle.Implementation {
	return &sslModule{}
}

func (i *sslModule) Name() string { return "ssl" }

func (i *sslModule) Instantiate(_ context.Context, h *hle.Host, m *ipc.ServerManager) error {
	if err := m.RegisterNamedService("ssl", NewSslService(h)); err != nil {
		return errors.Wrap(err, "register ssl")
	}
	if err := m.RegisterNamedService("ssl:s", NewSslServiceForSystem(h)); err != nil {
		return errors.Wrap(err, "register ssl:s")
	}
	return nil
}

// SslService 是 ssl 服务。
type SslService struct {
	*ipc.Service
	host     *hle.Host
	contexts atomic.Int32
	logger   *slog.Logger
}

func NewSslService(h *hle.Host) *SslService {
	s := &SslService{
		Service: ipc.NewService("ssl"),
		host:    h,
		logger:  h.Logger().With("service", "ssl"),
	}
	s.RegisterHandlers([]ipc.FunctionInfo{
		{ID: 0, Handler: s.CreateContext, Name: "CreateContext"},
		{ID: 1, Handler: s.GetContextCount, Name: "GetContextCount"},
		{ID: 2, Handler: s.GetCertificates, Name: "GetCertificates"},
		{ID: 3, Handler: s.GetCertificateBufSize, Name: "GetCertificateBufSize"},
		{ID: 4, Handler: nil, Name: "DebugIoctl"},
		{ID: 5, Handler: s.SetInterfaceVersion, Name: "SetInterfaceVersion"},
		{ID: 6, Handler: flushSessionCache(s.logger), Name: "FlushSessionCache"},
		{ID: 7, Handler: s.SetDebugOption, Name: "SetDebugOption"},
		{ID: 8, Handler: s.GetDebugOption, Name: "GetDebugOption"},
		{ID: 9, Handler: s.ClearTls12FallbackFlag, Name: "ClearTls12FallbackFlag"},
	})
	return s
}

func (s *SslService) CreateContext(c *ipc.Context) {
	var params createContextParams
	ipc.NewRequestParser(c).PopRaw(&params)
	s.logger.Debug("called CreateContext",
		"version", uint32(params.Version),
		"api_version", params.Version.APIVersion(),
		"pid", params.PIDPlaceholder)

	ctx := newSslContext(s.host, params.Version, false, &s.contexts)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushInterface(ctx)
}

func (s *SslService) GetContextCount(c *ipc.Context) {
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(uint32(s.contexts.Load()))
}

// 系统证书库不可用，始终返回空集合。
func (s *SslService) GetCertificates(c *ipc.Context) {
	s.logger.Warn("called GetCertificates", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(0)
}

func (s *SslService) GetCertificateBufSize(c *ipc.Context) {
	s.logger.Warn("called GetCertificateBufSize", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(0)
}

func (s *SslService) SetInterfaceVersion(c *ipc.Context) {
	version := ipc.NewRequestParser(c).PopU32()
	s.logger.Debug("called SetInterfaceVersion", "version", version)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslService) SetDebugOption(c *ipc.Context) {
	option := ipc.NewRequestParser(c).PopU32()
	s.logger.Warn("called SetDebugOption", "stubbed", true, "option", option)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslService) GetDebugOption(c *ipc.Context) {
	option := ipc.NewRequestParser(c).PopU32()
	s.logger.Warn("called GetDebugOption", "stubbed", true, "option", option)
	c.WriteBuffer([]byte{0}, 0)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslService) ClearTls12FallbackFlag(c *ipc.Context) {
	s.logger.Warn("called ClearTls12FallbackFlag", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

// FlushSessionCache 回复被清除的会话数，没有会话缓存时总为 0。
func flushSessionCache(logger *slog.Logger) ipc.HandlerFunc {
	return func(c *ipc.Context) {
		option := ipc.NewRequestParser(c).PopU32()
		var hostname string
		if option == 0 && c.CanReadBuffer(0) {
			hostname = cString(c.ReadBuffer(0))
		}
		logger.Warn("called FlushSessionCache", "stubbed", true, "option", option, "hostname", hostname)
		ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(0)
	}
}

// --- ssl:s ---

// SslServiceForSystem 是 ssl:s 服务，它创建的上下文额外支持 CreateConnectionEx。
type SslServiceForSystem struct {
	*ipc.Service
	host     *hle.Host
	contexts atomic.Int32
	logger   *slog.Logger
}

func NewSslServiceForSystem(h *hle.Host) *SslServiceForSystem {
	s := &SslServiceForSystem{
		Service: ipc.NewService("ssl:s"),
		host:    h,
		logger:  h.Logger().With("service", "ssl:s"),
	}
	s.RegisterHandlers([]ipc.FunctionInfo{
		{ID: 0, Handler: s.CreateContextForSystem, Name: "CreateContextForSystem"},
		{ID: 1, Handler: s.SetThreadCoreMask, Name: "SetThreadCoreMask"},
		{ID: 2, Handler: s.GetThreadCoreMask, Name: "GetThreadCoreMask"},
		{ID: 3, Handler: s.VerifySignature, Name: "VerifySignature"},
		{ID: 4, Handler: nil, Name: "SetCertificateAndPrivateKeyInternal"},
		{ID: 5, Handler: flushSessionCache(s.logger), Name: "FlushSessionCache"},
	})
	return s
}

func (s *SslServiceForSystem) CreateContextForSystem(c *ipc.Context) {
	var params createContextParams
	ipc.NewRequestParser(c).PopRaw(&params)
	s.logger.Debug("called CreateContextForSystem",
		"version", uint32(params.Version),
		"api_version", params.Version.APIVersion(),
		"pid", params.PIDPlaceholder)

	ctx := newSslContext(s.host, params.Version, true, &s.contexts)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushInterface(ctx)
}

func (s *SslServiceForSystem) SetThreadCoreMask(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	mask := rp.PopU64()
	core := rp.PopU32()
	s.logger.Warn("called SetThreadCoreMask", "stubbed", true, "mask", mask, "core", core)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslServiceForSystem) GetThreadCoreMask(c *ipc.Context) {
	s.logger.Warn("called GetThreadCoreMask", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU64(0).PushU32(0)
}

func (s *SslServiceForSystem) VerifySignature(c *ipc.Context) {
	s.logger.Warn("called VerifySignature", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}
