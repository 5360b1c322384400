package impl

import (
	"log/slog"
	"sync/atomic"

	"github.com/OpenListTeam/hle-sockets/hle"
	"github.com/OpenListTeam/hle-sockets/ipc"
	manager_tls "github.com/OpenListTeam/hle-sockets/manager/tls"
)

// ContextOption 是 ISslContext 的选项。
type ContextOption uint32

const (
	ContextOptionNone                     ContextOption = 0
	ContextOptionCrlImportDateCheckEnable ContextOption = 1
)

// CertificateFormat 是导入证书的编码。
type CertificateFormat uint32

const (
	CertificateFormatPem CertificateFormat = 1
	CertificateFormatDer CertificateFormat = 2
)

type optionParams struct {
	Option uint32
	Value  int32
}

// SslContext 是 ISslContext，同一上下文下的连接共享连接计数。
type SslContext struct {
	*ipc.Service
	host        *hle.Host
	version     SslVersion
	connections atomic.Int32
	// contexts 是所属服务的上下文计数。
	contexts *atomic.Int32
	logger   *slog.Logger
}

func newSslContext(h *hle.Host, version SslVersion, system bool, contexts *atomic.Int32) *SslContext {
	name := "ISslContext"
	if system {
		name = "ISslContextForSystem"
	}
	s := &SslContext{
		Service:  ipc.NewService(name),
		host:     h,
		version:  version,
		contexts: contexts,
		logger:   h.Logger().With("service", name),
	}
	functions := []ipc.FunctionInfo{
		{ID: 0, Handler: s.SetOption, Name: "SetOption"},
		{ID: 1, Handler: s.GetOption, Name: "GetOption"},
		{ID: 2, Handler: s.CreateConnection, Name: "CreateConnection"},
		{ID: 3, Handler: s.GetConnectionCount, Name: "GetConnectionCount"},
		{ID: 4, Handler: s.ImportServerPki, Name: "ImportServerPki"},
		{ID: 5, Handler: s.ImportClientPki, Name: "ImportClientPki"},
		{ID: 6, Handler: s.RemoveServerPki, Name: "RemoveServerPki"},
		{ID: 7, Handler: s.RemoveClientPki, Name: "RemoveClientPki"},
		{ID: 8, Handler: s.RegisterInternalPki, Name: "RegisterInternalPki"},
		{ID: 9, Handler: s.success("AddPolicyOid"), Name: "AddPolicyOid"},
		{ID: 10, Handler: s.success("ImportCrl"), Name: "ImportCrl"},
		{ID: 11, Handler: s.success("RemoveCrl"), Name: "RemoveCrl"},
		{ID: 12, Handler: s.pkiID("ImportClientCertKeyPki"), Name: "ImportClientCertKeyPki"},
		{ID: 13, Handler: s.pkiID("GeneratePrivateKeyAndCert"), Name: "GeneratePrivateKeyAndCert"},
	}
	if system {
		functions = append(functions, ipc.FunctionInfo{ID: 14, Handler: s.CreateConnection, Name: "CreateConnectionEx"})
	}
	s.RegisterHandlers(functions)
	contexts.Add(1)
	return s
}

// Close 在会话关闭时调用。
func (s *SslContext) Close() error {
	s.contexts.Add(-1)
	return nil
}

func (s *SslContext) ConnectionCount() int32 {
	return s.connections.Load()
}

func (s *SslContext) SetOption(c *ipc.Context) {
	var params optionParams
	ipc.NewRequestParser(c).PopRaw(&params)
	s.logger.Warn("called SetOption", "stubbed", true,
		"option", ContextOption(params.Option), "value", params.Value)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslContext) GetOption(c *ipc.Context) {
	option := ContextOption(ipc.NewRequestParser(c).PopU32())
	s.logger.Warn("called GetOption", "stubbed", true, "option", option)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushS32(0)
}

func (s *SslContext) CreateConnection(c *ipc.Context) {
	backend, err := manager_tls.New(s.host.SSLBackend(), s.host.TLSConfig(), s.logger)
	if err != nil {
		s.logger.Error("failed to create ssl backend", "backend", s.host.SSLBackend(), "error", err)
		ipc.NewResponseBuilder(c).Push(ResultInternalError)
		return
	}
	conn := newSslConnection(s.host.ServerManager(), s.version, &s.connections, backend, s.logger)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushInterface(conn)
}

func (s *SslContext) GetConnectionCount(c *ipc.Context) {
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(uint32(s.connections.Load()))
}

func (s *SslContext) ImportServerPki(c *ipc.Context) {
	format := CertificateFormat(ipc.NewRequestParser(c).PopU32())
	s.logger.Warn("called ImportServerPki", "stubbed", true, "format", format, "size", len(c.ReadBuffer(0)))
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU64(0)
}

func (s *SslContext) ImportClientPki(c *ipc.Context) {
	s.logger.Warn("called ImportClientPki", "stubbed", true,
		"size", len(c.ReadBuffer(0)), "has_password", c.CanReadBuffer(1))
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU64(0)
}

func (s *SslContext) RemoveServerPki(c *ipc.Context) {
	id := ipc.NewRequestParser(c).PopU64()
	s.logger.Warn("called RemoveServerPki", "stubbed", true, "id", id)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslContext) RemoveClientPki(c *ipc.Context) {
	id := ipc.NewRequestParser(c).PopU64()
	s.logger.Warn("called RemoveClientPki", "stubbed", true, "id", id)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslContext) RegisterInternalPki(c *ipc.Context) {
	pki := ipc.NewRequestParser(c).PopU32()
	s.logger.Warn("called RegisterInternalPki", "stubbed", true, "pki", pki)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SslContext) success(name string) ipc.HandlerFunc {
	return func(c *ipc.Context) {
		s.logger.Warn("called "+name, "stubbed", true)
		ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
	}
}

// pkiID 回复一个固定为 0 的证书 ID。
func (s *SslContext) pkiID(name string) ipc.HandlerFunc {
	return func(c *ipc.Context) {
		s.logger.Warn("called "+name, "stubbed", true)
		ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU64(0)
	}
}
