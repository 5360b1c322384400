package impl

import (
	"encoding/binary"
	"log/slog"
	"strings"

	"github.com/OpenListTeam/hle-sockets/hle"
	"github.com/OpenListTeam/hle-sockets/ipc"
	"github.com/OpenListTeam/hle-sockets/manager/network"
	"github.com/OpenListTeam/hle-sockets/manager/sockets"
)

// NetDbError 是 h_errno 的取值。
type NetDbError int32

const (
	NetDbInternal     NetDbError = -1
	NetDbSuccess      NetDbError = 0
	NetDbHostNotFound NetDbError = 1
	NetDbTryAgain     NetDbError = 2
	NetDbNoRecovery   NetDbError = 3
	NetDbNoData       NetDbError = 4
)

// 这些主机名不做解析，直接返回 EAI_AGAIN。
const blockedHostSuffix = "srv.nintendo.net"

const addrInfoMagic = 0xBEEFCAFE

// 以下组合已在真机上验证，但并不完整。
func netDbErrorOf(gaiErr sockets.GetAddrInfoError) NetDbError {
	switch gaiErr {
	case sockets.GetAddrInfoSUCCESS, sockets.GetAddrInfoSERVICE:
		return NetDbSuccess
	case sockets.GetAddrInfoAGAIN:
		return NetDbTryAgain
	default:
		return NetDbHostNotFound
	}
}

func errnoOf(gaiErr sockets.GetAddrInfoError) sockets.Errno {
	if gaiErr == sockets.GetAddrInfoSERVICE {
		return sockets.ErrnoINVAL
	}
	return sockets.ErrnoSUCCESS
}

// SFDNSRES 是 sfdnsres 服务，地址解析交给 Host 的 network.Resolver。
type SFDNSRES struct {
	*ipc.Service
	resolver *network.Resolver
	logger   *slog.Logger
}

func NewSFDNSRES(h *hle.Host) *SFDNSRES {
	s := &SFDNSRES{
		Service:  ipc.NewService("sfdnsres"),
		resolver: h.Resolver(),
		logger:   h.Logger().With("service", "sfdnsres"),
	}
	s.RegisterHandlers([]ipc.FunctionInfo{
		{ID: 0, Handler: s.success("SetDnsAddresses"), Name: "SetDnsAddresses"},
		{ID: 1, Handler: s.GetDnsAddressList, Name: "GetDnsAddressList"},
		{ID: 2, Handler: s.GetAddrInfoRequest, Name: "GetAddrInfoRequest"},
		{ID: 3, Handler: s.GetHostByNameRequest, Name: "GetHostByNameRequest"},
		{ID: 4, Handler: s.GetHostByAddrRequest, Name: "GetHostByAddrRequest"},
		{ID: 5, Handler: s.GetHostStringError, Name: "GetHostStringError"},
		{ID: 6, Handler: s.GetGaiStringErrorRequest, Name: "GetGaiStringErrorRequest"},
		{ID: 7, Handler: s.success("CancelRequest"), Name: "CancelRequest"},
		{ID: 8, Handler: s.ResolverSetOptionRequest, Name: "SetOptions"},
		{ID: 9, Handler: s.GetOptions, Name: "GetOptions"},
		{ID: 10, Handler: s.GetHostByNameRequestWithOptions, Name: "RequestAddrInfo"},
		{ID: 11, Handler: s.GetAddrInfoRequestRaw, Name: "GetAddrInfoRequestRaw"},
		{ID: 12, Handler: s.GetAddrInfoRequestWithOptions, Name: "GetAddrInfo"},
		{ID: 100, Handler: s.GetNameInfoRequest, Name: "GetNameInfoRequest"},
		{ID: 101, Handler: s.GetNameInfoRequestWithOptions, Name: "GetNameInfoRequestWithOptions"},
	})
	return s
}

// resolveParams 是解析请求的公共参数，共 0x10 字节。
type resolveParams struct {
	UseNsdResolve uint8
	_             [3]byte
	CancelHandle  uint32
	ProcessID     uint64
}

func (s *SFDNSRES) popResolveParams(c *ipc.Context) resolveParams {
	var params resolveParams
	ipc.NewRequestParser(c).PopRaw(&params)
	s.logger.Debug("called with ignored parameters",
		"use_nsd_resolve", params.UseNsdResolve,
		"cancel_handle", params.CancelHandle,
		"process_id", params.ProcessID)
	return params
}

func isBlockedHost(host string) bool {
	return strings.Contains(host, blockedHostSuffix)
}

// --- Serialization ---

// serializeHostEnt 把结果编码为 guest 的 hostent。
// 地址经过 guest 的 htonl，本身已是网络序，因此最终以小端写出。
func serializeHostEnt(infos []network.AddrInfo, host string) []byte {
	data := make([]byte, 0, len(host)+13+4*len(infos))
	data = append(data, host...)
	data = append(data, 0)
	data = binary.BigEndian.AppendUint32(data, 0) // h_aliases
	data = binary.BigEndian.AppendUint16(data, uint16(sockets.DomainINET))
	data = binary.BigEndian.AppendUint16(data, 4) // h_length
	data = binary.BigEndian.AppendUint32(data, uint32(len(infos)))
	for _, info := range infos {
		data = binary.LittleEndian.AppendUint32(data, network.IPv4AddressToInteger(info.Addr.IP))
	}
	return data
}

// serializeAddrInfo 按 libnx resolver 的格式编码 addrinfo 列表，以 4 字节 0 结尾。
func serializeAddrInfo(infos []network.AddrInfo) []byte {
	var data []byte
	for _, info := range infos {
		data = binary.BigEndian.AppendUint32(data, addrInfoMagic)
		data = binary.BigEndian.AppendUint32(data, 0) // ai_flags
		data = binary.BigEndian.AppendUint32(data, uint32(sockets.TranslateDomainToGuest(info.Family)))
		data = binary.BigEndian.AppendUint32(data, uint32(sockets.TranslateTypeToGuest(info.SocketType)))
		data = binary.BigEndian.AppendUint32(data, uint32(sockets.TranslateProtocolToGuest(info.Protocol)))
		data = binary.BigEndian.AppendUint32(data, sockets.SockAddrInSize)

		data = binary.BigEndian.AppendUint16(data, uint16(sockets.TranslateDomainToGuest(info.Addr.Family)))
		data = binary.LittleEndian.AppendUint16(data, info.Addr.Port)
		data = binary.LittleEndian.AppendUint32(data, network.IPv4AddressToInteger(info.Addr.IP))
		data = append(data, make([]byte, 8)...) // sin_zero

		if info.CanonName != nil {
			data = append(data, *info.CanonName...)
		}
		data = append(data, 0)
	}
	return append(data, 0, 0, 0, 0)
}

// --- Lookups ---

func (s *SFDNSRES) getHostByName(c *ipc.Context) (uint32, sockets.GetAddrInfoError) {
	s.popResolveParams(c)
	host := cString(c.ReadBuffer(0))

	if isBlockedHost(host) {
		s.logger.Warn("refusing to resolve host", "host", host)
		return 0, sockets.GetAddrInfoAGAIN
	}

	infos, gaiErr := s.resolver.GetAddressInfo(host, nil)
	if gaiErr != network.GetAddrInfoSUCCESS {
		return 0, sockets.TranslateGetAddrInfoError(gaiErr)
	}
	for _, info := range infos {
		s.logger.Info("resolved host", "host", host, "addr", info.Addr.String())
	}
	data := serializeHostEnt(infos, host)
	c.WriteBuffer(data, 0)
	return uint32(len(data)), sockets.GetAddrInfoSUCCESS
}

func (s *SFDNSRES) getAddrInfo(c *ipc.Context) (uint32, sockets.GetAddrInfoError) {
	s.popResolveParams(c)
	host := cString(c.ReadBuffer(0))

	if isBlockedHost(host) {
		s.logger.Warn("refusing to resolve host", "host", host)
		return 0, sockets.GetAddrInfoAGAIN
	}

	var service *string
	if c.CanReadBuffer(1) {
		svc := cString(c.ReadBuffer(1))
		service = &svc
	}
	// hints 位于另一个缓冲区，目前忽略

	infos, gaiErr := s.resolver.GetAddressInfo(host, service)
	if gaiErr != network.GetAddrInfoSUCCESS {
		return 0, sockets.TranslateGetAddrInfoError(gaiErr)
	}
	for _, info := range infos {
		s.logger.Info("resolved host", "host", host, "addr", info.Addr.String())
	}
	data := serializeAddrInfo(infos)
	c.WriteBuffer(data, 0)
	return uint32(len(data)), sockets.GetAddrInfoSUCCESS
}

func (s *SFDNSRES) GetHostByNameRequest(c *ipc.Context) {
	size, gaiErr := s.getHostByName(c)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushRaw(struct {
		NetDbError NetDbError
		Errno      sockets.Errno
		DataSize   uint32
	}{netDbErrorOf(gaiErr), errnoOf(gaiErr), size})
}

func (s *SFDNSRES) GetHostByNameRequestWithOptions(c *ipc.Context) {
	size, gaiErr := s.getHostByName(c)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushRaw(struct {
		DataSize   uint32
		NetDbError NetDbError
		Errno      sockets.Errno
	}{size, netDbErrorOf(gaiErr), errnoOf(gaiErr)})
}

func (s *SFDNSRES) GetAddrInfoRequest(c *ipc.Context) {
	size, gaiErr := s.getAddrInfo(c)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushRaw(struct {
		Errno    sockets.Errno
		GaiError sockets.GetAddrInfoError
		DataSize uint32
	}{errnoOf(gaiErr), gaiErr, size})
}

func (s *SFDNSRES) GetAddrInfoRequestWithOptions(c *ipc.Context) {
	size, gaiErr := s.getAddrInfo(c)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushRaw(struct {
		DataSize   uint32
		GaiError   sockets.GetAddrInfoError
		NetDbError NetDbError
		Errno      sockets.Errno
	}{size, gaiErr, netDbErrorOf(gaiErr), errnoOf(gaiErr)})
}

func (s *SFDNSRES) GetGaiStringErrorRequest(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	gaiErr := sockets.GetAddrInfoError(rp.PopS32())

	msg := sockets.GaiStringError(gaiErr)
	c.WriteBuffer(append([]byte(msg), 0), 0)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *SFDNSRES) ResolverSetOptionRequest(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	option := rp.PopU32()
	s.logger.Warn("called SetOptions", "stubbed", true, "option", option, "size", len(c.ReadBuffer(0)))
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

// --- Stubs ---

func (s *SFDNSRES) success(name string) ipc.HandlerFunc {
	return func(c *ipc.Context) {
		s.logger.Warn("called "+name, "stubbed", true)
		ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
	}
}

func (s *SFDNSRES) GetDnsAddressList(c *ipc.Context) {
	s.logger.Warn("called GetDnsAddressList", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(0).PushU32(uint32(sockets.ErrnoOPNOTSUPP))
}

func (s *SFDNSRES) GetHostByAddrRequest(c *ipc.Context) {
	s.logger.Warn("called GetHostByAddrRequest", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).
		PushS32(int32(NetDbInternal)).
		PushU32(uint32(sockets.ErrnoOPNOTSUPP)).
		PushU32(0)
}

func (s *SFDNSRES) GetHostStringError(c *ipc.Context) {
	s.logger.Warn("called GetHostStringError", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(0)
}

func (s *SFDNSRES) GetOptions(c *ipc.Context) {
	s.logger.Warn("called GetOptions", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(0).PushU32(uint32(sockets.ErrnoOPNOTSUPP))
}

func (s *SFDNSRES) GetAddrInfoRequestRaw(c *ipc.Context) {
	s.logger.Warn("called GetAddrInfoRequestRaw", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).
		PushU32(uint32(sockets.ErrnoOPNOTSUPP)).
		PushS32(int32(sockets.GetAddrInfoAGAIN)).
		PushU32(0)
}

func (s *SFDNSRES) GetNameInfoRequest(c *ipc.Context) {
	s.logger.Warn("called GetNameInfoRequest", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).
		PushU32(uint32(sockets.ErrnoOPNOTSUPP)).
		PushS32(int32(sockets.GetAddrInfoAGAIN)).
		PushU32(0)
}

func (s *SFDNSRES) GetNameInfoRequestWithOptions(c *ipc.Context) {
	s.logger.Warn("called GetNameInfoRequestWithOptions", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).
		PushU32(0).
		PushS32(int32(sockets.GetAddrInfoAGAIN)).
		PushS32(int32(NetDbInternal)).
		PushU32(uint32(sockets.ErrnoOPNOTSUPP))
}
