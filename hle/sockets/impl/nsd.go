package impl

import (
	"bytes"
	"log/slog"

	"github.com/OpenListTeam/hle-sockets/hle"
	"github.com/OpenListTeam/hle-sockets/ipc"
)

const moduleNSD = 141

var (
	ResultNSDPermissionDenied = ipc.MakeResult(moduleNSD, 3)
	ResultNSDOverflow         = ipc.MakeResult(moduleNSD, 6)
)

// ServerEnvironmentType 是应用服务器环境类型。
type ServerEnvironmentType uint8

const (
	ServerEnvironmentDd ServerEnvironmentType = iota
	ServerEnvironmentLp
	ServerEnvironmentSd
	ServerEnvironmentSp
	ServerEnvironmentDp
)

// guest 结构体大小
const (
	fqdnSize              = 0x100
	urlSize               = 0x100
	settingNameSize       = 0x100
	deviceIdSize          = 0x10
	nasServiceSettingSize = 0x108
	saveDataSize          = 0x12BF0
	testParameterSize     = 0x80
	environmentIdSize     = 8
)

// NSD 是 nsd:a 与 nsd:u 服务。FQDN 解析按原样返回输入，设置类接口返回全零数据。
type NSD struct {
	*ipc.Service
	// admin 为 true 时允许测试用接口 (nsd:a)。
	admin  bool
	logger *slog.Logger
}

func NewNSD(h *hle.Host, name string) *NSD {
	s := &NSD{
		Service: ipc.NewService(name),
		admin:   name == "nsd:a",
		logger:  h.Logger().With("service", name),
	}
	s.RegisterHandlers([]ipc.FunctionInfo{
		{ID: 5, Handler: s.zeroBuffer("GetSettingUrl", urlSize, false), Name: "GetSettingUrl"},
		{ID: 10, Handler: s.zeroBuffer("GetSettingName", settingNameSize, false), Name: "GetSettingName"},
		{ID: 11, Handler: s.GetEnvironmentIdentifier, Name: "GetEnvironmentIdentifier"},
		{ID: 12, Handler: s.zeroBuffer("GetDeviceId", deviceIdSize, false), Name: "GetDeviceId"},
		{ID: 13, Handler: s.DeleteSettings, Name: "DeleteSettings"},
		{ID: 14, Handler: s.ImportSettings, Name: "ImportSettings"},
		{ID: 15, Handler: s.SetChangeEnvironmentIdentifierDisabled, Name: "SetChangeEnvironmentIdentifierDisabled"},
		{ID: 20, Handler: s.Resolve, Name: "Resolve"},
		{ID: 21, Handler: s.ResolveEx, Name: "ResolveEx"},
		{ID: 30, Handler: s.zeroBuffer("GetNasServiceSetting", nasServiceSettingSize, false), Name: "GetNasServiceSetting"},
		{ID: 31, Handler: s.zeroBuffer("GetNasServiceSettingEx", nasServiceSettingSize, true), Name: "GetNasServiceSettingEx"},
		{ID: 40, Handler: s.zeroBuffer("GetNasRequestFqdn", fqdnSize, false), Name: "GetNasRequestFqdn"},
		{ID: 41, Handler: s.zeroBuffer("GetNasRequestFqdnEx", fqdnSize, true), Name: "GetNasRequestFqdnEx"},
		{ID: 42, Handler: s.zeroBuffer("GetNasApiFqdn", fqdnSize, false), Name: "GetNasApiFqdn"},
		{ID: 43, Handler: s.zeroBuffer("GetNasApiFqdnEx", fqdnSize, true), Name: "GetNasApiFqdnEx"},
		{ID: 50, Handler: s.adminOnly("GetCurrentSetting", saveDataSize), Name: "GetCurrentSetting"},
		{ID: 51, Handler: s.adminOnly("WriteTestParameter", 0), Name: "WriteTestParameter"},
		{ID: 52, Handler: s.adminOnly("ReadTestParameter", testParameterSize), Name: "ReadTestParameter"},
		{ID: 60, Handler: s.adminOnly("ReadSaveDataFromFsForTest", saveDataSize), Name: "ReadSaveDataFromFsForTest"},
		{ID: 61, Handler: s.adminOnly("WriteSaveDataToFsForTest", 0), Name: "WriteSaveDataToFsForTest"},
		{ID: 62, Handler: s.adminOnly("DeleteSaveDataOfFsForTest", 0), Name: "DeleteSaveDataOfFsForTest"},
		{ID: 63, Handler: s.IsChangeEnvironmentIdentifierDisabled, Name: "IsChangeEnvironmentIdentifierDisabled"},
		{ID: 64, Handler: s.success("SetWithoutDomainExchangeFqdns"), Name: "SetWithoutDomainExchangeFqdns"},
		{ID: 100, Handler: s.GetApplicationServerEnvironmentType, Name: "GetApplicationServerEnvironmentType"},
		{ID: 101, Handler: s.SetApplicationServerEnvironmentType, Name: "SetApplicationServerEnvironmentType"},
		{ID: 102, Handler: s.success("DeleteApplicationServerEnvironmentType"), Name: "DeleteApplicationServerEnvironmentType"},
	})
	return s
}

// resolveFqdn 目前不做任何替换，非官方服务器环境下原样返回即可。
func resolveFqdn(in string) (string, ipc.Result) {
	if len(in) >= fqdnSize {
		return "", ResultNSDOverflow
	}
	return in, ipc.ResultSuccess
}

// cString 截取到第一个 NUL。
func cString(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf)
}

func (s *NSD) Resolve(c *ipc.Context) {
	in := cString(c.ReadBuffer(0))
	s.logger.Warn("called Resolve", "stubbed", true, "fqdn", in)

	out := make([]byte, fqdnSize)
	res, r := resolveFqdn(in)
	copy(out, res)

	c.WriteBuffer(out, 0)
	ipc.NewResponseBuilder(c).Push(r)
}

func (s *NSD) ResolveEx(c *ipc.Context) {
	in := cString(c.ReadBuffer(0))
	s.logger.Warn("called ResolveEx", "stubbed", true, "fqdn", in)

	res, r := resolveFqdn(in)
	if r.IsError() {
		ipc.NewResponseBuilder(c).Push(r)
		return
	}
	out := make([]byte, fqdnSize)
	copy(out, res)

	c.WriteBuffer(out, 0)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).Push(ipc.ResultSuccess)
}

func (s *NSD) GetEnvironmentIdentifier(c *ipc.Context) {
	id := make([]byte, environmentIdSize)
	copy(id, "lp1")
	c.WriteBuffer(id, 0)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *NSD) GetApplicationServerEnvironmentType(c *ipc.Context) {
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushU32(uint32(ServerEnvironmentLp))
}

func (s *NSD) SetApplicationServerEnvironmentType(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	envType := ServerEnvironmentType(rp.PopU8())
	s.logger.Warn("called SetApplicationServerEnvironmentType", "stubbed", true, "type", envType)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *NSD) DeleteSettings(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	mode := rp.PopU32()
	s.logger.Warn("called DeleteSettings", "stubbed", true, "mode", mode)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *NSD) ImportSettings(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	mode := rp.PopU32()
	s.logger.Warn("called ImportSettings", "stubbed", true, "mode", mode, "save_data", len(c.ReadBuffer(1)))
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *NSD) SetChangeEnvironmentIdentifierDisabled(c *ipc.Context) {
	rp := ipc.NewRequestParser(c)
	disabled := rp.PopBool()
	s.logger.Warn("called SetChangeEnvironmentIdentifierDisabled", "stubbed", true, "disabled", disabled)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}

func (s *NSD) IsChangeEnvironmentIdentifierDisabled(c *ipc.Context) {
	s.logger.Warn("called IsChangeEnvironmentIdentifierDisabled", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushBool(false)
}

// zeroBuffer 写入 size 字节的全零结构；inner 为 true 时额外回复一个内部结果。
func (s *NSD) zeroBuffer(name string, size int, inner bool) ipc.HandlerFunc {
	return func(c *ipc.Context) {
		s.logger.Warn("called "+name, "stubbed", true)
		c.WriteBuffer(make([]byte, size), 0)
		rb := ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
		if inner {
			rb.Push(ipc.ResultSuccess)
		}
	}
}

// adminOnly 只允许 nsd:a 调用；size > 0 时写入全零的输出结构。
func (s *NSD) adminOnly(name string, size int) ipc.HandlerFunc {
	return func(c *ipc.Context) {
		s.logger.Warn("called "+name, "stubbed", true)
		if !s.admin {
			ipc.NewResponseBuilder(c).Push(ResultNSDPermissionDenied)
			return
		}
		if size > 0 {
			c.WriteBuffer(make([]byte, size), 0)
		}
		ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
	}
}

func (s *NSD) success(name string) ipc.HandlerFunc {
	return func(c *ipc.Context) {
		s.logger.Warn("called "+name, "stubbed", true)
		ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
	}
}
