package impl

import (
	"log/slog"

	"github.com/OpenListTeam/hle-sockets/hle"
	"github.com/OpenListTeam/hle-sockets/ipc"
	"github.com/OpenListTeam/hle-sockets/manager/sockets"
)

// BSDCFG 是 bsdcfg 服务，接口配置在模拟环境下没有意义，全部回复 OPNOTSUPP。
type BSDCFG struct {
	*ipc.Service
	logger *slog.Logger
}

var bsdcfgCommands = [...]string{
	"SetIfUp",
	"SetIfUpWithEvent",
	"CancelIf",
	"SetIfDown",
	"GetIfState",
	"DhcpRenew",
	"AddStaticArpEntry",
	"RemoveArpEntry",
	"LookupArpEntry",
	"LookupArpEntry2",
	"ClearArpEntries",
	"ClearArpEntries2",
	"PrintArpEntries",
	"Unknown13",
	"Unknown14",
	"Unknown15",
}

func NewBSDCFG(h *hle.Host) *BSDCFG {
	s := &BSDCFG{
		Service: ipc.NewService("bsdcfg"),
		logger:  h.Logger().With("service", "bsdcfg"),
	}
	functions := make([]ipc.FunctionInfo, 0, len(bsdcfgCommands))
	for id, name := range bsdcfgCommands {
		functions = append(functions, ipc.FunctionInfo{ID: uint32(id), Handler: s.notSupported(name), Name: name})
	}
	s.RegisterHandlers(functions)
	return s
}

func (s *BSDCFG) notSupported(name string) ipc.HandlerFunc {
	return func(c *ipc.Context) {
		s.logger.Warn("called "+name, "stubbed", true)
		pushRetErrno(c, -1, sockets.ErrnoOPNOTSUPP)
	}
}
