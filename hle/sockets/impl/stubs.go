package impl

import (
	"fmt"
	"log/slog"

	"github.com/OpenListTeam/hle-sockets/hle"
	"github.com/OpenListTeam/hle-sockets/ipc"
	"github.com/OpenListTeam/hle-sockets/manager/sockets"
)

// unknownService 用于 dns:priv 与 ethc:c/i，所有命令回复 (-1, SUCCESS)。
type unknownService struct {
	*ipc.Service
	logger *slog.Logger
}

func newUnknownService(h *hle.Host, name string, commands int) *unknownService {
	s := &unknownService{
		Service: ipc.NewService(name),
		logger:  h.Logger().With("service", name),
	}
	functions := make([]ipc.FunctionInfo, commands)
	for id := range functions {
		cmd := fmt.Sprintf("Unknown%d", id)
		functions[id] = ipc.FunctionInfo{ID: uint32(id), Handler: s.stub(cmd), Name: cmd}
	}
	s.RegisterHandlers(functions)
	return s
}

func (s *unknownService) stub(name string) ipc.HandlerFunc {
	return func(c *ipc.Context) {
		s.logger.Warn("called "+name, "stubbed", true)
		pushRetErrno(c, -1, sockets.ErrnoSUCCESS)
	}
}

func NewDNSPriv(h *hle.Host) ipc.Handler { return newUnknownService(h, "dns:priv", 10) }
func NewETHCC(h *hle.Host) ipc.Handler   { return newUnknownService(h, "ethc:c", 5) }
func NewETHCI(h *hle.Host) ipc.Handler   { return newUnknownService(h, "ethc:i", 5) }
