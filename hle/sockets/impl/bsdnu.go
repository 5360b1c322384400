package impl

import (
	"log/slog"

	"github.com/OpenListTeam/hle-sockets/hle"
	"github.com/OpenListTeam/hle-sockets/ipc"
	"github.com/OpenListTeam/hle-sockets/manager/sockets"
)

// --- bsd:nu ---

type BSDNU struct {
	*ipc.Service
	logger *slog.Logger
}

func NewBSDNU(h *hle.Host) *BSDNU {
	s := &BSDNU{
		Service: ipc.NewService("bsd:nu"),
		logger:  h.Logger().With("service", "bsd:nu"),
	}
	s.RegisterHandlers([]ipc.FunctionInfo{
		{ID: 0, Handler: s.CreateUserService, Name: "CreateUserService"},
	})
	return s
}

func (s *BSDNU) CreateUserService(c *ipc.Context) {
	s.logger.Warn("called CreateUserService", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushInterface(newSfUserService(s.logger))
}

// --- ISfUserService ---

type sfUserService struct {
	*ipc.Service
	logger *slog.Logger
}

func newSfUserService(logger *slog.Logger) *sfUserService {
	s := &sfUserService{
		Service: ipc.NewService("ISfUserService"),
		logger:  logger,
	}
	s.RegisterHandlers([]ipc.FunctionInfo{
		{ID: 0, Handler: s.Assign, Name: "Assign"},
		{ID: 128, Handler: s.GetUserInfo, Name: "GetUserInfo"},
		{ID: 129, Handler: s.GetStateChangedEvent, Name: "GetStateChangedEvent"},
	})
	return s
}

func (s *sfUserService) Assign(c *ipc.Context) {
	s.logger.Warn("called Assign", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess).PushInterface(newSfAssignedNetworkInterfaceService(s.logger))
}

func (s *sfUserService) GetUserInfo(c *ipc.Context) {
	s.logger.Warn("called GetUserInfo", "stubbed", true)
	pushRetErrno(c, -1, sockets.ErrnoSUCCESS)
}

func (s *sfUserService) GetStateChangedEvent(c *ipc.Context) {
	s.logger.Warn("called GetStateChangedEvent", "stubbed", true)
	pushRetErrno(c, -1, sockets.ErrnoSUCCESS)
}

// --- ISfAssignedNetworkInterfaceService ---

type sfAssignedNetworkInterfaceService struct {
	*ipc.Service
	logger *slog.Logger
}

func newSfAssignedNetworkInterfaceService(logger *slog.Logger) *sfAssignedNetworkInterfaceService {
	s := &sfAssignedNetworkInterfaceService{
		Service: ipc.NewService("ISfAssignedNetworkInterfaceService"),
		logger:  logger,
	}
	s.RegisterHandlers([]ipc.FunctionInfo{
		{ID: 0, Handler: s.AddSession, Name: "AddSession"},
	})
	return s
}

func (s *sfAssignedNetworkInterfaceService) AddSession(c *ipc.Context) {
	s.logger.Warn("called AddSession", "stubbed", true)
	ipc.NewResponseBuilder(c).Push(ipc.ResultSuccess)
}
