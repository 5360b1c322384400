package hle_sockets

import (
	"github.com/OpenListTeam/hle-sockets/hle"
	"github.com/OpenListTeam/hle-sockets/hle/sockets/impl"
)

// Module 返回注册 bsd、nsd、sfdnsres 等套接字服务的模块选项。
func Module() hle.ModuleOption {
	return func(h *hle.Host) {
		h.AddImplementation(impl.NewSockets())
	}
}
