package hle_ssl

import (
	"github.com/OpenListTeam/hle-sockets/hle"
	"github.com/OpenListTeam/hle-sockets/hle/ssl/impl"
)

// Module 返回注册 ssl 与 ssl:s 服务的模块选项。
// SSL 连接通过 bsd:u 取得套接字，需要同时启用 hle_sockets.Module()。
func Module() hle.ModuleOption {
	return func(h *hle.Host) {
		h.AddImplementation(impl.NewSSL())
	}
}
