package hle

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/OpenListTeam/hle-sockets/manager/network"
)

func WithLogger(logger *slog.Logger) ModuleOption {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRoomNetwork 设置多人联机的房间网络，未设置时所有套接字直连宿主。
func WithRoomNetwork(room network.RoomNetwork) ModuleOption {
	return func(h *Host) {
		if room != nil {
			h.room = room
		}
	}
}

// WithResolver 替换默认的地址解析器，此时 WithResolverCache 不再生效。
func WithResolver(r *network.Resolver) ModuleOption {
	return func(h *Host) { h.resolver = r }
}

// WithResolverCache 设置解析缓存；size <= 0 关闭缓存。
func WithResolverCache(size int, ttl time.Duration) ModuleOption {
	return func(h *Host) {
		h.resolverCacheSize = size
		h.resolverCacheTTL = ttl
	}
}

// WithBSDWorkerThreads 设置 BSD 服务额外的工作线程数。
func WithBSDWorkerThreads(n int) ModuleOption {
	return func(h *Host) {
		if n >= 0 {
			h.bsdThreads = n
		}
	}
}

// WithSSLBackend 选择 SSL 连接后端："none" 或 "tls"。
func WithSSLBackend(name string) ModuleOption {
	return func(h *Host) { h.sslBackend = name }
}

func WithTLSConfig(cfg *tls.Config) ModuleOption {
	return func(h *Host) { h.tlsConfig = cfg }
}
