// Package hle 组装 guest 可见的系统服务。
package hle

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/OpenListTeam/hle-sockets/ipc"
	"github.com/OpenListTeam/hle-sockets/manager/network"
	"github.com/OpenListTeam/hle-sockets/manager/sockets"
	"github.com/pkg/errors"
)

// Implementation 是所有服务模块必须实现的接口。
type Implementation interface {
	// Name 返回模块的名称，例如 "sockets"。
	Name() string
	// Instantiate 把模块的服务注册到 ServerManager。
	Instantiate(context.Context, *Host, *ipc.ServerManager) error
}

// Host 是所有服务实现及其共享状态的容器。
type Host struct {
	logger   *slog.Logger
	room     network.RoomNetwork
	resolver *network.Resolver
	pool     *sockets.Pool
	manager  *ipc.ServerManager

	resolverCacheSize int
	resolverCacheTTL  time.Duration
	bsdThreads        int
	sslBackend        string
	tlsConfig         *tls.Config

	implementations []Implementation
}

// ModuleOption 是用于配置 Host 的选项函数。
type ModuleOption func(*Host)

const (
	DefaultBSDWorkerThreads = 2
	DefaultSSLBackend       = "none"
)

// NewHost 创建一个新的 Host 实例，并应用所有提供的模块选项。
func NewHost(opts ...ModuleOption) *Host {
	h := &Host{
		logger:            slog.Default(),
		room:              network.OfflineRoom{},
		pool:              sockets.NewPool(),
		resolverCacheSize: network.DefaultResolverCacheSize,
		resolverCacheTTL:  network.DefaultResolverCacheTTL,
		bsdThreads:        DefaultBSDWorkerThreads,
		sslBackend:        DefaultSSLBackend,
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.resolver == nil {
		h.resolver = network.NewResolver(
			network.WithResolverLogger(h.logger),
			network.WithCache(h.resolverCacheSize, h.resolverCacheTTL),
		)
	}
	h.manager = ipc.NewServerManager(h.logger)
	return h
}

func (h *Host) AddImplementation(impl Implementation) {
	h.implementations = append(h.implementations, impl)
}

// Instantiate 注册所有已配置的模块。
func (h *Host) Instantiate(ctx context.Context) error {
	for _, impl := range h.implementations {
		if err := impl.Instantiate(ctx, h, h.manager); err != nil {
			return errors.Wrapf(err, "instantiate %s", impl.Name())
		}
		h.logger.Debug("instantiated module", "name", impl.Name())
	}
	return nil
}

// Run 运行 ServerManager 的工作线程，直到 ctx 结束。
func (h *Host) Run(ctx context.Context) error {
	return h.manager.Run(ctx)
}

// Close 关闭全部会话与服务。
func (h *Host) Close() error {
	return h.manager.Close()
}

func (h *Host) Logger() *slog.Logger {
	return h.logger
}

func (h *Host) RoomNetwork() network.RoomNetwork {
	return h.room
}

func (h *Host) Resolver() *network.Resolver {
	return h.resolver
}

func (h *Host) SocketPool() *sockets.Pool {
	return h.pool
}

func (h *Host) ServerManager() *ipc.ServerManager {
	return h.manager
}

func (h *Host) BSDWorkerThreads() int {
	return h.bsdThreads
}

func (h *Host) SSLBackend() string {
	return h.sslBackend
}

func (h *Host) TLSConfig() *tls.Config {
	return h.tlsConfig
}
