package network

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
)

const (
	DefaultResolverCacheSize = 128
	DefaultResolverCacheTTL  = time.Minute
	defaultLookupTimeout     = 10 * time.Second
)

// LookupFunc 把主机名解析为地址列表。
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

type resolved struct {
	infos []AddrInfo
	err   GetAddrInfoError
}

// Resolver 负责 guest 的地址解析，只返回 IPv4 结果，成功的结果会被缓存。
type Resolver struct {
	lookup LookupFunc
	cache  *expirable.LRU[string, resolved]
	logger *slog.Logger
}

type ResolverOption func(*Resolver)

func WithLookup(fn LookupFunc) ResolverOption {
	return func(r *Resolver) { r.lookup = fn }
}

func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithCache 设置缓存容量与有效期；size <= 0 时关闭缓存。
func WithCache(size int, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if size <= 0 {
			r.cache = nil
			return
		}
		r.cache = expirable.NewLRU[string, resolved](size, nil, ttl)
	}
}

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		lookup: defaultLookup,
		cache:  expirable.NewLRU[string, resolved](DefaultResolverCacheSize, nil, DefaultResolverCacheTTL),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return nil, errors.Wrapf(err, "lookup %s", host)
	}
	return addrs, nil
}

// GetAddressInfo 解析主机名与服务名。service 为 nil 时端口为 0。
func (r *Resolver) GetAddressInfo(host string, service *string) ([]AddrInfo, GetAddrInfoError) {
	key := host
	if service != nil {
		key += "\x00" + *service
	}
	if r.cache != nil {
		if hit, ok := r.cache.Get(key); ok {
			return hit.infos, hit.err
		}
	}

	infos, gaiErr := r.resolve(host, service)
	// 临时错误不缓存
	if r.cache != nil && gaiErr != GetAddrInfoAGAIN {
		r.cache.Add(key, resolved{infos: infos, err: gaiErr})
	}
	return infos, gaiErr
}

// Purge 清空缓存。
func (r *Resolver) Purge() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

func (r *Resolver) resolve(host string, service *string) ([]AddrInfo, GetAddrInfoError) {
	var port uint16
	if service != nil && *service != "" {
		p, err := lookupPort(*service)
		if err != nil {
			r.logger.Debug("service lookup failed", "service", *service, "error", err)
			return nil, GetAddrInfoSERVICE
		}
		port = p
	}
	if host == "" {
		return nil, GetAddrInfoNONAME
	}

	var addrs []netip.Addr
	if ip, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{ip}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), defaultLookupTimeout)
		defer cancel()
		addrs, err = r.lookup(ctx, host)
		if err != nil {
			r.logger.Debug("host lookup failed", "host", host, "error", err)
			return nil, mapDnsError(err)
		}
	}

	var infos []AddrInfo
	for _, addr := range addrs {
		addr = addr.Unmap()
		if !addr.Is4() {
			continue
		}
		sockAddr := SockAddrIn{Family: DomainINET, IP: addr.As4(), Port: port}
		infos = append(infos,
			AddrInfo{Family: DomainINET, SocketType: TypeSTREAM, Protocol: ProtocolTCP, Addr: sockAddr},
			AddrInfo{Family: DomainINET, SocketType: TypeDGRAM, Protocol: ProtocolUDP, Addr: sockAddr},
		)
	}
	if len(infos) == 0 {
		return nil, GetAddrInfoNODATA
	}
	return infos, GetAddrInfoSUCCESS
}

func lookupPort(service string) (uint16, error) {
	if n, err := strconv.ParseUint(service, 10, 16); err == nil {
		return uint16(n), nil
	}
	p, err := net.LookupPort("tcp", service)
	if err != nil {
		return 0, errors.Wrapf(err, "lookup port %s", service)
	}
	return uint16(p), nil
}

// mapDnsError 将 net.DNSError 映射为 GetAddrInfoError。
func mapDnsError(err error) GetAddrInfoError {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return GetAddrInfoNONAME
		case dnsErr.IsTemporary, dnsErr.IsTimeout:
			return GetAddrInfoAGAIN
		}
		return GetAddrInfoFAIL
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return GetAddrInfoAGAIN
	}
	return GetAddrInfoFAIL
}
