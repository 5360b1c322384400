package network

import (
	"net"
	"sync"
	"time"
)

// 宿主地址很少变化，缓存一小段时间以免每次发送都枚举网卡。
const hostAddressTTL = 30 * time.Second

var hostAddress struct {
	mu      sync.Mutex
	ip      IPv4Address
	found   bool
	expires time.Time
}

// HostIPv4Address 返回宿主第一个已启用的非回环 IPv4 地址。
func HostIPv4Address() (IPv4Address, bool) {
	hostAddress.mu.Lock()
	defer hostAddress.mu.Unlock()
	if time.Now().Before(hostAddress.expires) {
		return hostAddress.ip, hostAddress.found
	}
	hostAddress.ip, hostAddress.found = lookupHostIPv4()
	hostAddress.expires = time.Now().Add(hostAddressTTL)
	return hostAddress.ip, hostAddress.found
}

func lookupHostIPv4() (IPv4Address, bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return IPv4Address{}, false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip4 := ip.To4(); ip4 != nil {
				return IPv4Address(ip4), true
			}
		}
	}
	return IPv4Address{}, false
}
