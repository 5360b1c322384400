package sockets

import (
	"sync"

	"github.com/OpenListTeam/hle-sockets/manager/network"
)

// PoolCapacity 是每个键最多缓存的空闲套接字数量。
const PoolCapacity = 8

// PoolKey 是套接字池的键，取值均为宿主表示。
type PoolKey struct {
	Domain   network.Domain
	Type     network.Type
	Protocol network.Protocol
}

// Pool 缓存空闲的代理套接字。放入池中的套接字不能在别处仍被引用。
type Pool struct {
	mu      sync.Mutex
	sockets map[PoolKey][]network.SocketBase
}

func NewPool() *Pool {
	return &Pool{sockets: make(map[PoolKey][]network.SocketBase)}
}

// TryAcquire 取出最近放回的套接字 (LIFO)。
func (p *Pool) TryAcquire(key PoolKey) (network.SocketBase, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.sockets[key]
	if len(list) == 0 {
		return nil, false
	}
	s := list[len(list)-1]
	list[len(list)-1] = nil
	p.sockets[key] = list[:len(list)-1]
	return s, true
}

// Release 放回套接字；已满时丢弃并返回 false。
func (p *Pool) Release(key PoolKey, s network.SocketBase) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.sockets[key]
	if len(list) >= PoolCapacity {
		return false
	}
	p.sockets[key] = append(list, s)
	return true
}

func (p *Pool) Len(key PoolKey) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sockets[key])
}
