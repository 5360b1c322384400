package network

import (
	"encoding/binary"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/smallnest/ringbuffer"
)

// CallbackHandle 标识一个已注册的收包回调。
type CallbackHandle uint64

// RoomMember 是本进程在联机房间中的成员身份。
type RoomMember interface {
	IsConnected() bool
	FakeIPAddress() IPv4Address
	SendProxyPacket(packet ProxyPacket) error
	BindOnProxyPacketReceived(fn func(ProxyPacket)) CallbackHandle
	Unbind(handle CallbackHandle)
}

// RoomNetwork 提供当前的房间成员；没有加入房间时第二个返回值为 false。
type RoomNetwork interface {
	RoomMember() (RoomMember, bool)
}

// OfflineRoom 是从未加入房间的 RoomNetwork。
type OfflineRoom struct{}

func (OfflineRoom) RoomMember() (RoomMember, bool) { return nil, false }

// IsRoomConnected 判断房间成员是否存在且已连接。
func IsRoomConnected(room RoomNetwork) bool {
	if room == nil {
		return false
	}
	member, ok := room.RoomMember()
	return ok && member != nil && member.IsConnected()
}

var ErrNotConnected = errors.New("room member is not connected")

const defaultInboxSize = 256 << 10

// LoopbackRoom 是进程内的房间网络，成员之间通过编码后的数据帧互相投递。
type LoopbackRoom struct {
	mu      sync.RWMutex
	members map[IPv4Address]*LoopbackMember
	logger  *slog.Logger
}

func NewLoopbackRoom(logger *slog.Logger) *LoopbackRoom {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoopbackRoom{
		members: make(map[IPv4Address]*LoopbackMember),
		logger:  logger,
	}
}

// Join 以给定的虚拟 IP 加入房间。
func (r *LoopbackRoom) Join(fakeIP IPv4Address) *LoopbackMember {
	m := &LoopbackMember{
		room:      r,
		ip:        fakeIP,
		inbox:     ringbuffer.New(defaultInboxSize),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		callbacks: make(map[CallbackHandle]func(ProxyPacket)),
	}
	m.connected.Store(true)

	r.mu.Lock()
	r.members[fakeIP] = m
	r.mu.Unlock()

	go m.pump()
	return m
}

func (r *LoopbackRoom) route(from *LoopbackMember, packet ProxyPacket) []*LoopbackMember {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if packet.Broadcast {
		targets := make([]*LoopbackMember, 0, len(r.members))
		for ip, m := range r.members {
			if ip != from.ip {
				targets = append(targets, m)
			}
		}
		return targets
	}
	if m, ok := r.members[packet.RemoteEndpoint.IP]; ok {
		return []*LoopbackMember{m}
	}
	return nil
}

// LoopbackMember 是 LoopbackRoom 中的一个成员。它同时实现 RoomNetwork，
// 可以直接交给套接字服务使用。
type LoopbackMember struct {
	room      *LoopbackRoom
	ip        IPv4Address
	connected atomic.Bool

	inboxMu sync.Mutex
	inbox   *ringbuffer.RingBuffer
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64

	cbMu       sync.RWMutex
	callbacks  map[CallbackHandle]func(ProxyPacket)
	nextHandle CallbackHandle
}

var (
	_ RoomMember  = (*LoopbackMember)(nil)
	_ RoomNetwork = (*LoopbackMember)(nil)
)

func (m *LoopbackMember) RoomMember() (RoomMember, bool) { return m, true }

func (m *LoopbackMember) IsConnected() bool { return m.connected.Load() }

func (m *LoopbackMember) FakeIPAddress() IPv4Address { return m.ip }

// Dropped 返回因收件缓冲区已满而丢弃的帧数。
func (m *LoopbackMember) Dropped() uint64 { return m.dropped.Load() }

func (m *LoopbackMember) SendProxyPacket(packet ProxyPacket) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	payload := MarshalProxyPacket(packet)
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)

	for _, target := range m.room.route(m, packet) {
		target.enqueue(frame)
	}
	return nil
}

func (m *LoopbackMember) BindOnProxyPacketReceived(fn func(ProxyPacket)) CallbackHandle {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.nextHandle++
	m.callbacks[m.nextHandle] = fn
	return m.nextHandle
}

func (m *LoopbackMember) Unbind(handle CallbackHandle) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	delete(m.callbacks, handle)
}

// Leave 断开连接并停止投递。
func (m *LoopbackMember) Leave() {
	m.once.Do(func() {
		m.connected.Store(false)
		m.room.mu.Lock()
		if m.room.members[m.ip] == m {
			delete(m.room.members, m.ip)
		}
		m.room.mu.Unlock()
		close(m.done)
	})
}

// 帧总是整体写入，读取侧因此不会看到半帧。
func (m *LoopbackMember) enqueue(frame []byte) {
	if !m.IsConnected() {
		return
	}
	m.inboxMu.Lock()
	if m.inbox.Free() < len(frame) {
		m.inboxMu.Unlock()
		m.dropped.Add(1)
		m.room.logger.Debug("loopback room inbox full, dropping frame", "member", SockAddrIn{IP: m.ip}.String())
		return
	}
	_, _ = m.inbox.Write(frame)
	m.inboxMu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *LoopbackMember) next() ([]byte, bool) {
	m.inboxMu.Lock()
	defer m.inboxMu.Unlock()
	if m.inbox.Length() < 4 {
		return nil, false
	}
	var header [4]byte
	if _, err := m.inbox.Read(header[:]); err != nil {
		return nil, false
	}
	payload := make([]byte, binary.BigEndian.Uint32(header[:]))
	if _, err := m.inbox.Read(payload); err != nil {
		m.inbox.Reset()
		return nil, false
	}
	return payload, true
}

func (m *LoopbackMember) pump() {
	for {
		select {
		case <-m.done:
			return
		case <-m.notify:
		}
		for {
			payload, ok := m.next()
			if !ok {
				break
			}
			packet, err := UnmarshalProxyPacket(payload)
			if err != nil {
				m.room.logger.Error("loopback room: bad frame", "error", err)
				continue
			}
			m.dispatch(packet)
		}
	}
}

func (m *LoopbackMember) dispatch(packet ProxyPacket) {
	m.cbMu.RLock()
	fns := make([]func(ProxyPacket), 0, len(m.callbacks))
	for _, fn := range m.callbacks {
		fns = append(fns, fn)
	}
	m.cbMu.RUnlock()

	for _, fn := range fns {
		fn(packet)
	}
}
