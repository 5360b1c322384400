package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoopbackRoomUnicastAndBroadcast(t *testing.T) {
	room := NewLoopbackRoom(nil)
	a := room.Join(IPv4Address{10, 13, 0, 1})
	b := room.Join(IPv4Address{10, 13, 0, 2})
	c := room.Join(IPv4Address{10, 13, 0, 3})
	defer a.Leave()
	defer b.Leave()
	defer c.Leave()

	gotB := make(chan ProxyPacket, 4)
	gotC := make(chan ProxyPacket, 4)
	b.BindOnProxyPacketReceived(func(p ProxyPacket) { gotB <- p })
	handle := c.BindOnProxyPacketReceived(func(p ProxyPacket) { gotC <- p })

	require.NoError(t, a.SendProxyPacket(ProxyPacket{
		RemoteEndpoint: SockAddrIn{Family: DomainINET, IP: b.FakeIPAddress(), Port: 1},
		Protocol:       ProtocolUDP,
		Data:           []byte("to b"),
	}))
	select {
	case p := <-gotB:
		require.Equal(t, []byte("to b"), p.Data)
	case <-time.After(time.Second):
		t.Fatal("unicast not delivered")
	}

	require.NoError(t, a.SendProxyPacket(ProxyPacket{
		RemoteEndpoint: SockAddrIn{Family: DomainINET, IP: IPv4Address{10, 13, 0, 255}, Port: 1},
		Protocol:       ProtocolUDP,
		Broadcast:      true,
		Data:           []byte("all"),
	}))
	for _, ch := range []chan ProxyPacket{gotB, gotC} {
		select {
		case p := <-ch:
			require.Equal(t, []byte("all"), p.Data)
		case <-time.After(time.Second):
			t.Fatal("broadcast not delivered")
		}
	}

	c.Unbind(handle)
	require.NoError(t, a.SendProxyPacket(ProxyPacket{
		RemoteEndpoint: SockAddrIn{IP: c.FakeIPAddress()},
		Data:           []byte("ignored"),
	}))
	select {
	case <-gotC:
		t.Fatal("unbound callback invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoopbackMemberLeave(t *testing.T) {
	room := NewLoopbackRoom(nil)
	a := room.Join(IPv4Address{10, 13, 0, 1})
	require.True(t, IsRoomConnected(a))

	a.Leave()
	a.Leave()
	require.False(t, a.IsConnected())
	require.False(t, IsRoomConnected(a))
	require.ErrorIs(t, a.SendProxyPacket(ProxyPacket{}), ErrNotConnected)

	require.False(t, IsRoomConnected(OfflineRoom{}))
	require.False(t, IsRoomConnected(nil))
}
