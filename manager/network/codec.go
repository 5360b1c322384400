package network

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// 代理包线格式 (大端序):
//
//	local  : family u8 | ip [4]u8 | port u16
//	remote : family u8 | ip [4]u8 | port u16
//	protocol u8 | flags u8 (bit0 broadcast, bit1 reliable)
//	length u32 | data
const (
	endpointSize     = 7
	packetHeaderSize = endpointSize*2 + 2 + 4

	packetFlagBroadcast = 1 << 0
	packetFlagReliable  = 1 << 1
)

var errShortPacket = errors.New("short proxy packet")

func putEndpoint(b []byte, addr SockAddrIn) {
	b[0] = byte(addr.Family)
	copy(b[1:5], addr.IP[:])
	binary.BigEndian.PutUint16(b[5:7], addr.Port)
}

func readEndpoint(b []byte) SockAddrIn {
	var addr SockAddrIn
	addr.Family = Domain(b[0])
	copy(addr.IP[:], b[1:5])
	addr.Port = binary.BigEndian.Uint16(b[5:7])
	return addr
}

// MarshalProxyPacket 把数据包编码为线格式。
func MarshalProxyPacket(packet ProxyPacket) []byte {
	buf := make([]byte, packetHeaderSize+len(packet.Data))
	putEndpoint(buf[0:], packet.LocalEndpoint)
	putEndpoint(buf[endpointSize:], packet.RemoteEndpoint)
	buf[endpointSize*2] = byte(packet.Protocol)
	var flags byte
	if packet.Broadcast {
		flags |= packetFlagBroadcast
	}
	if packet.Reliable {
		flags |= packetFlagReliable
	}
	buf[endpointSize*2+1] = flags
	binary.BigEndian.PutUint32(buf[endpointSize*2+2:], uint32(len(packet.Data)))
	copy(buf[packetHeaderSize:], packet.Data)
	return buf
}

// UnmarshalProxyPacket 解码线格式的数据包。
func UnmarshalProxyPacket(buf []byte) (ProxyPacket, error) {
	if len(buf) < packetHeaderSize {
		return ProxyPacket{}, errors.Wrapf(errShortPacket, "header needs %d bytes, got %d", packetHeaderSize, len(buf))
	}
	packet := ProxyPacket{
		LocalEndpoint:  readEndpoint(buf[0:]),
		RemoteEndpoint: readEndpoint(buf[endpointSize:]),
		Protocol:       Protocol(buf[endpointSize*2]),
	}
	flags := buf[endpointSize*2+1]
	packet.Broadcast = flags&packetFlagBroadcast != 0
	packet.Reliable = flags&packetFlagReliable != 0

	size := binary.BigEndian.Uint32(buf[endpointSize*2+2:])
	if uint64(len(buf)-packetHeaderSize) < uint64(size) {
		return ProxyPacket{}, errors.Wrapf(errShortPacket, "payload needs %d bytes, got %d", size, len(buf)-packetHeaderSize)
	}
	packet.Data = append([]byte(nil), buf[packetHeaderSize:packetHeaderSize+int(size)]...)
	return packet, nil
}
