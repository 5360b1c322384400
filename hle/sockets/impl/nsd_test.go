package impl

import (
	"bytes"
	"testing"

	"github.com/OpenListTeam/hle-sockets/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNSDResolveEchoes(t *testing.T) {
	hs := newHarness(t)
	nsd := hs.connect("nsd:u")

	reply := hs.invoke(nsd, &ipc.Request{
		Command:        20,
		InBuffers:      [][]byte{[]byte("example.com\x00junk")},
		OutBufferSizes: []int{fqdnSize},
	})
	assert.Equal(t, []uint32{0}, words(t, reply))
	require.Len(t, reply.OutBuffers[0], fqdnSize)
	assert.Equal(t, "example.com", cString(reply.OutBuffers[0]))

	reply = hs.invoke(nsd, &ipc.Request{
		Command:        21,
		InBuffers:      [][]byte{[]byte("example.com")},
		OutBufferSizes: []int{fqdnSize},
	})
	assert.Equal(t, []uint32{0, 0}, words(t, reply))
	assert.Equal(t, "example.com", cString(reply.OutBuffers[0]))
}

func TestNSDResolveOverflow(t *testing.T) {
	hs := newHarness(t)
	nsd := hs.connect("nsd:u")
	long := bytes.Repeat([]byte{'a'}, fqdnSize)

	reply := hs.invoke(nsd, &ipc.Request{
		Command:        20,
		InBuffers:      [][]byte{long},
		OutBufferSizes: []int{fqdnSize},
	})
	assert.Equal(t, []uint32{uint32(ResultNSDOverflow)}, words(t, reply))
	// Resolve 即使失败也会写出缓冲区
	assert.Equal(t, make([]byte, fqdnSize), reply.OutBuffers[0])

	reply = hs.invoke(nsd, &ipc.Request{
		Command:        21,
		InBuffers:      [][]byte{long},
		OutBufferSizes: []int{fqdnSize},
	})
	assert.Equal(t, []uint32{uint32(ResultNSDOverflow)}, words(t, reply))
	assert.Nil(t, reply.OutBuffers[0])
}

func TestNSDEnvironment(t *testing.T) {
	hs := newHarness(t)
	nsd := hs.connect("nsd:u")

	reply := hs.invoke(nsd, &ipc.Request{Command: 11, OutBufferSizes: []int{environmentIdSize}})
	assert.Equal(t, []byte{'l', 'p', '1', 0, 0, 0, 0, 0}, reply.OutBuffers[0])

	reply = hs.invoke(nsd, &ipc.Request{Command: 100})
	assert.Equal(t, []uint32{0, uint32(ServerEnvironmentLp)}, words(t, reply))

	reply = hs.invoke(nsd, &ipc.Request{Command: 63})
	assert.Equal(t, []uint32{0, 0}, words(t, reply))

	reply = hs.invoke(nsd, &ipc.Request{Command: 43, OutBufferSizes: []int{fqdnSize}})
	assert.Equal(t, []uint32{0, 0}, words(t, reply))
	assert.Equal(t, make([]byte, fqdnSize), reply.OutBuffers[0])
}

func TestNSDAdminOnlyCommands(t *testing.T) {
	hs := newHarness(t)
	user := hs.connect("nsd:u")
	admin := hs.connect("nsd:a")

	for _, cmd := range []uint32{50, 51, 52, 60, 61, 62} {
		assert.Equal(t, []uint32{uint32(ResultNSDPermissionDenied)}, words(t, hs.invoke(user, &ipc.Request{Command: cmd})), "command %d", cmd)
		assert.Equal(t, []uint32{0}, words(t, hs.invoke(admin, &ipc.Request{Command: cmd, OutBufferSizes: []int{testParameterSize}})), "command %d", cmd)
	}
}
