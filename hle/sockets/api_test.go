package hle_sockets_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/OpenListTeam/hle-sockets/hle"
	hle_sockets "github.com/OpenListTeam/hle-sockets/hle/sockets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModule(t *testing.T) {
	h := hle.NewHost(hle.WithLogger(slog.New(slog.DiscardHandler)), hle_sockets.Module())
	require.NoError(t, h.Instantiate(context.Background()))
	defer h.Close()

	for _, name := range []string{"bsd:u", "bsd:s", "bsd:a", "sfdnsres", "nsd:u"} {
		_, ok := h.ServerManager().GetService(name)
		assert.True(t, ok, name)
	}
}
