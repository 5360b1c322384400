package impl

import (
	"context"

	"github.com/OpenListTeam/hle-sockets/hle"
	"github.com/OpenListTeam/hle-sockets/ipc"
	"github.com/pkg/errors"
)

// BSDThreadName 是 BSD 额外工作线程所属的名称。
const BSDThreadName = "bsdsocket"

// --- sockets ---
type socketsModule struct{}

func NewSockets() hle.Implementation {
	return &socketsModule{}
}

func (i *socketsModule) Name() string { return "sockets" }

func (i *socketsModule) Instantiate(_ context.Context, h *hle.Host, m *ipc.ServerManager) error {
	services := []struct {
		name    string
		handler ipc.Handler
	}{
		{"bsd:a", NewBSD(h, "bsd:a")},
		{"bsd:s", NewBSD(h, "bsd:s")},
		{"bsd:u", NewBSD(h, "bsd:u")},
		{"bsd:nu", NewBSDNU(h)},
		{"bsdcfg", NewBSDCFG(h)},
		{"dns:priv", NewDNSPriv(h)},
		{"ethc:c", NewETHCC(h)},
		{"ethc:i", NewETHCI(h)},
		{"nsd:a", NewNSD(h, "nsd:a")},
		{"nsd:u", NewNSD(h, "nsd:u")},
		{"sfdnsres", NewSFDNSRES(h)},
	}
	for _, svc := range services {
		if err := m.RegisterNamedService(svc.name, svc.handler); err != nil {
			return errors.Wrap(err, "register sockets services")
		}
	}
	m.StartAdditionalHostThreads(BSDThreadName, h.BSDWorkerThreads())
	return nil
}
