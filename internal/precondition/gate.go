// Package precondition evaluates the device checks that must pass before a
// location report may start.
package precondition

import (
	"net"

	"github.com/UnknownOlympus/beacon/internal/models"
)

// Probe answers a single yes/no question about device state.
// Probes must be cheap and free of side effects.
type Probe func() bool

// Checker is the contract the pipeline consumes.
type Checker interface {
	CheckConnectivity() bool
	CheckLocationServiceEnabled() bool
	CheckPermissionsGranted() bool
}

// Gate combines the three probes. A nil probe always fails.
type Gate struct {
	connectivity    Probe
	locationService Probe
	permissions     Probe
}

// NewGate creates a gate from probes.
func NewGate(connectivity, locationService, permissions Probe) *Gate {
	return &Gate{
		connectivity:    connectivity,
		locationService: locationService,
		permissions:     permissions,
	}
}

// CheckConnectivity reports whether the network is reachable.
func (g *Gate) CheckConnectivity() bool { return eval(g.connectivity) }

// CheckLocationServiceEnabled reports whether a location provider is active.
func (g *Gate) CheckLocationServiceEnabled() bool { return eval(g.locationService) }

// CheckPermissionsGranted reports whether location access was granted.
func (g *Gate) CheckPermissionsGranted() bool { return eval(g.permissions) }

// State evaluates every probe once.
func (g *Gate) State() models.PreconditionState {
	return Evaluate(g)
}

// Evaluate takes a snapshot of any Checker.
func Evaluate(c Checker) models.PreconditionState {
	return models.PreconditionState{
		HasConnectivity:        c.CheckConnectivity(),
		HasLocationAccess:      c.CheckPermissionsGranted(),
		LocationServiceEnabled: c.CheckLocationServiceEnabled(),
	}
}

func eval(p Probe) bool {
	return p != nil && p()
}

// Always returns a probe with a fixed answer.
func Always(v bool) Probe {
	return func() bool { return v }
}

// Interfaces lists network interfaces; replaced in tests.
type Interfaces func() ([]net.Interface, error)

// InterfaceConnectivity returns a probe that succeeds when at least one
// non-loopback interface is up and has an address assigned.
func InterfaceConnectivity() Probe {
	return interfaceProbe(net.Interfaces, func(iface net.Interface) ([]net.Addr, error) {
		return iface.Addrs()
	})
}

func interfaceProbe(list Interfaces, addrs func(net.Interface) ([]net.Addr, error)) Probe {
	return func() bool {
		ifaces, err := list()
		if err != nil {
			return false
		}

		for _, iface := range ifaces {
			if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			if assigned, err := addrs(iface); err == nil && len(assigned) > 0 {
				return true
			}
		}

		return false
	}
}
