// Package ports maps customers to staging TCP ports: a configured fixed
// port verified free, or the first bindable port in the allocation range.
package ports

import (
	"context"
	"fmt"
	"net"
	"time"

	"upserver/pkg/protocol"
)

// probeTimeout bounds the TCP connect probe against a fixed port.
const probeTimeout = 500 * time.Millisecond

// Allocator chooses ports for customer staging servers.
//
// probeFunc reports whether something is listening on the port;
// bindFunc reports whether the port can be bound. Both are injectable for
// tests; production uses real TCP operations on localhost.
type Allocator struct {
	rangeStart int
	rangeEnd   int
	fixed      map[string]int

	probeFunc func(port int) bool
	bindFunc  func(port int) bool
}

// New creates an Allocator for the given inclusive range and fixed-port
// map. Range/fixed consistency is validated at configuration-write time,
// not here.
func New(rangeStart, rangeEnd int, fixed map[string]int) *Allocator {
	return &Allocator{
		rangeStart: rangeStart,
		rangeEnd:   rangeEnd,
		fixed:      fixed,
		probeFunc:  probeListening,
		bindFunc:   canBind,
	}
}

// SetProbeFuncs replaces the probe and bind functions. Tests use this to
// simulate occupied and exhausted port ranges without real sockets.
func (a *Allocator) SetProbeFuncs(probe, bind func(port int) bool) {
	if probe != nil {
		a.probeFunc = probe
	}
	if bind != nil {
		a.bindFunc = bind
	}
}

// FixedPort returns the customer's configured fixed port, if any.
func (a *Allocator) FixedPort(customerID string) (int, bool) {
	port, ok := a.fixed[customerID]
	return port, ok
}

// Allocate returns the port the customer's staging server must bind.
//
// With a fixed port configured, the port is probed and PortInUseError is
// returned if a listener already answers — the allocator never substitutes
// another port, because the reverse tunnel maps the public staging
// hostname to exactly the fixed port. Without one, the range is scanned
// for the first port that is outside busy (ports tracked as starting or
// running) and currently bindable; exhaustion yields NoFreePortsError.
func (a *Allocator) Allocate(_ context.Context, customerID string, busy map[int]bool) (int, error) {
	if port, ok := a.fixed[customerID]; ok {
		if a.probeFunc(port) {
			return 0, &protocol.PortInUseError{CustomerID: customerID, Port: port}
		}
		return port, nil
	}

	for port := a.rangeStart; port <= a.rangeEnd; port++ {
		if busy[port] {
			continue
		}
		if fixedHolder(a.fixed, port) {
			continue
		}
		if a.bindFunc(port) {
			return port, nil
		}
	}
	return 0, &protocol.NoFreePortsError{RangeStart: a.rangeStart, RangeEnd: a.rangeEnd}
}

// fixedHolder reports whether port is reserved for some customer's fixed
// assignment. Scanned allocations must not squat on reserved ports.
func fixedHolder(fixed map[string]int, port int) bool {
	for _, p := range fixed {
		if p == port {
			return true
		}
	}
	return false
}

// probeListening reports whether something accepts TCP connections on the
// port. A short timeout keeps fixed-port verification fast.
func probeListening(port int) bool {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	conn, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// canBind reports whether the port can be bound right now.
func canBind(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port)) //nolint:noctx // local bind check is instant
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
