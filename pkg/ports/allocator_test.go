package ports

import (
	"context"
	"errors"
	"testing"

	"upserver/pkg/protocol"
)

func alwaysFree(int) bool { return false }
func alwaysBind(int) bool { return true }

func TestAllocate_FixedPortFree(t *testing.T) {
	a := New(4000, 4010, map[string]int{"alice": 4005})
	a.SetProbeFuncs(alwaysFree, alwaysBind)

	port, err := a.Allocate(context.Background(), "alice", nil)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if port != 4005 {
		t.Fatalf("port = %d, want fixed 4005", port)
	}
}

func TestAllocate_FixedPortBusy(t *testing.T) {
	a := New(4000, 4010, map[string]int{"alice": 4005})
	a.SetProbeFuncs(func(port int) bool { return port == 4005 }, alwaysBind)

	_, err := a.Allocate(context.Background(), "alice", nil)
	var piu *protocol.PortInUseError
	if !errors.As(err, &piu) {
		t.Fatalf("error = %v, want PortInUseError", err)
	}
	if piu.Port != 4005 || piu.CustomerID != "alice" {
		t.Fatalf("error fields: %+v", piu)
	}
}

func TestAllocate_ScanSkipsBusyAndFixed(t *testing.T) {
	// 4000 is reserved for alice, 4001 is tracked busy, so bob gets 4002.
	a := New(4000, 4010, map[string]int{"alice": 4000})
	a.SetProbeFuncs(alwaysFree, alwaysBind)

	port, err := a.Allocate(context.Background(), "bob", map[int]bool{4001: true})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if port != 4002 {
		t.Fatalf("port = %d, want 4002", port)
	}
}

func TestAllocate_ScanSkipsUnbindable(t *testing.T) {
	a := New(4000, 4010, nil)
	a.SetProbeFuncs(alwaysFree, func(port int) bool { return port >= 4003 })

	port, err := a.Allocate(context.Background(), "bob", nil)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if port != 4003 {
		t.Fatalf("port = %d, want 4003", port)
	}
}

func TestAllocate_Exhausted(t *testing.T) {
	a := New(4000, 4002, map[string]int{"alice": 4000})
	a.SetProbeFuncs(alwaysFree, func(int) bool { return false })

	_, err := a.Allocate(context.Background(), "bob", map[int]bool{4001: true, 4002: true})
	var nfp *protocol.NoFreePortsError
	if !errors.As(err, &nfp) {
		t.Fatalf("error = %v, want NoFreePortsError", err)
	}
	if nfp.RangeStart != 4000 || nfp.RangeEnd != 4002 {
		t.Fatalf("error range: %+v", nfp)
	}
}

func TestFixedPort(t *testing.T) {
	a := New(4000, 4010, map[string]int{"alice": 4005})

	if port, ok := a.FixedPort("alice"); !ok || port != 4005 {
		t.Fatalf("FixedPort(alice) = %d, %v", port, ok)
	}
	if _, ok := a.FixedPort("bob"); ok {
		t.Fatal("FixedPort(bob) reported a fixed assignment")
	}
}
