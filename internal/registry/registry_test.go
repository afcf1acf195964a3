package registry

import (
	"testing"

	"fleetgate/internal/wire"
)

type fakeConn struct {
	evicted bool
}

func (f *fakeConn) Evict() { f.evicted = true }

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	id := wire.DeviceIdentity{0x01, 0x23, 0x45, 0x67, 0x89, 0x01, 0x23, 0x45}
	c := &fakeConn{}

	r.Register(id, c)

	got, ok := r.Lookup(id)
	if !ok || got != c {
		t.Fatalf("Lookup after Register = %v, %v", got, ok)
	}
}

func TestRegisterEvictsPredecessor(t *testing.T) {
	r := New()
	id := wire.DeviceIdentity{0x01}
	c1 := &fakeConn{}
	c2 := &fakeConn{}

	r.Register(id, c1)
	r.Register(id, c2)

	if !c1.evicted {
		t.Fatalf("expected predecessor to be evicted")
	}
	if c2.evicted {
		t.Fatalf("did not expect the new connection to be evicted")
	}
	got, ok := r.Lookup(id)
	if !ok || got != c2 {
		t.Fatalf("Lookup after re-register = %v, %v, want c2", got, ok)
	}
}

func TestUnregisterOnlyRemovesMatchingConn(t *testing.T) {
	r := New()
	id := wire.DeviceIdentity{0x02}
	c1 := &fakeConn{}
	c2 := &fakeConn{}

	r.Register(id, c1)
	r.Register(id, c2) // c1 evicted, but might still call Unregister(id, c1) on its own teardown path

	r.Unregister(id, c1)
	got, ok := r.Lookup(id)
	if !ok || got != c2 {
		t.Fatalf("stale Unregister must not remove the current connection; got %v, %v", got, ok)
	}

	r.Unregister(id, c2)
	if _, ok := r.Lookup(id); ok {
		t.Fatalf("expected entry removed after Unregister(id, current conn)")
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	r := New()
	id := wire.DeviceIdentity{0x03}
	c := &fakeConn{}
	r.Register(id, c)
	r.Unregister(id, c)
	r.Unregister(id, c) // must not panic
	if _, ok := r.Lookup(id); ok {
		t.Fatalf("expected no entry")
	}
}
