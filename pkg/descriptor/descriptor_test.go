package descriptor

import "testing"

func TestRegistryLookupMissingFails(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Lookup(1); err == nil {
		t.Fatal("want error for unregistered checkpoint id")
	}
	r.Set(1, Descriptor{Hash: "abc", Scheme: "xor:4"})
	d, err := r.Lookup(1)
	if err != nil || d.Hash != "abc" {
		t.Fatalf("Lookup = %+v, %v", d, err)
	}
}

func TestFlushFileSetUnset(t *testing.T) {
	f := NewFlushFile()
	f.Set(1, LocationCache)
	f.Set(1, LocationFlushing)
	locs := f.Locations(1)
	if !locs[LocationCache] || !locs[LocationFlushing] {
		t.Fatalf("locations = %+v", locs)
	}
	f.Unset(1, LocationFlushing)
	f.Set(1, LocationPFS)
	locs = f.Locations(1)
	if locs[LocationFlushing] {
		t.Fatal("FLUSHING should have been unset")
	}
	if !locs[LocationCache] || !locs[LocationPFS] {
		t.Fatalf("locations = %+v", locs)
	}
}

func TestNullApplier(t *testing.T) {
	var a Applier = NullApplier{}
	n, err := a.Apply(1, Descriptor{}, "/tmp")
	if err != nil || n != 0 {
		t.Fatalf("Apply = %d, %v", n, err)
	}
}
