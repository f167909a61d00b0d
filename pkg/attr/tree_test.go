package attr

import "testing"

func TestSetGetScalars(t *testing.T) {
	root := New()
	root.SetInt("rank", 3)
	root.SetUnsigned("world_size", 4)
	root.SetByteCount("size", 65536)
	root.SetString("name", "rank_0.dat")
	root.SetCRC32("crc", 0xdeadbeef)

	if v, ok := root.Int("rank"); !ok || v != 3 {
		t.Fatalf("Int(rank) = %d, %v", v, ok)
	}
	if v, ok := root.Unsigned("world_size"); !ok || v != 4 {
		t.Fatalf("Unsigned(world_size) = %d, %v", v, ok)
	}
	if v, ok := root.ByteCount("size"); !ok || v != 65536 {
		t.Fatalf("ByteCount(size) = %d, %v", v, ok)
	}
	if v, ok := root.String("name"); !ok || v != "rank_0.dat" {
		t.Fatalf("String(name) = %q, %v", v, ok)
	}
	if v, ok := root.CRC32("crc"); !ok || v != 0xdeadbeef {
		t.Fatalf("CRC32(crc) = %x, %v", v, ok)
	}
}

func TestGetMissingSetsErr(t *testing.T) {
	root := New()
	if _, ok := root.Int("missing"); ok {
		t.Fatal("expected ok=false for missing key")
	}
	if root.Err() == nil {
		t.Fatal("expected Err() to be set after a missing-key access")
	}
	// Err is sticky: a later failure does not replace the first.
	first := root.Err()
	root.String("also-missing")
	if root.Err() != first {
		t.Fatal("Err() should be sticky to the first failure")
	}
}

func TestWrongKindFails(t *testing.T) {
	root := New()
	root.SetInt("n", 1)
	if _, ok := root.String("n"); ok {
		t.Fatal("expected String() on an int leaf to fail")
	}
}

func TestKeysPreservesInsertionOrder(t *testing.T) {
	root := New()
	root.SetInt("c", 1)
	root.SetInt("a", 2)
	root.SetInt("b", 3)
	want := []string{"c", "a", "b"}
	got := root.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Keys() = %v, want %v", got, want)
		}
	}
}

func TestSortIntKeys(t *testing.T) {
	root := New()
	root.SetInt("10", 0)
	root.SetInt("2", 0)
	root.SetInt("notanumber", 0)
	root.SetInt("1", 0)
	root.SortIntKeys()
	want := []string{"1", "2", "10", "notanumber"}
	got := root.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Keys() = %v, want %v", got, want)
		}
	}
}

func TestDelete(t *testing.T) {
	root := New()
	root.SetInt("a", 1)
	root.SetInt("b", 2)
	root.Delete("a")
	if root.Get("a") != nil {
		t.Fatal("Get(a) should be nil after Delete")
	}
	got := root.Keys()
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("Keys() = %v, want [b]", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	root := New()
	root.SetInt("n", 1)
	clone := root.Clone()
	clone.SetInt("n", 2)
	if v, _ := root.Int("n"); v != 1 {
		t.Fatalf("mutating clone changed original: root.n = %d", v)
	}
	if v, _ := clone.Int("n"); v != 2 {
		t.Fatalf("clone.n = %d, want 2", v)
	}
}

func TestMergeIsNonDestructiveOnSource(t *testing.T) {
	dst := New()
	dst.SetInt("a", 1)
	src := New()
	src.SetInt("b", 2)

	dst.Merge(src)

	if v, ok := dst.Int("a"); !ok || v != 1 {
		t.Fatalf("dst.a = %d, %v", v, ok)
	}
	if v, ok := dst.Int("b"); !ok || v != 2 {
		t.Fatalf("dst.b = %d, %v", v, ok)
	}
	// src must survive untouched.
	if v, ok := src.Int("b"); !ok || v != 2 {
		t.Fatalf("src.b = %d, %v, src was mutated", v, ok)
	}
	if src.Get("a") != nil {
		t.Fatal("Merge leaked dst's keys back into src")
	}

	// Mutating dst's merged-in subtree must not affect src's original.
	dst.SetInt("b", 99)
	if v, _ := src.Int("b"); v != 2 {
		t.Fatalf("dst mutation leaked into src: src.b = %d", v)
	}
}

func TestNestedTree(t *testing.T) {
	root := New()
	child := New()
	child.SetString("name", "rank_0.dat")
	root.Set("FILE/0", child)

	got := root.Get("FILE/0")
	if got == nil {
		t.Fatal("Get(FILE/0) = nil")
	}
	if v, ok := got.String("name"); !ok || v != "rank_0.dat" {
		t.Fatalf("nested String(name) = %q, %v", v, ok)
	}
	if got2 := root.GetFormatted("FILE/%d", 0); got2 == nil {
		t.Fatalf("GetFormatted(%q, 0) = nil", "FILE/%d")
	}
}
