// Package attr implements the hierarchical attribute tree used to move
// summary, file, segment, container and dataset metadata across the
// fetch core and across ranks (spec.md §4.1).
//
// The shape is generalized from perkeep's pkg/jsonconfig.Obj: that type
// gives typed accessors over a flat map[string]any with deferred errors.
// Tree adds the nesting, ordered iteration and merge operations
// jsonconfig never needed, because a bare Go map cannot preserve
// insertion order. Broadcast and exchange of trees over the fabric live
// in pkg/fabric (BroadcastTree, ExchangeTrees).
package attr

import (
	"fmt"
	"sort"
	"strconv"
)

// Kind says which typed scalar a Tree node's leaf carries; exactly one
// of the scalar's value fields is meaningful at a time.
type Kind int

const (
	KindNone Kind = iota
	KindInt
	KindUnsigned
	KindByteCount
	KindString
	KindCRC32
)

type scalar struct {
	kind   Kind
	i      int64
	u      uint64
	s      string
	crc    uint32
}

// Tree is a node in the attribute tree: an optional scalar leaf plus an
// ordered list of uniquely-keyed children.
type Tree struct {
	leaf     *scalar
	keys     []string
	children map[string]*Tree
	err      error // first typed-accessor failure, sticky
}

// New returns an empty tree node.
func New() *Tree {
	return &Tree{children: make(map[string]*Tree)}
}

func (t *Tree) ensure() {
	if t.children == nil {
		t.children = make(map[string]*Tree)
	}
}

// Delete removes the child at key, if present.
func (t *Tree) Delete(key string) {
	if t == nil || t.children == nil {
		return
	}
	if _, ok := t.children[key]; !ok {
		return
	}
	delete(t.children, key)
	for i, k := range t.keys {
		if k == key {
			t.keys = append(t.keys[:i], t.keys[i+1:]...)
			break
		}
	}
}

// Get returns the child at key, or nil if absent.
func (t *Tree) Get(key string) *Tree {
	if t == nil || t.children == nil {
		return nil
	}
	return t.children[key]
}

// GetFormatted is Get with a printf-style key, e.g. GetFormatted("RANK/%d", 3).
func (t *Tree) GetFormatted(format string, args ...interface{}) *Tree {
	return t.Get(fmt.Sprintf(format, args...))
}

// Set attaches subtree as the child at key, replacing any existing child
// and appending key to the ordered key list if it is new.
func (t *Tree) Set(key string, subtree *Tree) {
	t.ensure()
	if _, exists := t.children[key]; !exists {
		t.keys = append(t.keys, key)
	}
	t.children[key] = subtree
}

// setLeaf attaches a freshly created child at key carrying the given
// scalar, returning the new child.
func (t *Tree) setLeaf(key string, s scalar) *Tree {
	child := New()
	child.leaf = &s
	t.Set(key, child)
	return child
}

func (t *Tree) SetInt(key string, v int64) *Tree       { return t.setLeaf(key, scalar{kind: KindInt, i: v}) }
func (t *Tree) SetUnsigned(key string, v uint64) *Tree  { return t.setLeaf(key, scalar{kind: KindUnsigned, u: v}) }
func (t *Tree) SetByteCount(key string, v uint64) *Tree { return t.setLeaf(key, scalar{kind: KindByteCount, u: v}) }
func (t *Tree) SetString(key string, v string) *Tree    { return t.setLeaf(key, scalar{kind: KindString, s: v}) }
func (t *Tree) SetCRC32(key string, v uint32) *Tree     { return t.setLeaf(key, scalar{kind: KindCRC32, crc: v}) }

// Keys returns the child keys in insertion order.
func (t *Tree) Keys() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// SortIntKeys reorders this node's children by key parsed as an integer,
// ascending (spec.md §4.1 "integer-key ascending sort"). Keys that don't
// parse as integers sort after all that do, in their prior relative order.
func (t *Tree) SortIntKeys() {
	if t == nil {
		return
	}
	type kv struct {
		key string
		n   int64
		ok  bool
	}
	kvs := make([]kv, len(t.keys))
	for i, k := range t.keys {
		n, err := strconv.ParseInt(k, 10, 64)
		kvs[i] = kv{key: k, n: n, ok: err == nil}
	}
	sort.SliceStable(kvs, func(i, j int) bool {
		if kvs[i].ok != kvs[j].ok {
			return kvs[i].ok
		}
		return kvs[i].n < kvs[j].n
	})
	keys := make([]string, len(kvs))
	for i, e := range kvs {
		keys[i] = e.key
	}
	t.keys = keys
}

// Err returns the first typed-accessor failure recorded against this
// node, or nil.
func (t *Tree) Err() error {
	if t == nil {
		return nil
	}
	return t.err
}

func (t *Tree) fail(key, want string) {
	if t.err == nil {
		t.err = fmt.Errorf("attr: key %q: %s", key, want)
	}
}

// Int returns the child at key as a signed integer. ok is false if the
// key is absent or not an int-kind scalar; Err() is set the first time
// this happens.
func (t *Tree) Int(key string) (int64, bool) {
	c := t.Get(key)
	if c == nil || c.leaf == nil || c.leaf.kind != KindInt {
		t.fail(key, "missing or not an int")
		return 0, false
	}
	return c.leaf.i, true
}

func (t *Tree) Unsigned(key string) (uint64, bool) {
	c := t.Get(key)
	if c == nil || c.leaf == nil || c.leaf.kind != KindUnsigned {
		t.fail(key, "missing or not an unsigned")
		return 0, false
	}
	return c.leaf.u, true
}

func (t *Tree) ByteCount(key string) (uint64, bool) {
	c := t.Get(key)
	if c == nil || c.leaf == nil || c.leaf.kind != KindByteCount {
		t.fail(key, "missing or not a bytecount")
		return 0, false
	}
	return c.leaf.u, true
}

func (t *Tree) String(key string) (string, bool) {
	c := t.Get(key)
	if c == nil || c.leaf == nil || c.leaf.kind != KindString {
		t.fail(key, "missing or not a string")
		return "", false
	}
	return c.leaf.s, true
}

func (t *Tree) CRC32(key string) (uint32, bool) {
	c := t.Get(key)
	if c == nil || c.leaf == nil || c.leaf.kind != KindCRC32 {
		t.fail(key, "missing or not a crc32")
		return 0, false
	}
	return c.leaf.crc, true
}

// IsLeaf reports whether this node itself carries a scalar.
func (t *Tree) IsLeaf() bool {
	return t != nil && t.leaf != nil
}

// Merge deep-copies src's children into dst, leaving src untouched
// (spec.md §4.1 "Merge is non-destructive on the source").
func (dst *Tree) Merge(src *Tree) {
	if src == nil {
		return
	}
	dst.ensure()
	for _, k := range src.keys {
		dst.Set(k, src.children[k].Clone())
	}
}

// Clone returns a deep copy of t.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	out := New()
	if t.leaf != nil {
		l := *t.leaf
		out.leaf = &l
	}
	for _, k := range t.keys {
		out.Set(k, t.children[k].Clone())
	}
	return out
}
