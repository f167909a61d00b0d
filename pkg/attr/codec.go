package attr

import (
	"encoding/json"
	"fmt"
)

// wireNode is the on-disk/on-wire shape of a Tree node: an ordered list
// of (key, node) pairs, so JSON's unordered object keys never lose the
// ordering spec.md §4.1 requires. This is the "stable serialisation"
// SPEC_FULL.md §3 calls for.
type wireNode struct {
	Kind     Kind        `json:"kind,omitempty"`
	Int      int64       `json:"int,omitempty"`
	Unsigned uint64      `json:"unsigned,omitempty"`
	String   string      `json:"string,omitempty"`
	CRC32    uint32      `json:"crc32,omitempty"`
	Children []wireEntry `json:"children,omitempty"`
}

type wireEntry struct {
	Key  string   `json:"key"`
	Node wireNode `json:"node"`
}

func (t *Tree) toWire() wireNode {
	var w wireNode
	if t.leaf != nil {
		w.Kind = t.leaf.kind
		switch t.leaf.kind {
		case KindInt:
			w.Int = t.leaf.i
		case KindUnsigned, KindByteCount:
			w.Unsigned = t.leaf.u
		case KindString:
			w.String = t.leaf.s
		case KindCRC32:
			w.CRC32 = t.leaf.crc
		}
	}
	for _, k := range t.keys {
		w.Children = append(w.Children, wireEntry{Key: k, Node: t.children[k].toWire()})
	}
	return w
}

func fromWire(w wireNode) *Tree {
	t := New()
	if w.Kind != KindNone {
		s := scalar{kind: w.Kind, i: w.Int, u: w.Unsigned, s: w.String, crc: w.CRC32}
		t.leaf = &s
	}
	for _, e := range w.Children {
		t.Set(e.Key, fromWire(e.Node))
	}
	return t
}

// Marshal encodes t to its stable JSON wire form.
func Marshal(t *Tree) ([]byte, error) {
	if t == nil {
		t = New()
	}
	b, err := json.Marshal(t.toWire())
	if err != nil {
		return nil, fmt.Errorf("attr: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a tree previously produced by Marshal.
func Unmarshal(b []byte) (*Tree, error) {
	var w wireNode
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("attr: unmarshal: %w", err)
	}
	return fromWire(w), nil
}
