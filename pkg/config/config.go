// Package config loads the fetch core's process-wide knobs from a JSON
// document using typed accessors in the style of perkeep's
// pkg/jsonconfig: RequiredString reports a missing or mistyped key
// through its ok result, the Optional* accessors fall back to a default,
// and Load returns an error for a missing required key. There is no
// separate validation step.
package config

import (
	"encoding/json"
	"fmt"
	"io"
)

// Obj is a JSON configuration map, generalized from jsonconfig.Obj.
type Obj map[string]interface{}

// Parse reads and decodes a JSON document into an Obj.
func Parse(r io.Reader) (Obj, error) {
	var m map[string]interface{}
	dec := json.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return Obj(m), nil
}

func (o Obj) RequiredString(key string) (string, bool) {
	v, ok := o[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (o Obj) OptionalString(key, def string) string {
	if s, ok := o.RequiredString(key); ok {
		return s
	}
	return def
}

func (o Obj) OptionalInt(key string, def int64) int64 {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	default:
		return def
	}
}

func (o Obj) OptionalBool(key string, def bool) bool {
	v, ok := o[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// Config is the resolved, typed set of knobs consumed by the core
// (spec.md §6 "Configuration knobs consumed").
type Config struct {
	// BufSize is the I/O chunk size used by the File Copier and
	// Container Reader. Recommended >= 1 MiB.
	BufSize int

	// CRCOnFlush enables CRC32 computation during fetch and enforces
	// stored values when true.
	CRCOnFlush bool

	// FetchWidth is the sliding-window size w for the Flow Controller,
	// clamped to world_size-1 by the caller.
	FetchWidth int

	// Prefix is the PFS prefix directory holding the index and
	// checkpoint subdirectories.
	Prefix string

	// CacheBase is the root under which per-dataset cache directories
	// are created.
	CacheBase string
}

const (
	defaultBufSize    = 1 << 20 // 1 MiB
	defaultFetchWidth = 8
)

// Load resolves a Config from a parsed JSON document, applying defaults
// for anything absent. Prefix and CacheBase are required.
func Load(o Obj) (Config, error) {
	var c Config
	prefix, ok := o.RequiredString("prefix")
	if !ok || prefix == "" {
		return Config{}, fmt.Errorf("config: missing required key %q", "prefix")
	}
	cacheBase, ok := o.RequiredString("cache_base")
	if !ok || cacheBase == "" {
		return Config{}, fmt.Errorf("config: missing required key %q", "cache_base")
	}
	c.Prefix = prefix
	c.CacheBase = cacheBase
	c.BufSize = int(o.OptionalInt("buf_size", defaultBufSize))
	c.CRCOnFlush = o.OptionalBool("crc_on_flush", true)
	c.FetchWidth = int(o.OptionalInt("fetch_width", defaultFetchWidth))
	if c.BufSize <= 0 {
		c.BufSize = defaultBufSize
	}
	if c.FetchWidth <= 0 {
		c.FetchWidth = defaultFetchWidth
	}
	return c, nil
}

// Clamp bounds FetchWidth to worldSize-1, per spec.md §4.6.
func (c *Config) Clamp(worldSize int) {
	max := worldSize - 1
	if max < 1 {
		max = 1
	}
	if c.FetchWidth > max {
		c.FetchWidth = max
	}
}
