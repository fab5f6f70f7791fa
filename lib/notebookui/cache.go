// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package notebookui

import (
	"encoding/binary"
	"sync"

	"github.com/zeebo/blake3"
)

// defaultCacheLimit bounds cache entries. Rendering is pure, so
// eviction only costs a re-render; wholesale reset keeps the
// bookkeeping trivial.
const defaultCacheLimit = 512

// RenderCache memoizes rendered cell and output text. Markdown and
// chroma rendering are the expensive part of redrawing a transcript;
// the inputs (content, width, style) fully determine the output, so
// results are keyed by a BLAKE3 digest of exactly those inputs.
type RenderCache struct {
	mu      sync.Mutex
	entries map[cacheKey]string
	limit   int
}

type cacheKey [32]byte

// NewRenderCache returns a cache holding at most limit entries.
// A limit of zero or less uses the default.
func NewRenderCache(limit int) *RenderCache {
	if limit <= 0 {
		limit = defaultCacheLimit
	}
	return &RenderCache{
		entries: make(map[cacheKey]string),
		limit:   limit,
	}
}

// Rendered returns the memoized rendering for (kind, content, width,
// style), invoking render on a miss. kind separates key spaces that
// share content, say a cell's source rendered both as markdown and as
// a raw block.
func (c *RenderCache) Rendered(kind, content string, width int, style string, render func() string) string {
	key := renderKey(kind, content, width, style)

	c.mu.Lock()
	if cached, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	result := render()

	c.mu.Lock()
	if len(c.entries) >= c.limit {
		c.entries = make(map[cacheKey]string)
	}
	c.entries[key] = result
	c.mu.Unlock()
	return result
}

// Len reports the number of cached entries.
func (c *RenderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// renderKey hashes the render inputs. Fields are length-prefixed so
// adjacent inputs cannot collide by shifting bytes between them.
func renderKey(kind, content string, width int, style string) cacheKey {
	hasher := blake3.New()
	var scratch [8]byte
	writeField := func(s string) {
		binary.LittleEndian.PutUint64(scratch[:], uint64(len(s)))
		hasher.Write(scratch[:])
		hasher.WriteString(s)
	}
	writeField(kind)
	writeField(content)
	binary.LittleEndian.PutUint64(scratch[:], uint64(width))
	hasher.Write(scratch[:])
	writeField(style)

	var key cacheKey
	hasher.Digest().Read(key[:])
	return key
}
