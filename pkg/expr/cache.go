// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package expr

import "sync"

// Cache memoizes compiled expressions by source string. Compilation runs
// once per string even under concurrent lookups; callers racing on the
// same string block on the first compilation instead of duplicating it.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	once     sync.Once
	compiled *Compiled
	err      error
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry)}
}

// Get returns the compiled form of input, compiling on first use.
func (c *Cache) Get(input string) (*Compiled, error) {
	c.mu.Lock()
	e, ok := c.entries[input]
	if !ok {
		e = &cacheEntry{}
		c.entries[input] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.compiled, e.err = Compile(input)
	})
	return e.compiled, e.err
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
