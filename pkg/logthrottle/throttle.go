// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

// Package logthrottle rate-limits repetitive log emissions.
//
// Cycle-rate components (store adapter, evaluators) can produce the same
// warning hundreds of times per second; a Throttler allows one emission per
// key per window and swallows the rest.
package logthrottle

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// DefaultWindow is the default suppression window per key.
const DefaultWindow = 60 * time.Second

// Throttler tracks recently emitted keys.
type Throttler struct {
	seen *cache.Cache
}

// New returns a Throttler with the given suppression window. A zero or
// negative window falls back to DefaultWindow.
func New(window time.Duration) *Throttler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Throttler{
		seen: cache.New(window, 2*window),
	}
}

// Allow reports whether a log keyed by key may be emitted now. The first
// call for a key within a window returns true, subsequent calls false.
func (t *Throttler) Allow(key string) bool {
	return t.seen.Add(key, struct{}{}, cache.DefaultExpiration) == nil
}
