// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

// Package temporal maintains bounded per-sensor sample history for
// threshold-over-time evaluation.
//
// Each sensor gets a fixed-capacity ring buffer of timestamped samples.
// Appends are gated by a sampling period so that buffer granularity is
// decoupled from the cycle rate: a sample is kept only if at least one
// sampling period elapsed since the previous kept sample.
package temporal

import (
	"sync"
	"time"
)

// DefaultCapacity is the per-sensor ring capacity used when no explicit
// capacity was derived for a sensor.
const DefaultCapacity = 100

// Sample is one timestamped sensor reading.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Reader is the read side of the buffer service, consumed by the
// threshold-over-time evaluator.
type Reader interface {
	// Window returns the samples of key whose timestamps lie in
	// [now-duration, now], in chronological order. Both edges are
	// inclusive. An unknown key yields nil.
	Window(key string, duration time.Duration, now time.Time) []Sample
}

// Options configures a Service.
type Options struct {
	// SamplingPeriod is the minimum gap between two kept samples of the
	// same sensor.
	SamplingPeriod time.Duration

	// DefaultCapacity is the ring capacity for sensors absent from
	// Capacities. Zero means DefaultCapacity.
	DefaultCapacity int

	// Capacities overrides the ring capacity per sensor, typically
	// ceil(max window / sampling period) plus a margin, as derived by the
	// rule validator.
	Capacities map[string]int
}

// Service owns the per-sensor ring buffers. Buffers are created lazily on
// the first sample of a sensor and live for the life of the service. All
// methods are safe for concurrent use; locking is sharded per sensor.
type Service struct {
	opts Options

	mu      sync.RWMutex
	buffers map[string]*ring
}

// NewService returns an empty buffer service.
func NewService(opts Options) *Service {
	if opts.DefaultCapacity <= 0 {
		opts.DefaultCapacity = DefaultCapacity
	}
	return &Service{
		opts:    opts,
		buffers: make(map[string]*ring),
	}
}

// Update offers a sample for key. The sample is dropped when less than one
// sampling period elapsed since the last kept sample of that key.
func (s *Service) Update(key string, value float64, now time.Time) {
	b := s.buffer(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.last.IsZero() && now.Sub(b.last) < s.opts.SamplingPeriod {
		return
	}
	b.last = now
	b.push(Sample{Timestamp: now, Value: value})
}

// Window implements Reader.
func (s *Service) Window(key string, duration time.Duration, now time.Time) []Sample {
	s.mu.RLock()
	b, ok := s.buffers[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Lazy trim: anything older than the ring's retention horizon is gone
	// for every possible window and can be dropped for good.
	retention := time.Duration(b.capacity()) * s.opts.SamplingPeriod
	if retention > 0 {
		b.trimBefore(now.Add(-retention))
	}

	cutoff := now.Add(-duration)
	var out []Sample
	b.each(func(sm Sample) {
		if !sm.Timestamp.Before(cutoff) && !sm.Timestamp.After(now) {
			out = append(out, sm)
		}
	})
	return out
}

// Len returns the number of retained samples for key. Test helper.
func (s *Service) Len(key string) int {
	s.mu.RLock()
	b, ok := s.buffers[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (s *Service) buffer(key string) *ring {
	s.mu.RLock()
	b, ok := s.buffers[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buffers[key]; ok {
		return b
	}
	capacity := s.opts.DefaultCapacity
	if c, ok := s.opts.Capacities[key]; ok && c > 0 {
		capacity = c
	}
	b = &ring{samples: make([]Sample, capacity)}
	s.buffers[key] = b
	return b
}

// ring is a fixed-capacity circular buffer in chronological order. The
// oldest sample is overwritten once the ring is full.
type ring struct {
	mu      sync.Mutex
	samples []Sample
	head    int // index of the oldest sample
	count   int
	last    time.Time // timestamp of the last kept sample
}

func (r *ring) capacity() int { return len(r.samples) }

func (r *ring) push(sm Sample) {
	if r.count < len(r.samples) {
		r.samples[(r.head+r.count)%len(r.samples)] = sm
		r.count++
		return
	}
	r.samples[r.head] = sm
	r.head = (r.head + 1) % len(r.samples)
}

func (r *ring) trimBefore(cutoff time.Time) {
	for r.count > 0 && r.samples[r.head].Timestamp.Before(cutoff) {
		r.head = (r.head + 1) % len(r.samples)
		r.count--
	}
}

func (r *ring) each(fn func(Sample)) {
	for i := 0; i < r.count; i++ {
		fn(r.samples[(r.head+i)%len(r.samples)])
	}
}
