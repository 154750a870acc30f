// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sensorlogic/reflex/pkg/telemetry"
)

// Batch collects the effects of one cycle: a pending write map and an
// ordered message list. Rules write through the program.Sink interface;
// within a cycle the last write of a key wins, in group order then action
// order.
type Batch struct {
	mu       sync.Mutex
	writes   map[string]float64
	messages []Message
}

// Message is one pending send_message action.
type Message struct {
	Channel string
	Payload string
}

// NewBatch returns an empty per-cycle batch.
func NewBatch() *Batch {
	return &Batch{writes: make(map[string]float64)}
}

// SetValue implements program.Sink.
func (b *Batch) SetValue(key string, value float64) {
	b.mu.Lock()
	b.writes[key] = value
	b.mu.Unlock()
}

// SendMessage implements program.Sink.
func (b *Batch) SendMessage(channel, message string) {
	b.mu.Lock()
	b.messages = append(b.messages, Message{Channel: channel, Payload: message})
	b.mu.Unlock()
}

// Writes returns the pending write map.
func (b *Batch) Writes() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.writes))
	for k, v := range b.writes {
		out[k] = v
	}
	return out
}

// Messages returns the pending messages in emission order.
func (b *Batch) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message{}, b.messages...)
}

// Executor flushes cycle batches to the store.
type Executor struct {
	store   Store
	log     *zap.Logger
	metrics *telemetry.Metrics
}

// NewExecutor builds an executor over st.
func NewExecutor(st Store, log *zap.Logger, metrics *telemetry.Metrics) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = telemetry.New(nil)
	}
	return &Executor{store: st, log: log, metrics: metrics}
}

// Flush persists the batch: first the write map as one atomic store
// transaction, then the messages. A failed write batch is discarded
// whole; the next cycle re-derives it from fresh inputs, so there is no
// retry carry-over. Message failures do not fail the flush.
func (x *Executor) Flush(ctx context.Context, batch *Batch) error {
	writes := batch.Writes()
	if len(writes) > 0 {
		if err := x.store.SetOutputs(ctx, writes); err != nil {
			x.metrics.FlushFailures.Inc()
			x.log.Warn("output batch flush failed, discarding",
				zap.Int("writes", len(writes)), zap.Error(err))
			return err
		}
		x.metrics.WritesFlushed.Add(float64(len(writes)))
	}

	for _, m := range batch.Messages() {
		if err := x.store.Publish(ctx, m.Channel, m.Payload); err != nil {
			x.log.Warn("message publish failed",
				zap.String("channel", m.Channel), zap.Error(err))
			continue
		}
		x.metrics.MessagesSent.Inc()
	}
	return nil
}
