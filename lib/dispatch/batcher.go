package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/fiffu/regwatch/config"
	"github.com/fiffu/regwatch/lib/models"
	"go.uber.org/zap"
)

// BatchDispatcher is the downstream a batcher flushes into.
type BatchDispatcher interface {
	DispatchBatchByChannel(ctx context.Context, channelID uint, changes models.Changes) error
}

type batchItem struct {
	change  models.Change
	addedAt time.Time
}

// Batcher coalesces deliveries per channel so a bursty poll cycle produces a
// few grouped sends instead of one message per change. A buffer flushes when
// it reaches maxBatchSize; the periodic sweep flushes anything that has been
// sitting longer than batchWindow.
type Batcher struct {
	log        *zap.Logger
	dispatcher BatchDispatcher

	mu      sync.Mutex
	buffers map[uint][]batchItem

	maxBatchSize int
	batchWindow  time.Duration
}

func NewBatcher(cfg *config.Config, log *zap.Logger, dispatcher BatchDispatcher) *Batcher {
	return &Batcher{
		log:          log,
		dispatcher:   dispatcher,
		buffers:      make(map[uint][]batchItem),
		maxBatchSize: cfg.Dispatch.MaxBatchSize,
		batchWindow:  cfg.Dispatch.BatchWindow,
	}
}

// Add buffers a change for a channel. Reaching maxBatchSize triggers an
// asynchronous flush of that channel's buffer.
func (b *Batcher) Add(ctx context.Context, channelID uint, change models.Change) {
	b.mu.Lock()
	b.buffers[channelID] = append(b.buffers[channelID], batchItem{
		change:  change,
		addedAt: time.Now().UTC(),
	})

	var full models.Changes
	if len(b.buffers[channelID]) >= b.maxBatchSize {
		full = b.drain(channelID)
	}
	b.mu.Unlock()

	if len(full) > 0 {
		go b.flushChannel(ctx, channelID, full)
	}
}

// FlushOld dispatches every buffered item older than batchWindow, leaving
// newer items to keep accumulating. Runs on the periodic flush tick.
func (b *Batcher) FlushOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-b.batchWindow)

	b.mu.Lock()
	aged := make(map[uint]models.Changes)
	for channelID, items := range b.buffers {
		var old models.Changes
		var fresh []batchItem
		for _, item := range items {
			if item.addedAt.Before(cutoff) {
				old = append(old, item.change)
			} else {
				fresh = append(fresh, item)
			}
		}
		if len(old) == 0 {
			continue
		}
		aged[channelID] = old
		if len(fresh) > 0 {
			b.buffers[channelID] = fresh
		} else {
			delete(b.buffers, channelID)
		}
	}
	b.mu.Unlock()

	for channelID, changes := range aged {
		b.flushChannel(ctx, channelID, changes)
	}
}

// Flush drains and dispatches everything immediately, channel by channel.
// Called on shutdown so buffered notifications are not lost.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	drained := make(map[uint]models.Changes, len(b.buffers))
	for channelID := range b.buffers {
		if changes := b.drain(channelID); len(changes) > 0 {
			drained[channelID] = changes
		}
	}
	b.mu.Unlock()

	for channelID, changes := range drained {
		b.flushChannel(ctx, channelID, changes)
	}
}

// Buffered reports how many items are waiting across all channels.
func (b *Batcher) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, items := range b.buffers {
		n += len(items)
	}
	return n
}

// drain requires b.mu to be held.
func (b *Batcher) drain(channelID uint) models.Changes {
	items := b.buffers[channelID]
	if len(items) == 0 {
		return nil
	}
	delete(b.buffers, channelID)

	changes := make(models.Changes, 0, len(items))
	for _, item := range items {
		changes = append(changes, item.change)
	}
	return changes
}

func (b *Batcher) flushChannel(ctx context.Context, channelID uint, changes models.Changes) {
	if err := b.dispatcher.DispatchBatchByChannel(ctx, channelID, changes); err != nil {
		b.log.Sugar().Warnf("Batch flush for channel %d finished with error: %v", channelID, err)
	}
}
