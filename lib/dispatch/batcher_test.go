package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fiffu/regwatch/config"
	"github.com/fiffu/regwatch/lib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type batchCall struct {
	channelID uint
	changes   models.Changes
}

type fakeBatchDispatcher struct {
	mu    sync.Mutex
	calls []batchCall
}

func (f *fakeBatchDispatcher) DispatchBatchByChannel(ctx context.Context, channelID uint, changes models.Changes) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, batchCall{channelID, changes})
	return nil
}

func (f *fakeBatchDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBatchDispatcher) call(i int) batchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func newTestBatcher(maxBatchSize int, batchWindow time.Duration) (*Batcher, *fakeBatchDispatcher) {
	cfg := &config.Config{}
	cfg.Dispatch.MaxBatchSize = maxBatchSize
	cfg.Dispatch.BatchWindow = batchWindow

	fake := &fakeBatchDispatcher{}
	return NewBatcher(cfg, zap.NewNop(), fake), fake
}

func numberedChange(id uint) models.Change {
	return models.Change{ID: id, ServerName: "acme/tool", ChangeType: models.ChangeTypeVersionBump}
}

func TestBatcherFlushesAtMaxSize(t *testing.T) {
	b, fake := newTestBatcher(10, 30*time.Second)
	ctx := context.Background()

	for i := uint(1); i <= 10; i++ {
		b.Add(ctx, 1, numberedChange(i))
	}

	assert.Eventually(t, func() bool { return fake.callCount() == 1 }, time.Second, 5*time.Millisecond)

	call := fake.call(0)
	assert.Equal(t, uint(1), call.channelID)
	assert.Len(t, call.changes, 10)
	assert.Equal(t, 0, b.Buffered())
}

func TestBatcherHoldsBelowMaxSize(t *testing.T) {
	b, fake := newTestBatcher(10, 30*time.Second)
	ctx := context.Background()

	for i := uint(1); i <= 3; i++ {
		b.Add(ctx, 1, numberedChange(i))
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, fake.callCount())
	assert.Equal(t, 3, b.Buffered())
}

func TestBatcherBuffersPerChannel(t *testing.T) {
	b, fake := newTestBatcher(10, 30*time.Second)
	ctx := context.Background()

	for i := uint(1); i <= 6; i++ {
		b.Add(ctx, 1, numberedChange(i))
		b.Add(ctx, 2, numberedChange(i))
	}

	// Twelve items total but neither channel reached ten.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, fake.callCount())
	assert.Equal(t, 12, b.Buffered())
}

func TestFlushOldOnlyFlushesStaleItems(t *testing.T) {
	b, fake := newTestBatcher(10, 50*time.Millisecond)
	ctx := context.Background()

	b.Add(ctx, 1, numberedChange(1))
	b.Add(ctx, 1, numberedChange(2))
	b.Add(ctx, 1, numberedChange(3))

	time.Sleep(60 * time.Millisecond)
	b.Add(ctx, 1, numberedChange(4)) // fresh, stays buffered

	b.FlushOld(ctx)

	require.Equal(t, 1, fake.callCount())
	assert.Len(t, fake.call(0).changes, 3)
	assert.Equal(t, 1, b.Buffered())
}

func TestFlushOldNoStaleItemsNoCalls(t *testing.T) {
	b, fake := newTestBatcher(10, 30*time.Second)
	ctx := context.Background()

	b.Add(ctx, 1, numberedChange(1))
	b.FlushOld(ctx)

	assert.Equal(t, 0, fake.callCount())
	assert.Equal(t, 1, b.Buffered())
}

func TestFlushDrainsEverything(t *testing.T) {
	b, fake := newTestBatcher(10, 30*time.Second)
	ctx := context.Background()

	b.Add(ctx, 1, numberedChange(1))
	b.Add(ctx, 1, numberedChange(2))
	b.Add(ctx, 2, numberedChange(3))

	b.Flush(ctx)

	assert.Equal(t, 2, fake.callCount())
	total := len(fake.call(0).changes) + len(fake.call(1).changes)
	assert.Equal(t, 3, total)
	assert.Equal(t, 0, b.Buffered())
}
