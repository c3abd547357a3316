package snapshotter

import (
	"context"
	"fmt"
	"time"

	"github.com/fiffu/regwatch/lib/models"
)

// RunCycle performs one poll: capture the registry, persist a snapshot when
// its content digest moved, diff against the previous snapshot, and enqueue
// every matched change on the owning subscriptions' channels.
func (s *Snapshotter) RunCycle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now().UTC()

	m, outcome, err := s.runCycle(ctx, started)

	elapsed := time.Now().UTC().Sub(started)
	s.metrics.observeCycle(outcome, m, float64(elapsed.Milliseconds()))

	if err != nil {
		s.log.Sugar().Errorw("Poll cycle failed", "err", err)
		return err
	}

	s.purgeOldSnapshots(ctx, started)

	args := []any{"outcome", outcome}
	if n := m.totalChanges(); n > 0 {
		args = append(args, "changes", n, "matched", m.matched, "enqueued", m.enqueued)
	}
	args = append(args, "elapsed_msecs", int(elapsed.Milliseconds()))

	s.log.Sugar().Infow(
		fmt.Sprintf("Polled %d servers", m.servers),
		args...,
	)
	return nil
}

func (s *Snapshotter) runCycle(ctx context.Context, started time.Time) (*cycleMetrics, string, error) {
	m := &cycleMetrics{}

	servers, err := s.registry.ListServers(ctx)
	if err != nil {
		return m, "error", fmt.Errorf("listing registry servers: %w", err)
	}
	m.servers = len(servers)

	snap := models.NewSnapshot(started, servers)

	prev, err := s.store.GetLatestSnapshot(ctx)
	if err != nil {
		return m, "error", fmt.Errorf("loading latest snapshot: %w", err)
	}

	if prev != nil && prev.Hash == snap.Hash {
		return m, "unchanged", nil
	}

	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return m, "error", fmt.Errorf("saving snapshot: %w", err)
	}

	if prev == nil {
		// The first capture is a baseline. Announcing the entire registry
		// as "new" would flood every subscription on day one.
		s.log.Sugar().Infof("Recorded baseline snapshot with %d servers", m.servers)
		return m, "baseline", nil
	}

	if err := s.fanOut(ctx, Diff(prev, snap), m); err != nil {
		return m, "error", err
	}
	return m, "changed", nil
}

// fanOut persists each change, matches it against the active subscriptions,
// and buffers it on every enabled channel they own. Individual failures are
// logged and skipped so one bad row never stalls the rest of the cycle.
func (s *Snapshotter) fanOut(ctx context.Context, changes models.Changes, m *cycleMetrics) error {
	if len(changes) == 0 {
		return nil
	}

	subs, err := s.store.GetActiveSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("loading subscriptions: %w", err)
	}

	notifiedPerSub := make(map[uint]int64)

	for _, change := range changes {
		change := change
		if err := s.store.SaveChange(ctx, &change); err != nil {
			s.log.Sugar().Errorw("Failed to save change", "server", change.ServerName, "err", err)
			continue
		}
		m.countChange(change.ChangeType)

		matched := s.matcher.Match(&change, subs)
		m.matched += len(matched)

		for _, sub := range matched {
			enqueued := false
			for _, channel := range sub.Channels {
				if !channel.Enabled {
					continue
				}
				s.batcher.Add(ctx, channel.ID, change)
				m.enqueued++
				enqueued = true
			}
			if enqueued {
				notifiedPerSub[sub.ID]++
			}
		}
	}

	now := time.Now().UTC()
	for subID, count := range notifiedPerSub {
		if err := s.store.RecordSubscriptionNotified(ctx, subID, count, now); err != nil {
			s.log.Sugar().Errorw("Failed to update subscription counters", "subscription_id", subID, "err", err)
		}
	}
	return nil
}

func (s *Snapshotter) purgeOldSnapshots(ctx context.Context, batchStartTime time.Time) {
	retentionCutoff := batchStartTime.Add(-s.cfg.Poll.SnapshotTTL)

	purged, err := s.store.DeleteOldSnapshots(ctx, retentionCutoff)
	if err != nil {
		s.log.Sugar().Errorf("purgeOldSnapshots error: %+v", err)
		return
	}
	if purged > 0 {
		s.log.Sugar().Infof("Purged %d old snapshots", purged)
	}
}
