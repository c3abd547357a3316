package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fiffu/regwatch/config"
	"github.com/fiffu/regwatch/lib/models"
	"github.com/fiffu/regwatch/lib/store"
	"github.com/fiffu/regwatch/senders"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrNoSender means the channel's type has no registered sender. The
	// channel is inert until its configuration is fixed; retrying won't help.
	ErrNoSender = errors.New("no sender registered")

	// ErrCircuitOpen means the channel's breaker refused the send. Not a
	// delivery failure: the attempt is skipped and costs no retry budget.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Dispatcher fans changes out to delivery channels. A single weighted
// semaphore bounds sends across every channel, per-channel circuit breakers
// suspend flapping targets, and failures feed the retry queue.
type Dispatcher struct {
	cfg      *config.Config
	log      *zap.Logger
	store    store.Store
	senders  senders.Registry
	breakers *BreakerRegistry
	queue    *RetryQueue
	sem      *semaphore.Weighted
	metrics  MetricVecs
}

func NewDispatcher(cfg *config.Config, log *zap.Logger, db store.Store, reg senders.Registry, metrics MetricVecs) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		log:     log,
		store:   db,
		senders: reg,
		breakers: NewBreakerRegistry(
			cfg.Dispatch.BreakerFailureThreshold,
			cfg.Dispatch.BreakerTimeout,
			cfg.Dispatch.BreakerSuccessThreshold,
		),
		queue:   NewRetryQueue(cfg.Dispatch.RetryBaseDelay, cfg.Dispatch.RetryMaxDelay),
		sem:     semaphore.NewWeighted(cfg.Dispatch.MaxConcurrentSends),
		metrics: metrics,
	}
}

// Dispatch delivers one change to one channel. A slot is acquired from the
// global send semaphore, a pending Notification is written, the sender runs,
// then the terminal outcome lands on the Notification and the Channel
// counters. Bookkeeping is best-effort: a failed write is logged, never used
// to roll back or repeat the external send.
func (d *Dispatcher) Dispatch(ctx context.Context, channel *models.Channel, change *models.Change) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	sender, ok := d.senders[channel.Type]
	if !ok {
		return fmt.Errorf("%w for channel type %q", ErrNoSender, channel.Type)
	}

	notif := d.pendingNotification(ctx, channel, change)

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Dispatch.SendTimeout)
	defer cancel()

	started := time.Now()
	sendErr := sender.Send(sendCtx, channel, change)
	d.metrics.observeSend(channel.Type, sendErr, time.Since(started))

	now := time.Now().UTC()
	if sendErr == nil {
		notif.Status = models.NotificationSent
		notif.SentAt = sql.NullTime{Time: now, Valid: true}
		notif.Error = ""
	} else {
		notif.Status = models.NotificationFailed
		notif.Error = sendErr.Error()
	}

	if err := d.store.SaveNotification(ctx, notif); err != nil {
		d.log.Sugar().Errorw("Failed to record notification outcome",
			"err", err, "channel_id", channel.ID, "change_id", change.ID)
	}
	if err := d.store.RecordChannelResult(ctx, channel.ID, sendErr == nil, now, notif.Error); err != nil {
		d.log.Sugar().Errorw("Failed to update channel counters", "err", err, "channel_id", channel.ID)
	}

	return sendErr
}

// DispatchWithCircuitBreaker consults the channel's breaker before sending.
// A refused send returns ErrCircuitOpen without attempting anything; a failed
// send is recorded on the breaker and queued for retry.
func (d *Dispatcher) DispatchWithCircuitBreaker(ctx context.Context, channel *models.Channel, change *models.Change) error {
	err := d.dispatchGuarded(ctx, channel, change)
	if err == nil || errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrNoSender) {
		return err
	}

	entry := d.queue.EnqueueRetry(channel.ID, change.ID, err.Error())
	d.persistNextRetry(ctx, channel.ID, change.ID, entry.NextRetry)
	d.metrics.setRetryDepth(d.queue.Len())
	return err
}

// dispatchGuarded runs one breaker-checked send and records its outcome on
// the breaker. Queueing decisions stay with the caller.
func (d *Dispatcher) dispatchGuarded(ctx context.Context, channel *models.Channel, change *models.Change) error {
	cb := d.breakers.For(channel.ID)
	if !cb.Allow() {
		return ErrCircuitOpen
	}

	err := d.Dispatch(ctx, channel, change)
	switch {
	case errors.Is(err, ErrNoSender):
		// Configuration problem, not a delivery outcome.
		d.log.Sugar().Errorf("No sender registered for channel %d (type %s)", channel.ID, channel.Type)
	case err != nil:
		cb.RecordFailure()
	default:
		cb.RecordSuccess()
	}
	return err
}

// DispatchBatch delivers several changes to one channel sequentially,
// attempting every item even when earlier ones fail. The last error is
// surfaced for alerting.
func (d *Dispatcher) DispatchBatch(ctx context.Context, channel *models.Channel, changes models.Changes) error {
	var lastErr error
	for i := range changes {
		if err := d.DispatchWithCircuitBreaker(ctx, channel, &changes[i]); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// DispatchBatchByChannel loads the channel then delegates to DispatchBatch.
func (d *Dispatcher) DispatchBatchByChannel(ctx context.Context, channelID uint, changes models.Changes) error {
	channel, err := d.store.GetChannelByID(ctx, channelID)
	if err != nil {
		return err
	}
	return d.DispatchBatch(ctx, channel, changes)
}

// TestChannel pushes a synthetic change through the channel to verify
// connectivity and credentials, bypassing subscription matching entirely.
func (d *Dispatcher) TestChannel(ctx context.Context, channel *models.Channel) error {
	now := time.Now().UTC()
	change := &models.Change{
		ServerName: "regwatch/test-server",
		ChangeType: models.ChangeTypeNew,
		NewVersion: "1.0.0",
		Server: &models.Server{
			Name:          "regwatch/test-server",
			Description:   "Synthetic server entry for channel verification",
			VersionDetail: models.VersionDetail{Version: "1.0.0", IsLatest: true},
		},
		DetectedAt: now,
	}
	return d.Dispatch(ctx, channel, change)
}

// ProcessRetryQueue re-attempts every delivery whose backoff has elapsed.
// Entries whose breaker is still open go back untouched; an entry that fails
// with its retry budget spent is dead-lettered. On cancellation mid-sweep the
// unprocessed remainder returns to the queue.
func (d *Dispatcher) ProcessRetryQueue(ctx context.Context) error {
	ready := d.queue.TakeReady(time.Now().UTC())

	var lastErr error
	for i, entry := range ready {
		if ctx.Err() != nil {
			d.queue.ReAdd(ready[i:]...)
			lastErr = ctx.Err()
			break
		}
		if err := d.retryOne(ctx, entry); err != nil {
			lastErr = err
		}
	}

	d.observeQueueGauges()
	return lastErr
}

func (d *Dispatcher) retryOne(ctx context.Context, entry RetryEntry) error {
	channel, err := d.store.GetChannelByID(ctx, entry.ChannelID)
	if errors.Is(err, store.ErrNotFound) {
		d.log.Sugar().Warnf("Dropping retry for deleted channel %d", entry.ChannelID)
		return nil
	} else if err != nil {
		d.queue.ReAdd(entry)
		return err
	}

	if !channel.Enabled {
		d.log.Sugar().Infof("Dropping retry for disabled channel %d", channel.ID)
		return nil
	}

	change, err := d.store.GetChangeByID(ctx, entry.ChangeID)
	if errors.Is(err, store.ErrNotFound) {
		d.log.Sugar().Warnf("Dropping retry for deleted change %d", entry.ChangeID)
		return nil
	} else if err != nil {
		d.queue.ReAdd(entry)
		return err
	}

	sendErr := d.dispatchGuarded(ctx, channel, change)
	switch {
	case sendErr == nil:
		return nil

	case errors.Is(sendErr, ErrCircuitOpen):
		// Skipped, not spent: the entry keeps its attempt count and waits
		// for the next sweep.
		d.queue.ReAdd(entry)
		return nil

	case errors.Is(sendErr, ErrNoSender):
		d.deadLetter(ctx, channel, entry, sendErr)
		return sendErr

	case entry.Attempts >= d.cfg.Dispatch.RetryMaxAttempts:
		d.deadLetter(ctx, channel, entry, sendErr)
		return sendErr

	default:
		next := d.queue.RequeueAfterFailure(entry, sendErr.Error())
		d.persistNextRetry(ctx, entry.ChannelID, entry.ChangeID, next.NextRetry)
		return sendErr
	}
}

// ReseedRetryQueue loads every non-terminal notification back into the retry
// queue, so deliveries interrupted by a restart are picked up again.
func (d *Dispatcher) ReseedRetryQueue(ctx context.Context) error {
	pending, err := d.store.GetPendingNotifications(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, n := range pending {
		next := now
		if n.NextRetry.Valid {
			next = n.NextRetry.Time
		}
		d.queue.ReAdd(RetryEntry{
			ChannelID: n.ChannelID,
			ChangeID:  n.ChangeID,
			Attempts:  n.Attempts,
			NextRetry: next,
			LastError: n.Error,
		})
	}

	if len(pending) > 0 {
		d.log.Sugar().Infof("Reseeded retry queue with %d pending notifications", len(pending))
	}
	d.observeQueueGauges()
	return nil
}

// RetryQueueDepth reports how many deliveries are waiting for redelivery.
func (d *Dispatcher) RetryQueueDepth() int {
	return d.queue.Len()
}

// BreakerState reports the current breaker state for a channel.
func (d *Dispatcher) BreakerState(channelID uint) BreakerState {
	return d.breakers.For(channelID).State()
}

func (d *Dispatcher) observeQueueGauges() {
	d.metrics.setRetryDepth(d.queue.Len())
	_, open := d.breakers.Counts()
	d.metrics.setBreakersOpen(open)
}

// deadLetter marks the delivery's notification terminal with the last error
// preserved. The entry itself is simply not re-queued.
func (d *Dispatcher) deadLetter(ctx context.Context, channel *models.Channel, entry RetryEntry, lastErr error) {
	d.log.Sugar().Warnf("Dead-lettering delivery to channel %d after %d attempts: %v",
		entry.ChannelID, entry.Attempts, lastErr)

	notif, err := d.store.GetNotification(ctx, entry.ChannelID, entry.ChangeID)
	if err != nil {
		d.log.Sugar().Errorw("Failed to load notification for dead-letter", "err", err)
		return
	}
	if notif == nil {
		notif = &models.Notification{
			SubscriptionID: channel.SubscriptionID,
			ChannelID:      entry.ChannelID,
			ChangeID:       entry.ChangeID,
			CreatedAt:      time.Now().UTC(),
		}
	}

	notif.Status = models.NotificationDeadLetter
	notif.Attempts = entry.Attempts
	notif.Error = lastErr.Error()
	notif.NextRetry = sql.NullTime{}

	if err := d.store.SaveNotification(ctx, notif); err != nil {
		d.log.Sugar().Errorw("Failed to write dead-letter notification", "err", err)
	}
}

// pendingNotification upserts the pending record for this delivery attempt,
// carrying the attempt count forward from any earlier try.
func (d *Dispatcher) pendingNotification(ctx context.Context, channel *models.Channel, change *models.Change) *models.Notification {
	notif := &models.Notification{
		SubscriptionID: channel.SubscriptionID,
		ChannelID:      channel.ID,
		ChangeID:       change.ID,
		Status:         models.NotificationPending,
		Attempts:       1,
		CreatedAt:      time.Now().UTC(),
	}

	existing, err := d.store.GetNotification(ctx, channel.ID, change.ID)
	if err != nil {
		d.log.Sugar().Errorw("Failed to load notification record",
			"err", err, "channel_id", channel.ID, "change_id", change.ID)
	} else if existing != nil {
		notif.ID = existing.ID
		notif.Attempts = existing.Attempts + 1
		notif.CreatedAt = existing.CreatedAt
	}

	if err := d.store.SaveNotification(ctx, notif); err != nil {
		d.log.Sugar().Errorw("Failed to write pending notification",
			"err", err, "channel_id", channel.ID, "change_id", change.ID)
	}
	return notif
}

// persistNextRetry mirrors the queue's schedule onto the notification row so
// the next attempt time is visible to operators. Best-effort.
func (d *Dispatcher) persistNextRetry(ctx context.Context, channelID, changeID uint, next time.Time) {
	notif, err := d.store.GetNotification(ctx, channelID, changeID)
	if err != nil || notif == nil {
		return
	}
	notif.NextRetry = sql.NullTime{Time: next, Valid: true}
	if err := d.store.SaveNotification(ctx, notif); err != nil {
		d.log.Sugar().Errorw("Failed to record next retry time", "err", err)
	}
}
