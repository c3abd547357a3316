package dispatch

import (
	"sync"
	"time"
)

// RetryEntry is one failed delivery waiting for its backoff to elapse.
type RetryEntry struct {
	ChannelID uint
	ChangeID  uint
	Attempts  int
	NextRetry time.Time
	LastError string
}

// RetryQueue holds deliveries awaiting redelivery, keyed by (channel,
// change). A linear scan per sweep is fine at the channel counts we run at.
type RetryQueue struct {
	mu      sync.Mutex
	entries []RetryEntry

	baseDelay time.Duration
	maxDelay  time.Duration
}

func NewRetryQueue(baseDelay, maxDelay time.Duration) *RetryQueue {
	return &RetryQueue{
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}
}

// EnqueueRetry records a failed delivery. Any existing entry for the same
// (channel, change) pair is replaced with its attempt count carried forward,
// and the next retry scheduled baseDelay * 2^(attempts-1) from now, capped
// at maxDelay.
func (q *RetryQueue) EnqueueRetry(channelID, changeID uint, lastError string) RetryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	attempts := 1
	if i := q.indexOf(channelID, changeID); i >= 0 {
		attempts = q.entries[i].Attempts + 1
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
	}

	entry := RetryEntry{
		ChannelID: channelID,
		ChangeID:  changeID,
		Attempts:  attempts,
		NextRetry: time.Now().UTC().Add(q.backoff(attempts)),
		LastError: lastError,
	}
	q.entries = append(q.entries, entry)
	return entry
}

// RequeueAfterFailure schedules the next attempt for an entry a sweep has
// already claimed, growing the backoff from the entry's own attempt count.
// EnqueueRetry can't serve here: the claimed entry is no longer in the queue,
// so it would restart the count at one.
func (q *RetryQueue) RequeueAfterFailure(entry RetryEntry, lastError string) RetryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	attempts := entry.Attempts + 1
	next := RetryEntry{
		ChannelID: entry.ChannelID,
		ChangeID:  entry.ChangeID,
		Attempts:  attempts,
		NextRetry: time.Now().UTC().Add(q.backoff(attempts)),
		LastError: lastError,
	}
	if i := q.indexOf(entry.ChannelID, entry.ChangeID); i >= 0 {
		q.entries[i] = next
	} else {
		q.entries = append(q.entries, next)
	}
	return next
}

// ReAdd returns entries to the queue unchanged, preserving their attempt
// counts and schedules. Used to reseed after a restart, to park entries
// whose breaker is open, and to hand back unprocessed items when a sweep is
// cancelled.
func (q *RetryQueue) ReAdd(entries ...RetryEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range entries {
		if i := q.indexOf(e.ChannelID, e.ChangeID); i >= 0 {
			q.entries[i] = e
			continue
		}
		q.entries = append(q.entries, e)
	}
}

// TakeReady removes and returns every entry whose next retry is due, leaving
// the rest queued. The lock is held only for the partition itself.
func (q *RetryQueue) TakeReady(now time.Time) []RetryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready, waiting []RetryEntry
	for _, e := range q.entries {
		if now.After(e.NextRetry) {
			ready = append(ready, e)
		} else {
			waiting = append(waiting, e)
		}
	}
	q.entries = waiting
	return ready
}

func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// indexOf requires q.mu to be held.
func (q *RetryQueue) indexOf(channelID, changeID uint) int {
	for i, e := range q.entries {
		if e.ChannelID == channelID && e.ChangeID == changeID {
			return i
		}
	}
	return -1
}

func (q *RetryQueue) backoff(attempts int) time.Duration {
	d := q.baseDelay
	for i := 1; i < attempts && d < q.maxDelay; i++ {
		d *= 2
	}
	if d > q.maxDelay {
		d = q.maxDelay
	}
	return d
}
