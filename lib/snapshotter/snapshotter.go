package snapshotter

import (
	"sync"

	"github.com/fiffu/regwatch/config"
	"github.com/fiffu/regwatch/lib/dispatch"
	"github.com/fiffu/regwatch/lib/match"
	"github.com/fiffu/regwatch/lib/registry"
	"github.com/fiffu/regwatch/lib/store"
	"go.uber.org/zap"
)

// Snapshotter drives the poll loop: capture the registry, persist a
// snapshot, diff it against the previous one, and hand matched changes to
// the batcher. Cycles never overlap, whether started by the scheduler or
// triggered manually.
type Snapshotter struct {
	cfg      *config.Config
	log      *zap.Logger
	registry registry.Client
	store    store.Store
	matcher  *match.Matcher
	batcher  *dispatch.Batcher
	metrics  MetricVecs

	mu sync.Mutex
}

func NewSnapshotter(
	cfg *config.Config,
	log *zap.Logger,
	client registry.Client,
	db store.Store,
	matcher *match.Matcher,
	batcher *dispatch.Batcher,
	metrics MetricVecs,
) *Snapshotter {
	return &Snapshotter{
		cfg:      cfg,
		log:      log,
		registry: client,
		store:    db,
		matcher:  matcher,
		batcher:  batcher,
		metrics:  metrics,
	}
}
