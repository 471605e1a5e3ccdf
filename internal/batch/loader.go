package batch

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/driftchat/driftchat/internal/cache"
	"github.com/driftchat/driftchat/internal/config"
	"github.com/driftchat/driftchat/internal/events"
	"github.com/driftchat/driftchat/internal/ops"
)

// Querier is the one-shot relay fetch capability the loader depends on
type Querier interface {
	Query(ctx context.Context, filters nostr.Filters, timeout time.Duration) ([]*nostr.Event, error)
	BackgroundTimeout() time.Duration
}

// Loader coalesces per-message "fetch reactions/comments for event X"
// requests into windowed batches per community, so high interactivity
// (hover, scrolling, tab switching) costs a bounded number of relay
// queries. Results land in the event cache; failures only leave the
// cache cold.
type Loader struct {
	querier   Querier
	cache     *cache.Cache
	cfg       *config.Batch
	freshness time.Duration
	logger    *ops.Logger
	ctx       context.Context

	pending  *xsync.MapOf[string, *communityBatch]
	inflight *xsync.MapOf[string, *inflightQuery]
	wg       sync.WaitGroup
}

type communityBatch struct {
	mu        sync.Mutex
	ids       map[string]struct{}
	debounced func(func())
}

type inflightQuery struct {
	done chan struct{}
	err  error
}

// NewLoader creates a related-event loader. freshness is the window
// within which a cached id is served without re-fetching.
func NewLoader(ctx context.Context, querier Querier, c *cache.Cache, cfg *config.Batch, freshness time.Duration, logger *ops.Logger) *Loader {
	return &Loader{
		querier:   querier,
		cache:     c,
		cfg:       cfg,
		freshness: freshness,
		logger:    logger.WithComponent("batch"),
		ctx:       ctx,
		pending:   xsync.NewMapOf[string, *communityBatch](),
		inflight:  xsync.NewMapOf[string, *inflightQuery](),
	}
}

// Request enqueues event ids whose related events (reactions, comments)
// should be fetched. Ids already fresh in the cache are skipped; the
// rest join the community's pending batch, which flushes after the
// debounce window or as soon as it reaches the maximum batch size.
func (l *Loader) Request(communityID string, eventIDs ...string) {
	batch, _ := l.pending.LoadOrCompute(communityID, func() *communityBatch {
		return &communityBatch{
			ids:       make(map[string]struct{}),
			debounced: debounce.New(time.Duration(l.cfg.WindowMs) * time.Millisecond),
		}
	})

	batch.mu.Lock()
	for _, id := range eventIDs {
		if l.cache != nil && l.cache.Fresh(id, l.freshness) {
			continue
		}
		batch.ids[id] = struct{}{}
	}
	size := len(batch.ids)
	batch.mu.Unlock()

	if size == 0 {
		return
	}
	if size >= l.cfg.MaxIDs {
		// Full batch: flush now rather than letting the queue grow
		l.flush(communityID, batch, "full")
		return
	}
	batch.debounced(func() {
		l.flush(communityID, batch, "window")
	})
}

// flush drains the pending batch and issues one combined query for it.
// A batch whose signature matches a query already in flight is dropped;
// the in-flight result will populate the cache for both callers.
func (l *Loader) flush(communityID string, batch *communityBatch, reason string) {
	batch.mu.Lock()
	if len(batch.ids) == 0 {
		batch.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(batch.ids))
	for id := range batch.ids {
		ids = append(ids, id)
	}
	batch.ids = make(map[string]struct{})
	batch.mu.Unlock()

	sort.Strings(ids)
	signature := communityID + "|" + strings.Join(ids, ",")

	query := &inflightQuery{done: make(chan struct{})}
	if _, loaded := l.inflight.LoadOrStore(signature, query); loaded {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(query.done)
		defer l.inflight.Delete(signature)

		filters := nostr.Filters{{
			Kinds: events.RelatedKinds(),
			Tags:  nostr.TagMap{"e": ids},
		}}

		results, err := l.querier.Query(l.ctx, filters, l.querier.BackgroundTimeout())
		if err != nil {
			query.err = err
			l.logger.LogBatchFlush(communityID, len(ids), reason, err)
			return
		}

		if l.cache != nil {
			if cacheErr := l.cache.PutMany(l.ctx, results); cacheErr != nil {
				query.err = cacheErr
				l.logger.LogBatchFlush(communityID, len(ids), reason, cacheErr)
				return
			}
		}
		l.logger.LogBatchFlush(communityID, len(ids), reason, nil)
	}()
}

// Wait blocks until every in-flight batch query has completed; used by
// tests and shutdown
func (l *Loader) Wait() {
	l.wg.Wait()
}
