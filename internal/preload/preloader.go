package preload

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/driftchat/driftchat/internal/cache"
	"github.com/driftchat/driftchat/internal/config"
	"github.com/driftchat/driftchat/internal/events"
	"github.com/driftchat/driftchat/internal/ops"
)

// Role is the user's standing in a community; higher preloads first
type Role int

const (
	RoleMember Role = iota + 1
	RoleModerator
	RoleOwner
)

// Membership describes the user's standing in one community
type Membership struct {
	CommunityID string
	Role        Role
}

// MembershipProvider supplies the user's community memberships
type MembershipProvider interface {
	Memberships(ctx context.Context) ([]Membership, error)
}

// Querier is the one-shot relay fetch capability the preloader depends on
type Querier interface {
	Query(ctx context.Context, filters nostr.Filters, timeout time.Duration) ([]*nostr.Event, error)
	BackgroundTimeout() time.Duration
}

// Preloader warms the event cache ahead of navigation. Hover intent
// starts a short timer that is cancelled if the pointer leaves first;
// idle periods trigger a background walk over the user's communities in
// role-priority order. Preload failures never surface to the user; they
// only leave the cache cold.
type Preloader struct {
	querier     Querier
	cache       *cache.Cache
	memberships MembershipProvider
	cfg         *config.Preload
	pageSize    int
	freshness   time.Duration
	logger      *ops.Logger
	ctx         context.Context

	hoverTimers *xsync.MapOf[string, *time.Timer]
	lastLoaded  *xsync.MapOf[string, time.Time]
	activity    chan struct{}
	wg          sync.WaitGroup
	started     bool
	mu          sync.Mutex
}

// New creates a preloader
func New(ctx context.Context, querier Querier, c *cache.Cache, memberships MembershipProvider, cfg *config.Preload, pageSize int, freshness time.Duration, logger *ops.Logger) *Preloader {
	return &Preloader{
		querier:     querier,
		cache:       c,
		memberships: memberships,
		cfg:         cfg,
		pageSize:    pageSize,
		freshness:   freshness,
		logger:      logger.WithComponent("preload"),
		ctx:         ctx,
		hoverTimers: xsync.NewMapOf[string, *time.Timer](),
		lastLoaded:  xsync.NewMapOf[string, time.Time](),
		activity:    make(chan struct{}, 1),
	}
}

// Start launches the idle-preload loop
func (p *Preloader) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || !p.cfg.Enabled {
		return
	}
	p.started = true
	p.wg.Add(1)
	go p.run()
}

// Stop waits for background work to finish; cancellation comes from the
// context passed to New
func (p *Preloader) Stop() {
	p.hoverTimers.Range(func(key string, timer *time.Timer) bool {
		timer.Stop()
		return true
	})
	p.wg.Wait()
}

// NoteActivity resets the idle timer; call on any user-driven query
func (p *Preloader) NoteActivity() {
	select {
	case p.activity <- struct{}{}:
	default:
	}
}

// NoteLoaded records that a community's channel data was just fetched
// interactively; the community is skipped by hover and idle preloads
// until the cooldown and freshness windows pass
func (p *Preloader) NoteLoaded(communityID string) {
	p.lastLoaded.Store(communityID, time.Now())
}

// HoverStart arms an intent preload for the target; if the pointer
// leaves before the dwell delay elapses, nothing is fetched
func (p *Preloader) HoverStart(communityID, channelID string) {
	if !p.cfg.Enabled {
		return
	}
	target := communityID + "/" + channelID
	delay := time.Duration(p.cfg.HoverDelayMs) * time.Millisecond

	timer := time.AfterFunc(delay, func() {
		p.hoverTimers.Delete(target)
		p.preload("hover", communityID)
	})
	if prev, loaded := p.hoverTimers.LoadAndStore(target, timer); loaded {
		prev.Stop()
	}
}

// HoverEnd cancels a pending intent preload for the target
func (p *Preloader) HoverEnd(communityID, channelID string) {
	target := communityID + "/" + channelID
	if timer, loaded := p.hoverTimers.LoadAndDelete(target); loaded {
		timer.Stop()
	}
}

func (p *Preloader) run() {
	defer p.wg.Done()

	idleDelay := time.Duration(p.cfg.IdleDelayMs) * time.Millisecond
	idle := time.NewTimer(idleDelay)
	defer idle.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.activity:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleDelay)
		case <-idle.C:
			p.walk()
		}
	}
}

// walk preloads communities in priority order until the queue drains or
// new activity arrives
func (p *Preloader) walk() {
	memberships, err := p.memberships.Memberships(p.ctx)
	if err != nil {
		p.logger.LogPreload("idle", "", false, err)
		return
	}

	sort.SliceStable(memberships, func(i, j int) bool {
		return memberships[i].Role > memberships[j].Role
	})

	batchDelay := time.Duration(p.cfg.BatchDelayMs) * time.Millisecond
	inBatch := 0

	for _, membership := range memberships {
		select {
		case <-p.ctx.Done():
			return
		case <-p.activity:
			// User is active again; abandon the walk
			return
		default:
		}

		if !p.shouldPreload(membership.CommunityID) {
			p.logger.LogPreload("idle", membership.CommunityID, true, nil)
			continue
		}

		p.preload("idle", membership.CommunityID)
		inBatch++
		if inBatch >= p.cfg.BatchSize {
			inBatch = 0
			select {
			case <-p.ctx.Done():
				return
			case <-p.activity:
				return
			case <-time.After(batchDelay):
			}
		}
	}
}

// shouldPreload applies the per-community cooldown and freshness skip
func (p *Preloader) shouldPreload(communityID string) bool {
	last, ok := p.lastLoaded.Load(communityID)
	if !ok {
		return true
	}
	cooldown := time.Duration(p.cfg.CooldownSeconds) * time.Second
	if time.Since(last) < cooldown {
		return false
	}
	return time.Since(last) >= p.freshness
}

// preload fetches the community's default-channel page and metadata into
// the cache
func (p *Preloader) preload(kind, communityID string) {
	last, _ := p.lastLoaded.Load(communityID)
	cooldown := time.Duration(p.cfg.CooldownSeconds) * time.Second
	if time.Since(last) < cooldown {
		p.logger.LogPreload(kind, communityID, true, nil)
		return
	}
	p.lastLoaded.Store(communityID, time.Now())

	filters := nostr.Filters{
		{
			Kinds: events.MessageKinds(),
			Tags:  nostr.TagMap{"a": []string{communityID}},
			Limit: p.pageSize,
		},
		{
			Kinds: []int{events.KindCommunity, events.KindMemberList},
			Tags:  nostr.TagMap{"a": []string{communityID}},
			Limit: 10,
		},
	}

	results, err := p.querier.Query(p.ctx, filters, p.querier.BackgroundTimeout())
	if err != nil {
		p.logger.LogPreload(kind, communityID, false, err)
		return
	}
	if p.cache != nil {
		if err := p.cache.PutMany(p.ctx, results); err != nil {
			p.logger.LogPreload(kind, communityID, false, err)
			return
		}
	}
	p.logger.LogPreload(kind, communityID, false, nil)
}
