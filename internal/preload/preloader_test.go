package preload

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/driftchat/driftchat/internal/cache"
	"github.com/driftchat/driftchat/internal/config"
	"github.com/driftchat/driftchat/internal/ops"
)

type fakeQuerier struct {
	mu          sync.Mutex
	communities []string
}

func (q *fakeQuerier) Query(ctx context.Context, filters nostr.Filters, timeout time.Duration) ([]*nostr.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if refs := filters[0].Tags["a"]; len(refs) > 0 {
		q.communities = append(q.communities, refs[0])
	}
	return nil, nil
}

func (q *fakeQuerier) BackgroundTimeout() time.Duration {
	return time.Second
}

func (q *fakeQuerier) loaded() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.communities))
	copy(out, q.communities)
	return out
}

type fakeMemberships struct {
	memberships []Membership
}

func (f *fakeMemberships) Memberships(ctx context.Context) ([]Membership, error) {
	return f.memberships, nil
}

func newTestPreloader(t *testing.T, q Querier, provider MembershipProvider, cfg *config.Preload) (*Preloader, context.CancelFunc) {
	t.Helper()
	logger := ops.NewLoggerWithWriter(&config.Logging{Level: "error", Format: "text"}, io.Discard)
	c, err := cache.New(logger)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return New(ctx, q, c, provider, cfg, 20, time.Minute, logger), cancel
}

func hoverConfig() *config.Preload {
	return &config.Preload{
		Enabled:         true,
		HoverDelayMs:    40,
		IdleDelayMs:     60000, // idle walk effectively disabled
		BatchSize:       10,
		BatchDelayMs:    10,
		CooldownSeconds: 30,
	}
}

func TestHoverDwellTriggersPreload(t *testing.T) {
	q := &fakeQuerier{}
	p, cancel := newTestPreloader(t, q, &fakeMemberships{}, hoverConfig())
	defer cancel()
	defer p.Stop()

	p.HoverStart("c1", "general")

	deadline := time.Now().Add(2 * time.Second)
	for len(q.loaded()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := q.loaded(); len(got) != 1 || got[0] != "c1" {
		t.Fatalf("expected one preload for c1, got %v", got)
	}
}

func TestHoverEndCancelsPendingPreload(t *testing.T) {
	q := &fakeQuerier{}
	p, cancel := newTestPreloader(t, q, &fakeMemberships{}, hoverConfig())
	defer cancel()
	defer p.Stop()

	p.HoverStart("c1", "general")
	p.HoverEnd("c1", "general")

	time.Sleep(150 * time.Millisecond)
	if got := q.loaded(); len(got) != 0 {
		t.Errorf("cancelled hover should not fetch, got %v", got)
	}
}

func TestRestartedHoverResetsDwell(t *testing.T) {
	q := &fakeQuerier{}
	p, cancel := newTestPreloader(t, q, &fakeMemberships{}, hoverConfig())
	defer cancel()
	defer p.Stop()

	// Re-hovering the same target replaces the pending timer; only one
	// preload may result
	p.HoverStart("c1", "general")
	time.Sleep(10 * time.Millisecond)
	p.HoverStart("c1", "general")

	time.Sleep(200 * time.Millisecond)
	if got := q.loaded(); len(got) != 1 {
		t.Errorf("expected exactly one preload, got %v", got)
	}
}

func TestCooldownSuppressesRepeatPreload(t *testing.T) {
	q := &fakeQuerier{}
	p, cancel := newTestPreloader(t, q, &fakeMemberships{}, hoverConfig())
	defer cancel()
	defer p.Stop()

	p.HoverStart("c1", "general")
	deadline := time.Now().Add(2 * time.Second)
	for len(q.loaded()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	p.HoverStart("c1", "other")
	time.Sleep(150 * time.Millisecond)

	if got := q.loaded(); len(got) != 1 {
		t.Errorf("community inside its cooldown should not reload, got %v", got)
	}
}

func TestInteractiveLoadSuppressesPreload(t *testing.T) {
	q := &fakeQuerier{}
	provider := &fakeMemberships{memberships: []Membership{
		{CommunityID: "c1", Role: RoleOwner},
		{CommunityID: "c2", Role: RoleMember},
	}}
	cfg := &config.Preload{
		Enabled:         true,
		HoverDelayMs:    40,
		IdleDelayMs:     30,
		BatchSize:       10,
		BatchDelayMs:    10,
		CooldownSeconds: 30,
	}
	p, cancel := newTestPreloader(t, q, provider, cfg)
	defer p.Stop()
	defer cancel()

	// c1 was just loaded interactively; only c2 needs warming
	p.NoteLoaded("c1")
	p.Start()

	deadline := time.Now().Add(2 * time.Second)
	for len(q.loaded()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	got := q.loaded()
	if len(got) != 1 || got[0] != "c2" {
		t.Errorf("interactively loaded community should be skipped, got %v", got)
	}

	// Hover intent on the fresh community is suppressed too
	p.HoverStart("c1", "general")
	time.Sleep(150 * time.Millisecond)
	if got := q.loaded(); len(got) != 1 {
		t.Errorf("hover preload of a fresh community should be skipped, got %v", got)
	}
}

func TestDisabledPreloaderDoesNothing(t *testing.T) {
	q := &fakeQuerier{}
	cfg := hoverConfig()
	cfg.Enabled = false
	p, cancel := newTestPreloader(t, q, &fakeMemberships{}, cfg)
	defer cancel()
	defer p.Stop()

	p.Start()
	p.HoverStart("c1", "general")

	time.Sleep(150 * time.Millisecond)
	if got := q.loaded(); len(got) != 0 {
		t.Errorf("disabled preloader should never fetch, got %v", got)
	}
}

func TestIdleWalkFollowsRolePriority(t *testing.T) {
	q := &fakeQuerier{}
	provider := &fakeMemberships{memberships: []Membership{
		{CommunityID: "member-community", Role: RoleMember},
		{CommunityID: "owner-community", Role: RoleOwner},
		{CommunityID: "moderator-community", Role: RoleModerator},
	}}
	cfg := &config.Preload{
		Enabled:         true,
		HoverDelayMs:    250,
		IdleDelayMs:     30,
		BatchSize:       10,
		BatchDelayMs:    10,
		CooldownSeconds: 30,
	}
	p, cancel := newTestPreloader(t, q, provider, cfg)
	defer p.Stop()
	defer cancel()

	p.Start()

	deadline := time.Now().Add(2 * time.Second)
	for len(q.loaded()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	got := q.loaded()
	want := []string{"owner-community", "moderator-community", "member-community"}
	if len(got) != len(want) {
		t.Fatalf("expected %d preloads, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestActivityDefersIdleWalk(t *testing.T) {
	q := &fakeQuerier{}
	provider := &fakeMemberships{memberships: []Membership{
		{CommunityID: "c1", Role: RoleMember},
	}}
	cfg := &config.Preload{
		Enabled:         true,
		HoverDelayMs:    250,
		IdleDelayMs:     80,
		BatchSize:       10,
		BatchDelayMs:    10,
		CooldownSeconds: 30,
	}
	p, cancel := newTestPreloader(t, q, provider, cfg)
	defer p.Stop()
	defer cancel()

	p.Start()

	// Keep the engine busy; the idle walk must not fire
	for i := 0; i < 10; i++ {
		p.NoteActivity()
		time.Sleep(20 * time.Millisecond)
	}
	if got := q.loaded(); len(got) != 0 {
		t.Fatalf("activity should defer the idle walk, got %v", got)
	}

	// Once quiet, the walk runs
	deadline := time.Now().Add(2 * time.Second)
	for len(q.loaded()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := q.loaded(); len(got) != 1 {
		t.Errorf("expected the idle walk after quiet period, got %v", got)
	}
}
