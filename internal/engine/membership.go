package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/driftchat/driftchat/internal/cache"
	"github.com/driftchat/driftchat/internal/events"
	"github.com/driftchat/driftchat/internal/ops"
	"github.com/driftchat/driftchat/internal/preload"
	"github.com/driftchat/driftchat/internal/store"
)

// membershipService resolves approved-member sets and the user's own
// community memberships, with a freshness window so repeated channel
// opens do not re-query the relays.
type membershipService struct {
	querier   store.Querier
	cache     *cache.Cache
	self      string
	freshness time.Duration
	logger    *ops.Logger

	contexts *xsync.MapOf[string, memberContext]
}

type memberContext struct {
	members   events.ApprovedMembers
	fetchedAt time.Time
}

func newMembershipService(querier store.Querier, c *cache.Cache, self string, freshness time.Duration, logger *ops.Logger) *membershipService {
	return &membershipService{
		querier:   querier,
		cache:     c,
		self:      self,
		freshness: freshness,
		logger:    logger.WithComponent("membership"),
		contexts:  xsync.NewMapOf[string, memberContext](),
	}
}

// MembershipContext returns the approved-members set for a community, or
// nil when the community publishes no member list (gating disabled).
// Authorization stays post-fetch: this set filters events after they
// arrive, it never scopes the relay queries themselves.
func (m *membershipService) MembershipContext(ctx context.Context, communityID string) (events.ApprovedMembers, error) {
	if cached, ok := m.contexts.Load(communityID); ok {
		if time.Since(cached.fetchedAt) <= m.freshness {
			return cached.members, nil
		}
	}

	filters := nostr.Filters{{
		Kinds: []int{events.KindMemberList},
		Tags:  nostr.TagMap{"a": []string{communityID}},
		Limit: 10,
	}}

	results, err := m.querier.Query(ctx, filters, m.querier.QueryTimeout())
	if err != nil {
		// Fall back to the last known set rather than failing the open
		if cached, ok := m.contexts.Load(communityID); ok {
			return cached.members, nil
		}
		return nil, fmt.Errorf("failed to fetch member list: %w", err)
	}

	if m.cache != nil {
		if cacheErr := m.cache.PutMany(ctx, results); cacheErr != nil {
			m.logger.Warn("failed to cache member lists", "error", cacheErr)
		}
	}

	var newest *nostr.Event
	for _, event := range results {
		if newest == nil || event.CreatedAt > newest.CreatedAt {
			newest = event
		}
	}

	var members events.ApprovedMembers
	if newest != nil {
		members = events.MembersFromEvent(newest)
	}

	m.contexts.Store(communityID, memberContext{members: members, fetchedAt: time.Now()})
	return members, nil
}

// Invalidate drops the cached membership context for a community
func (m *membershipService) Invalidate(communityID string) {
	m.contexts.Delete(communityID)
}

// Reset drops every cached membership context; used on logout
func (m *membershipService) Reset() {
	m.contexts.Clear()
}

// Memberships lists the communities the user belongs to, with roles:
// owner for communities the user defined, moderator for communities
// whose member list the user publishes, member otherwise.
func (m *membershipService) Memberships(ctx context.Context) ([]preload.Membership, error) {
	filters := nostr.Filters{
		{
			Kinds:   []int{events.KindCommunity},
			Authors: []string{m.self},
		},
		{
			Kinds: []int{events.KindMemberList},
			Tags:  nostr.TagMap{"p": []string{m.self}},
		},
		{
			Kinds:   []int{events.KindMemberList},
			Authors: []string{m.self},
		},
	}

	results, err := m.querier.Query(ctx, filters, m.querier.QueryTimeout())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch memberships: %w", err)
	}

	if m.cache != nil {
		if cacheErr := m.cache.PutMany(ctx, results); cacheErr != nil {
			m.logger.Warn("failed to cache membership events", "error", cacheErr)
		}
	}

	roles := make(map[string]preload.Role)
	for _, event := range results {
		switch event.Kind {
		case events.KindCommunity:
			roles[communityAddress(event)] = preload.RoleOwner
		case events.KindMemberList:
			communityID, ok := events.CommunityRef(event)
			if !ok {
				continue
			}
			role := preload.RoleMember
			if event.PubKey == m.self {
				role = preload.RoleModerator
			}
			if role > roles[communityID] {
				roles[communityID] = role
			}
		}
	}

	memberships := make([]preload.Membership, 0, len(roles))
	for communityID, role := range roles {
		memberships = append(memberships, preload.Membership{
			CommunityID: communityID,
			Role:        role,
		})
	}
	return memberships, nil
}

// communityAddress derives the community id from its definition event
func communityAddress(event *nostr.Event) string {
	identifier, _ := events.TagValue(event, "d")
	return fmt.Sprintf("%d:%s:%s", event.Kind, event.PubKey, identifier)
}
