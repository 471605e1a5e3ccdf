package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/driftchat/driftchat/internal/batch"
	"github.com/driftchat/driftchat/internal/cache"
	"github.com/driftchat/driftchat/internal/config"
	"github.com/driftchat/driftchat/internal/events"
	"github.com/driftchat/driftchat/internal/live"
	internalnostr "github.com/driftchat/driftchat/internal/nostr"
	"github.com/driftchat/driftchat/internal/ops"
	"github.com/driftchat/driftchat/internal/preload"
	"github.com/driftchat/driftchat/internal/store"
)

// Engine is the client-side synchronization core: it fetches and
// validates history per conversation, keeps one live subscription per
// open view, reconciles optimistic sends, and warms the event cache
// through batched and speculative loading. All state is in-memory and
// scoped to the engine instance.
type Engine struct {
	cfg    *config.Config
	logger *ops.Logger

	client    *internalnostr.Client
	cache     *cache.Cache
	messages  *store.Store
	live      *live.Manager
	loader    *batch.Loader
	preloader *preload.Preloader
	members   *membershipService

	self   string // hex pubkey
	secret string // hex secret key, "" when publishing is disabled

	ctx    context.Context
	cancel context.CancelFunc

	// per-conversation cancellation for in-flight historical loads
	loads *xsync.MapOf[store.Key, *loadScope]
}

// loadScope is the cancellable context under which every historical
// query for one conversation runs; closing the conversation cancels it
type loadScope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an engine from configuration
func New(cfg *config.Config, logger *ops.Logger) (*Engine, error) {
	self, err := decodeNpub(cfg.Identity.Npub)
	if err != nil {
		return nil, err
	}

	secret := ""
	if cfg.Identity.Nsec != "" {
		secret, err = decodeNsec(cfg.Identity.Nsec)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	client := internalnostr.New(ctx, &cfg.Relays, logger)

	eventCache, err := cache.New(logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create event cache: %w", err)
	}

	freshness := time.Duration(cfg.Engine.MetadataFreshnessSeconds) * time.Second

	messages := store.New(client, eventCache, &cfg.Engine, self, logger)
	liveMgr := live.NewManager(ctx, client, messages, self, logger)
	loader := batch.NewLoader(ctx, client, eventCache, &cfg.Batch, freshness, logger)
	members := newMembershipService(client, eventCache, self, freshness, logger)
	preloader := preload.New(ctx, client, eventCache, members, &cfg.Preload, cfg.Engine.PageSize, freshness, logger)

	return &Engine{
		cfg:       cfg,
		logger:    logger.WithComponent("engine"),
		client:    client,
		cache:     eventCache,
		messages:  messages,
		live:      liveMgr,
		loader:    loader,
		preloader: preloader,
		members:   members,
		self:      self,
		secret:    secret,
		ctx:       ctx,
		cancel:    cancel,
		loads:     xsync.NewMapOf[store.Key, *loadScope](),
	}, nil
}

// resetLoadScope replaces the conversation's load scope, cancelling any
// query still running under the previous one
func (e *Engine) resetLoadScope(key store.Key) *loadScope {
	ctx, cancel := context.WithCancel(e.ctx)
	scope := &loadScope{ctx: ctx, cancel: cancel}
	if prev, loaded := e.loads.LoadAndStore(key, scope); loaded {
		prev.cancel()
	}
	return scope
}

// loadScopeFor returns the conversation's current load scope, creating
// one if the conversation has not been opened
func (e *Engine) loadScopeFor(key store.Key) *loadScope {
	scope, _ := e.loads.LoadOrCompute(key, func() *loadScope {
		ctx, cancel := context.WithCancel(e.ctx)
		return &loadScope{ctx: ctx, cancel: cancel}
	})
	return scope
}

// Start launches background work (the idle preloader)
func (e *Engine) Start() {
	e.preloader.Start()
}

// Shutdown tears the engine down: live subscriptions close, in-flight
// background work drains, relay connections drop
func (e *Engine) Shutdown() {
	e.cancel()
	e.live.Shutdown()
	e.preloader.Stop()
	e.loader.Wait()
	e.client.Close()
}

// Cache exposes the event cache to consumers (thread views, metadata)
func (e *Engine) Cache() *cache.Cache {
	return e.cache
}

// Self returns the user's hex pubkey
func (e *Engine) Self() string {
	return e.self
}

// AddEventHandler registers a handler for live events merged into any
// open conversation
func (e *Engine) AddEventHandler(handler live.EventHandler) {
	e.live.AddEventHandler(handler)
}

// OpenChannel loads the first page of a channel and opens its live
// subscription. Re-opening an already-open channel returns the current
// list without another fetch.
func (e *Engine) OpenChannel(communityID, channelID string) ([]*events.Message, error) {
	key := store.Key{Community: communityID, Channel: channelID}
	e.preloader.NoteActivity()
	scope := e.resetLoadScope(key)

	members, err := e.members.MembershipContext(scope.ctx, communityID)
	if err != nil {
		return nil, err
	}

	msgs, err := e.messages.LoadInitial(scope.ctx, key, members)
	if err != nil {
		return nil, err
	}

	e.preloader.NoteLoaded(communityID)
	e.live.Open(key)
	e.requestRelated(communityID, msgs)
	return msgs, nil
}

// OpenDM loads the first page of the direct-message thread with peer
// and opens its live subscription
func (e *Engine) OpenDM(peerPubkey string) ([]*events.Message, error) {
	key := store.Key{Community: store.DMCommunity, Channel: peerPubkey}
	e.preloader.NoteActivity()
	scope := e.resetLoadScope(key)

	msgs, err := e.messages.LoadInitial(scope.ctx, key, nil)
	if err != nil {
		return nil, err
	}

	e.live.Open(key)
	return msgs, nil
}

// CloseChannel cancels the conversation's in-flight historical load and
// closes its live subscription
func (e *Engine) CloseChannel(communityID, channelID string) {
	key := store.Key{Community: communityID, Channel: channelID}
	if scope, loaded := e.loads.LoadAndDelete(key); loaded {
		scope.cancel()
	}
	e.live.Close(key)
}

// GetMessages returns the conversation's current ordered message list
func (e *Engine) GetMessages(communityID, channelID string) []*events.Message {
	return e.messages.Messages(store.Key{Community: communityID, Channel: channelID})
}

// LoadOlderMessages fetches the next older history page. It runs under
// the conversation's load scope, so closing the conversation cancels an
// in-flight page.
func (e *Engine) LoadOlderMessages(communityID, channelID string) ([]*events.Message, error) {
	key := store.Key{Community: communityID, Channel: channelID}
	e.preloader.NoteActivity()
	scope := e.loadScopeFor(key)

	msgs, err := e.messages.LoadOlder(scope.ctx, key)
	if err != nil {
		return nil, err
	}
	e.preloader.NoteLoaded(communityID)
	e.requestRelated(communityID, msgs)
	return msgs, nil
}

// HasMoreMessages reports whether older history may remain
func (e *Engine) HasMoreMessages(communityID, channelID string) bool {
	return e.messages.HasMore(store.Key{Community: communityID, Channel: channelID})
}

// SendOptimistic inserts a pending message immediately and publishes it
// in the background when a signing key is configured. The pending entry
// is replaced in place once the confirmed event echoes back on the live
// subscription.
func (e *Engine) SendOptimistic(communityID, channelID, content string) (*events.Message, error) {
	key := store.Key{Community: communityID, Channel: channelID}

	event := &nostr.Event{
		Kind:      events.KindChatMessage,
		CreatedAt: nostr.Now(),
		Content:   content,
		Tags:      nostr.Tags{events.CommunityTag(communityID)},
	}
	if channelID != events.DefaultChannel {
		event.Tags = append(event.Tags, events.ChannelNameTag(channelID))
	}

	if err := e.finalize(event); err != nil {
		return nil, err
	}

	msg := e.messages.AddPending(key, event)
	e.publishAsync(event)
	return msg, nil
}

// SendDirectOptimistic inserts a pending DM and publishes it when a
// signing key is configured
func (e *Engine) SendDirectOptimistic(peerPubkey, content string) (*events.Message, error) {
	key := store.Key{Community: store.DMCommunity, Channel: peerPubkey}

	event := &nostr.Event{
		Kind:      events.KindDirectMessage,
		CreatedAt: nostr.Now(),
		Content:   content,
		Tags:      nostr.Tags{events.RecipientTag(peerPubkey)},
	}

	if err := e.finalize(event); err != nil {
		return nil, err
	}

	msg := e.messages.AddPending(key, event)
	e.publishAsync(event)
	return msg, nil
}

// finalize signs the event when a key is configured, otherwise stamps
// the author and content-derived id so the pending entry is well-formed
func (e *Engine) finalize(event *nostr.Event) error {
	if e.secret != "" {
		if err := event.Sign(e.secret); err != nil {
			return fmt.Errorf("failed to sign event: %w", err)
		}
		return nil
	}
	event.PubKey = e.self
	event.ID = event.GetID()
	return nil
}

func (e *Engine) publishAsync(event *nostr.Event) {
	if e.secret == "" {
		return
	}
	go func() {
		pubCtx, cancel := context.WithTimeout(e.ctx, e.client.BackgroundTimeout())
		defer cancel()
		if err := e.client.Publish(pubCtx, event); err != nil {
			e.logger.Warn("optimistic publish failed", "event_id", event.ID, "error", err)
		}
	}()
}

// RequestRelated enqueues related-event fetches (reactions, comments)
// for the given event ids
func (e *Engine) RequestRelated(communityID string, eventIDs ...string) {
	e.loader.Request(communityID, eventIDs...)
}

func (e *Engine) requestRelated(communityID string, msgs []*events.Message) {
	if len(msgs) == 0 {
		return
	}
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if !msg.Pending && msg.ID() != "" {
			ids = append(ids, msg.ID())
		}
	}
	e.loader.Request(communityID, ids...)
}

// OnChannelHoverStart arms an intent preload for the hovered channel
func (e *Engine) OnChannelHoverStart(communityID, channelID string) {
	e.preloader.HoverStart(communityID, channelID)
}

// OnChannelHoverEnd cancels the pending intent preload
func (e *Engine) OnChannelHoverEnd(communityID, channelID string) {
	e.preloader.HoverEnd(communityID, channelID)
}

// SetVisible reacts to the client being hidden or shown; hidden closes
// live subscriptions but never cancels in-flight historical loads
func (e *Engine) SetVisible(visible bool) {
	e.live.SetVisible(visible)
}

// Logout drops all in-memory state: cache, conversations, membership
// contexts
func (e *Engine) Logout() error {
	e.messages.Reset()
	e.members.Reset()
	return e.cache.InvalidateAll()
}

func decodeNpub(npub string) (string, error) {
	prefix, value, err := nip19.Decode(npub)
	if err != nil {
		return "", fmt.Errorf("failed to decode npub: %w", err)
	}
	if prefix != "npub" {
		return "", fmt.Errorf("expected npub, got %s", prefix)
	}
	return value.(string), nil
}

func decodeNsec(nsec string) (string, error) {
	prefix, value, err := nip19.Decode(nsec)
	if err != nil {
		return "", fmt.Errorf("failed to decode nsec: %w", err)
	}
	if prefix != "nsec" {
		return "", fmt.Errorf("expected nsec, got %s", prefix)
	}
	return value.(string), nil
}
