package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/roomcrew/roomnoti/internal/inbox"
	"github.com/roomcrew/roomnoti/internal/live"
	"github.com/roomcrew/roomnoti/internal/metrics"
	"github.com/roomcrew/roomnoti/internal/model"
	"github.com/roomcrew/roomnoti/internal/notification"
	"github.com/roomcrew/roomnoti/internal/session"
	"github.com/roomcrew/roomnoti/internal/store"
)

// StoreChangedMsg is a tea.Msg carrying the inbox after a mutation.
type StoreChangedMsg struct {
	Items  []model.Notification
	Unread int
}

// ChannelStateMsg is a tea.Msg sent when the live channel changes state.
type ChannelStateMsg struct {
	State live.State
	Err   error
}

// SessionMsg is a tea.Msg sent when the member signs in or out.
type SessionMsg struct {
	Authenticated bool
	Member        model.Member
}

// ErrorMsg is a tea.Msg for background failures worth showing.
type ErrorMsg struct {
	Op  string
	Err error
}

// requestTimeout bounds background backend calls.
const requestTimeout = 30 * time.Second

// Gate is the session surface the syncer follows.
type Gate interface {
	Subscribe() (<-chan session.Change, func())
	Check(ctx context.Context) error
	Authenticated() bool
	Member() model.Member
}

// Channel is the live push connection.
type Channel interface {
	Connect(ctx context.Context, member model.Member) error
	Disconnect()
	States() (<-chan live.StateChange, func())
}

// Inbox loads the list from the backend.
type Inbox interface {
	Open(ctx context.Context) error
	Reset()
}

// UnreadCounter fetches the authoritative unread count.
type UnreadCounter interface {
	UnreadCount(ctx context.Context) (int, error)
}

// Options configures a Syncer.
type Options struct {
	// ReconcileInterval refreshes the unread counter from the server. Zero
	// disables it.
	ReconcileInterval time.Duration
	// Cache persists the inbox between runs. Nil disables it.
	Cache  store.Store
	Logger *zap.Logger
}

// Syncer wires the session to the live channel and the inbox, and turns
// their activity into tea messages.
type Syncer struct {
	gate    Gate
	channel Channel
	inbox   Inbox
	counter UnreadCounter
	store   *notification.Store
	cache   store.Store
	logger  *zap.Logger
	every   time.Duration

	resultCh chan tea.Msg
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu      gosync.Mutex
	running bool
	member  model.Member
}

// New creates a syncer. Nothing runs until Start.
func New(
	gate Gate,
	channel Channel,
	ib Inbox,
	counter UnreadCounter,
	s *notification.Store,
	opts Options,
) *Syncer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		gate:     gate,
		channel:  channel,
		inbox:    ib,
		counter:  counter,
		store:    s,
		cache:    opts.Cache,
		logger:   logger,
		every:    opts.ReconcileInterval,
		resultCh: make(chan tea.Msg, 64),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background loop and returns a tea.Cmd that waits for
// its first message.
func (s *Syncer) Start(ctx context.Context) tea.Cmd {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	sessions, unsubSessions := s.gate.Subscribe()
	states, unsubStates := s.channel.States()
	changes, unsubChanges := s.store.Subscribe()

	go func() {
		defer close(s.doneCh)
		defer unsubSessions()
		defer unsubStates()
		defer unsubChanges()
		s.loop(ctx, sessions, states, changes)
	}()

	return s.waitForResult()
}

// Stop halts the loop and disconnects the live channel.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
}

func (s *Syncer) loop(
	ctx context.Context,
	sessions <-chan session.Change,
	states <-chan live.StateChange,
	changes <-chan struct{},
) {
	var tick <-chan time.Time
	if s.every > 0 {
		ticker := time.NewTicker(s.every)
		defer ticker.Stop()
		tick = ticker.C
	}

	if s.gate.Authenticated() {
		s.signIn(ctx, s.gate.Member())
	}

	for {
		select {
		case <-s.stopCh:
			s.channel.Disconnect()
			return
		case <-ctx.Done():
			s.channel.Disconnect()
			return

		case change := <-sessions:
			s.sendResult(SessionMsg{Authenticated: change.Authenticated, Member: change.Member})
			if change.Authenticated {
				s.signIn(ctx, change.Member)
			} else {
				s.signOut(ctx)
			}

		case sc := <-states:
			s.sendResult(ChannelStateMsg{State: sc.State, Err: sc.Err})
			if sc.State == live.Stopped && errors.Is(sc.Err, live.ErrUnauthorized) {
				go s.recheck(ctx)
			}

		case <-changes:
			s.publishStore(ctx)

		case <-tick:
			s.reconcile(ctx)
		}
	}
}

// signIn rebuilds the inbox for a newly authenticated member: cached
// snapshot first, then the live channel and the first page.
func (s *Syncer) signIn(ctx context.Context, member model.Member) {
	s.mu.Lock()
	s.member = member
	s.mu.Unlock()

	s.inbox.Reset()
	s.store.Clear()
	s.restoreCache(ctx, member.ID)

	if err := s.channel.Connect(ctx, member); err != nil {
		s.logger.Warn("live channel connect failed", zap.Error(err))
		s.sendResult(ErrorMsg{Op: "connect", Err: err})
	}

	go func() {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		if err := s.inbox.Open(reqCtx); err != nil && !inbox.IsDiscarded(err) {
			s.sendResult(ErrorMsg{Op: "open", Err: err})
		}
	}()
}

func (s *Syncer) signOut(ctx context.Context) {
	s.mu.Lock()
	prev := s.member
	s.member = model.Member{}
	s.mu.Unlock()

	s.channel.Disconnect()
	s.inbox.Reset()
	s.store.Clear()

	if s.cache != nil && prev.ID != 0 {
		if err := s.cache.ClearMember(ctx, prev.ID); err != nil {
			s.logger.Warn("clearing cached inbox failed", zap.Error(err))
		}
	}
}

func (s *Syncer) restoreCache(ctx context.Context, memberID int64) {
	if s.cache == nil {
		return
	}
	cached, err := s.cache.LoadInbox(ctx, memberID)
	if errors.Is(err, store.ErrNoInbox) {
		return
	}
	if err != nil {
		s.logger.Warn("loading cached inbox failed", zap.Error(err))
		return
	}
	s.store.Replace(cached.Items, cached.Unread)
	s.logger.Debug("restored cached inbox",
		zap.Int("items", len(cached.Items)),
		zap.Time("saved_at", cached.SavedAt),
	)
}

func (s *Syncer) publishStore(ctx context.Context) {
	items := s.store.Snapshot()
	unread := s.store.Unread()
	metrics.SetInboxUnread(unread)
	s.sendResult(StoreChangedMsg{Items: items, Unread: unread})

	s.mu.Lock()
	memberID := s.member.ID
	s.mu.Unlock()
	if s.cache == nil || memberID == 0 {
		return
	}
	if err := s.cache.SaveInbox(ctx, memberID, items, unread); err != nil {
		s.logger.Warn("caching inbox failed", zap.Error(err))
	}
}

// reconcile replaces the local counter with the server's.
func (s *Syncer) reconcile(ctx context.Context) {
	if !s.gate.Authenticated() || s.counter == nil {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	n, err := s.counter.UnreadCount(reqCtx)
	if err != nil {
		s.logger.Debug("unread reconcile failed", zap.Error(err))
		return
	}
	if local := s.store.Unread(); local != n {
		s.logger.Info("unread counter drift corrected", zap.Int("local", local), zap.Int("server", n))
	}
	s.store.SetUnread(n)
}

// recheck asks the gate to confirm the session after the live channel was
// refused. A rejected token signs the member out through the gate.
func (s *Syncer) recheck(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := s.gate.Check(reqCtx); err != nil {
		s.sendResult(ErrorMsg{Op: "session", Err: err})
	}
}

// sendResult sends a message on the result channel without blocking.
func (s *Syncer) sendResult(msg tea.Msg) {
	select {
	case s.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the loop
	}
}

// waitForResult returns a tea.Cmd that waits for the next message from
// the result channel.
func (s *Syncer) waitForResult() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-s.resultCh:
			return msg
		case <-s.doneCh:
			return nil
		}
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next message.
// Call it after handling each syncer message to keep listening.
func (s *Syncer) WaitForNextResult() tea.Cmd {
	return s.waitForResult()
}
