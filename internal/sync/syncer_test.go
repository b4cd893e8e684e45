package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roomcrew/roomnoti/internal/backend"
	"github.com/roomcrew/roomnoti/internal/credential"
	"github.com/roomcrew/roomnoti/internal/inbox"
	"github.com/roomcrew/roomnoti/internal/live"
	"github.com/roomcrew/roomnoti/internal/model"
	"github.com/roomcrew/roomnoti/internal/notification"
	"github.com/roomcrew/roomnoti/internal/session"
	"github.com/roomcrew/roomnoti/tests/testutil"
)

type fakeMe struct {
	mu     gosync.Mutex
	member *model.Member
	err    error
}

func (f *fakeMe) Me(ctx context.Context) (*model.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	m := *f.member
	return &m, nil
}

func (f *fakeMe) SetToken(string) {}

func (f *fakeMe) reject() {
	f.mu.Lock()
	f.err = &backend.AuthError{StatusCode: 401, Message: "expired"}
	f.mu.Unlock()
}

type fakeChannel struct {
	mu          gosync.Mutex
	connected   []model.Member
	disconnects int
	states      chan live.StateChange
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{states: make(chan live.StateChange, 8)}
}

func (f *fakeChannel) Connect(ctx context.Context, member model.Member) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, member)
	return nil
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeChannel) States() (<-chan live.StateChange, func()) {
	return f.states, func() {}
}

func (f *fakeChannel) connects() []model.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Member(nil), f.connected...)
}

func (f *fakeChannel) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// fakeInbox fills the store the way the real controller would.
type fakeInbox struct {
	store *notification.Store
	items []model.Notification
	err   error

	mu    gosync.Mutex
	opens int
}

func (f *fakeInbox) Open(ctx context.Context) error {
	f.mu.Lock()
	f.opens++
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.store.Replace(f.items, -1)
	return nil
}

func (f *fakeInbox) Reset() {}

func (f *fakeInbox) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

type fakeCounter struct{ n int }

func (f fakeCounter) UnreadCount(ctx context.Context) (int, error) { return f.n, nil }

type harness struct {
	syncer  *Syncer
	gate    *session.Gate
	api     *fakeMe
	channel *fakeChannel
	inbox   *fakeInbox
	store   *notification.Store
	msgs    chan tea.Msg
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	api := &fakeMe{member: &model.Member{ID: 42, Nickname: "escaper"}}
	gate := session.NewGate(credential.NewMemory(), api, zap.NewNop())
	s := notification.NewStore()
	ch := newFakeChannel()
	ib := &fakeInbox{store: s, items: []model.Notification{
		{ID: 2, Title: "b", Read: false},
		{ID: 1, Title: "a", Read: true},
	}}
	opts.Logger = zap.NewNop()

	h := &harness{
		syncer:  New(gate, ch, ib, fakeCounter{n: 5}, s, opts),
		gate:    gate,
		api:     api,
		channel: ch,
		inbox:   ib,
		store:   s,
		msgs:    make(chan tea.Msg, 128),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := h.syncer.Start(ctx)
	require.NotNil(t, cmd)

	// Pump messages the way the tea runtime would.
	go func() {
		for {
			msg := cmd()
			if msg == nil {
				close(h.msgs)
				return
			}
			h.msgs <- msg
			cmd = h.syncer.WaitForNextResult()
		}
	}()

	t.Cleanup(func() {
		h.syncer.Stop()
		cancel()
	})
	return h
}

func (h *harness) waitFor(t *testing.T, match func(tea.Msg) bool) tea.Msg {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case msg, ok := <-h.msgs:
			if !ok {
				t.Fatal("syncer stopped")
			}
			if match(msg) {
				return msg
			}
		case <-timeout:
			t.Fatal("timed out waiting for message")
			return nil
		}
	}
}

func TestLoginConnectsAndOpensInbox(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.gate.Login(context.Background(), "token"))

	msg := h.waitFor(t, func(m tea.Msg) bool { _, ok := m.(SessionMsg); return ok })
	assert.True(t, msg.(SessionMsg).Authenticated)

	h.waitFor(t, func(m tea.Msg) bool {
		sc, ok := m.(StoreChangedMsg)
		return ok && len(sc.Items) == 2
	})
	assert.Equal(t, []model.Member{{ID: 42, Nickname: "escaper"}}, h.channel.connects())
	assert.Equal(t, 1, h.inbox.openCount())
	assert.Equal(t, 1, h.store.Unread())
}

func TestLogoutDisconnectsAndClears(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.gate.Login(context.Background(), "token"))
	h.waitFor(t, func(m tea.Msg) bool {
		sc, ok := m.(StoreChangedMsg)
		return ok && len(sc.Items) == 2
	})

	require.NoError(t, h.gate.Logout())

	h.waitFor(t, func(m tea.Msg) bool {
		s, ok := m.(SessionMsg)
		return ok && !s.Authenticated
	})
	h.waitFor(t, func(m tea.Msg) bool {
		sc, ok := m.(StoreChangedMsg)
		return ok && len(sc.Items) == 0 && sc.Unread == 0
	})
	assert.GreaterOrEqual(t, h.channel.disconnectCount(), 1)
}

func TestChannelStateIsForwarded(t *testing.T) {
	h := newHarness(t, Options{})

	h.channel.states <- live.StateChange{State: live.Connected}

	msg := h.waitFor(t, func(m tea.Msg) bool { _, ok := m.(ChannelStateMsg); return ok })
	assert.Equal(t, live.Connected, msg.(ChannelStateMsg).State)
}

func TestUnauthorizedChannelRechecksSession(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.gate.Login(context.Background(), "token"))
	h.waitFor(t, func(m tea.Msg) bool { _, ok := m.(SessionMsg); return ok })

	h.api.reject()
	h.channel.states <- live.StateChange{
		State: live.Stopped,
		Err:   errors.Join(live.ErrUnauthorized, &backend.AuthError{StatusCode: 401}),
	}

	h.waitFor(t, func(m tea.Msg) bool {
		s, ok := m.(SessionMsg)
		return ok && !s.Authenticated
	})
	assert.False(t, h.gate.Authenticated())
}

func TestReconcileCorrectsCounter(t *testing.T) {
	h := newHarness(t, Options{ReconcileInterval: 50 * time.Millisecond})
	require.NoError(t, h.gate.Login(context.Background(), "token"))

	h.waitFor(t, func(m tea.Msg) bool {
		sc, ok := m.(StoreChangedMsg)
		return ok && sc.Unread == 5
	})
}

func TestCachedInboxIsRestoredAndSaved(t *testing.T) {
	cache := testutil.NewTestCache(t)
	ctx := context.Background()
	require.NoError(t, cache.SaveInbox(ctx, 42, []model.Notification{
		{ID: 9, Title: "cached", Category: model.CategoryMessage},
	}, 1))

	h := newHarness(t, Options{Cache: cache})
	h.inbox.err = errors.New("offline")

	require.NoError(t, h.gate.Login(ctx, "token"))

	var restored, failed bool
	h.waitFor(t, func(m tea.Msg) bool {
		switch msg := m.(type) {
		case StoreChangedMsg:
			if len(msg.Items) == 1 && msg.Items[0].ID == 9 {
				restored = true
			}
		case ErrorMsg:
			if msg.Op == "open" {
				failed = true
			}
		}
		return restored && failed
	})

	h.store.Add(model.Notification{ID: 10, Title: "live"})
	h.waitFor(t, func(m tea.Msg) bool {
		sc, ok := m.(StoreChangedMsg)
		return ok && len(sc.Items) == 2
	})

	require.Eventually(t, func() bool {
		inbox, err := cache.LoadInbox(ctx, 42)
		return err == nil && len(inbox.Items) == 2 && inbox.Unread == 2
	}, 3*time.Second, 20*time.Millisecond)
}

// slowAPI holds the first page until release is closed and then answers
// even if the request was canceled, like a response already on the wire.
type slowAPI struct {
	release chan struct{}

	mu     gosync.Mutex
	listed context.Context
}

func (a *slowAPI) ListNotifications(ctx context.Context, page, size int) (*backend.NotificationPage, error) {
	a.mu.Lock()
	a.listed = ctx
	a.mu.Unlock()
	<-a.release
	return &backend.NotificationPage{
		Notifications: []model.Notification{{ID: 7, Title: "previous member"}},
		UnreadCount:   1,
	}, nil
}

func (a *slowAPI) UnreadCount(ctx context.Context) (int, error) { return 1, nil }

func (a *slowAPI) MarkRead(ctx context.Context, id int64) (*backend.ReadResult, error) {
	return &backend.ReadResult{}, nil
}

func (a *slowAPI) MarkAllRead(ctx context.Context) (int, error) { return 0, nil }

func (a *slowAPI) Delete(ctx context.Context, id int64) error { return nil }

func (a *slowAPI) canceled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listed != nil && a.listed.Err() != nil
}

func TestLogoutDropsInboxStillLoading(t *testing.T) {
	api := &slowAPI{release: make(chan struct{})}
	me := &fakeMe{member: &model.Member{ID: 42, Nickname: "escaper"}}
	gate := session.NewGate(credential.NewMemory(), me, zap.NewNop())
	s := notification.NewStore()
	ctrl := inbox.NewController(api, s, 20, zap.NewNop())
	defer ctrl.Close()

	syncer := New(gate, newFakeChannel(), ctrl, nil, s, Options{Logger: zap.NewNop()})
	require.NotNil(t, syncer.Start(context.Background()))
	defer syncer.Stop()

	require.NoError(t, gate.Login(context.Background(), "token"))
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.listed != nil
	}, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, gate.Logout())
	require.Eventually(t, api.canceled, 3*time.Second, 5*time.Millisecond,
		"signing out cancels the first page request")

	close(api.release)

	assert.Never(t, func() bool { return s.Len() > 0 }, 200*time.Millisecond, 10*time.Millisecond)
	assert.False(t, gate.Authenticated())
	assert.Zero(t, s.Unread())
	assert.False(t, ctrl.HasMore())
}
