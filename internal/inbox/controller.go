// Package inbox drives the notification list: loading pages from the
// backend and applying the member's actions to the local store first, then
// confirming them with the backend.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roomcrew/roomnoti/internal/backend"
	"github.com/roomcrew/roomnoti/internal/metrics"
	"github.com/roomcrew/roomnoti/internal/notification"
)

var (
	// ErrNotFound is returned for an id the local inbox does not hold.
	ErrNotFound = errors.New("notification not in inbox")

	// ErrClosed is returned once the controller's lifetime has ended; the
	// result of any request still in flight is discarded.
	ErrClosed = errors.New("inbox closed")

	// ErrSessionEnded is returned for a request that was still in flight
	// when Reset started a new session; its result is discarded.
	ErrSessionEnded = errors.New("inbox session ended")
)

// IsDiscarded reports whether err means a result was dropped because the
// controller closed or the session changed while the request was in flight.
func IsDiscarded(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrSessionEnded)
}

// API is the slice of the backend client the controller uses.
type API interface {
	ListNotifications(ctx context.Context, page, size int) (*backend.NotificationPage, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id int64) (*backend.ReadResult, error)
	MarkAllRead(ctx context.Context) (int, error)
	Delete(ctx context.Context, id int64) error
}

// Controller applies list actions to a notification store.
type Controller struct {
	api      API
	store    *notification.Store
	pageSize int
	logger   *zap.Logger

	lifetime context.Context
	cancel   context.CancelFunc

	mu sync.Mutex
	// session is a child of lifetime replaced by every Reset. Results are
	// applied only while the session they started in is still current.
	session    context.Context
	endSession context.CancelFunc
	opened     bool
	nextPage int
	hasNext  bool
	loading  bool
}

// NewController creates a controller whose lifetime ends with Close.
func NewController(api API, store *notification.Store, pageSize int, logger *zap.Logger) *Controller {
	if pageSize <= 0 {
		pageSize = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	lifetime, cancel := context.WithCancel(context.Background())
	session, endSession := context.WithCancel(lifetime)
	return &Controller{
		api:        api,
		store:      store,
		pageSize:   pageSize,
		logger:     logger,
		lifetime:   lifetime,
		cancel:     cancel,
		session:    session,
		endSession: endSession,
	}
}

// Open loads the first page and the unread count the first time the list
// is shown after authentication. Later calls are no-ops until Reset.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	opened := c.opened
	c.mu.Unlock()
	if opened {
		return nil
	}
	return c.Refresh(ctx)
}

// Refresh reconciles the store with the backend: the first page replaces
// the local collection and the server's unread count replaces the local
// counter. On failure the store keeps its contents.
func (c *Controller) Refresh(ctx context.Context) error {
	ctx, session, done := c.scope(ctx)
	defer done()

	var (
		page      *backend.NotificationPage
		unread    int
		unreadErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := c.api.ListNotifications(gctx, 0, c.pageSize)
		if err != nil {
			return fmt.Errorf("listing notifications: %w", err)
		}
		page = p
		return nil
	})
	g.Go(func() error {
		unread, unreadErr = c.api.UnreadCount(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		if stale := c.discarded(session); stale != nil {
			return stale
		}
		c.logger.Warn("inbox refresh failed", zap.Error(err))
		return err
	}

	if unreadErr != nil {
		c.logger.Debug("unread count unavailable, using page count", zap.Error(unreadErr))
		unread = page.UnreadCount
	}

	err := c.apply(session, func() {
		c.store.Replace(page.Notifications, unread)
		c.opened = true
		c.nextPage = 1
		c.hasNext = page.HasNext && len(page.Notifications) > 0
	})
	if err != nil {
		return err
	}

	c.logger.Debug("inbox refreshed",
		zap.Int("items", len(page.Notifications)),
		zap.Int("unread", unread),
		zap.Bool("has_next", page.HasNext),
	)
	return nil
}

// LoadMore appends the next page. It returns how many new records were
// added; zero once the backend has no further pages.
func (c *Controller) LoadMore(ctx context.Context) (int, error) {
	c.mu.Lock()
	if !c.opened || !c.hasNext || c.loading {
		c.mu.Unlock()
		return 0, nil
	}
	c.loading = true
	pageNo := c.nextPage
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	ctx, session, done := c.scope(ctx)
	defer done()

	page, err := c.api.ListNotifications(ctx, pageNo, c.pageSize)
	if stale := c.discarded(session); stale != nil {
		return 0, stale
	}
	if err != nil {
		c.logger.Warn("loading more notifications failed", zap.Int("page", pageNo), zap.Error(err))
		return 0, fmt.Errorf("loading page %d: %w", pageNo, err)
	}

	var added int
	err = c.apply(session, func() {
		added = c.store.Append(page.Notifications)
		c.nextPage = pageNo + 1
		c.hasNext = page.HasNext && len(page.Notifications) > 0
	})
	return added, err
}

// HasMore reports whether LoadMore can fetch another page.
func (c *Controller) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasNext
}

// Click marks a notification read and returns where the member should be
// taken: the backend's redirect when given, else the record's deep link.
// If the backend refuses, the read flag this call set is reverted.
func (c *Controller) Click(ctx context.Context, id int64) (string, error) {
	n, ok := c.store.Get(id)
	if !ok {
		return "", ErrNotFound
	}

	flipped := c.store.MarkRead(id)

	ctx, session, done := c.scope(ctx)
	defer done()

	result, err := c.api.MarkRead(ctx, id)
	if stale := c.discarded(session); stale != nil {
		return "", stale
	}
	if err != nil {
		if backend.IsNotFound(err) {
			// Deleted elsewhere: drop it here too.
			if stale := c.apply(session, func() { c.store.Remove(id) }); stale != nil {
				return "", stale
			}
			return "", fmt.Errorf("notification %d: %w", id, ErrNotFound)
		}
		if flipped {
			if stale := c.apply(session, func() { c.store.MarkUnread(id) }); stale != nil {
				return "", stale
			}
			metrics.IncrementCompensation("mark_read")
		}
		c.logger.Warn("read confirmation failed", zap.Int64("notification_id", id), zap.Error(err))
		return "", fmt.Errorf("marking notification %d read: %w", id, err)
	}

	if result != nil && result.RedirectURL != "" {
		return result.RedirectURL, nil
	}
	return n.DeepLink(), nil
}

// Delete removes a notification locally, then on the backend. A failed
// request puts the record back where it was.
func (c *Controller) Delete(ctx context.Context, id int64) error {
	removed, index, ok := c.store.Remove(id)
	if !ok {
		return ErrNotFound
	}

	ctx, session, done := c.scope(ctx)
	defer done()

	err := c.api.Delete(ctx, id)
	if stale := c.discarded(session); stale != nil {
		return stale
	}
	if err != nil && !backend.IsNotFound(err) {
		if stale := c.apply(session, func() { c.store.Restore(removed, index) }); stale != nil {
			return stale
		}
		metrics.IncrementCompensation("delete")
		c.logger.Warn("delete failed, notification restored", zap.Int64("notification_id", id), zap.Error(err))
		return fmt.Errorf("deleting notification %d: %w", id, err)
	}
	return nil
}

// MarkAllRead marks the whole inbox read locally, then on the backend. A
// failed request triggers a refresh so the store matches the server again.
func (c *Controller) MarkAllRead(ctx context.Context) (int, error) {
	changed := c.store.MarkAllRead()

	scoped, session, done := c.scope(ctx)
	defer done()

	updated, err := c.api.MarkAllRead(scoped)
	if stale := c.discarded(session); stale != nil {
		return 0, stale
	}
	if err != nil {
		metrics.IncrementCompensation("mark_all_read")
		c.logger.Warn("mark all read failed, reconciling", zap.Error(err))
		if refreshErr := c.Refresh(ctx); refreshErr != nil {
			c.logger.Warn("reconcile after mark all read failed", zap.Error(refreshErr))
		}
		return 0, fmt.Errorf("marking all read: %w", err)
	}

	c.logger.Debug("marked all read",
		zap.Int("local_changed", changed),
		zap.Int("server_updated", updated),
	)
	return updated, nil
}

// Reset starts a new session: requests still in flight are canceled and
// their results dropped, and paging state is forgotten so the next Open
// fetches again. The syncer calls it when the member signs in or out.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.endSession()
	c.session, c.endSession = context.WithCancel(c.lifetime)
	c.opened = false
	c.nextPage = 0
	c.hasNext = false
	c.mu.Unlock()
}

// Close ends the controller's lifetime. In-flight requests are canceled
// and their results are not applied.
func (c *Controller) Close() {
	c.cancel()
}

// discarded reports why a result from session must not be applied.
func (c *Controller) discarded(session context.Context) error {
	if c.lifetime.Err() != nil {
		return ErrClosed
	}
	if session.Err() != nil {
		return ErrSessionEnded
	}
	return nil
}

// apply runs fn under the controller lock if session is still current, so
// a concurrent Reset either happens before the check or after fn.
func (c *Controller) apply(session context.Context, fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.discarded(session); err != nil {
		return err
	}
	fn()
	return nil
}

// scope derives a request context that is canceled by Close and by Reset.
// It also returns the session the request belongs to.
func (c *Controller) scope(ctx context.Context) (context.Context, context.Context, func()) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(session, cancel)
	return ctx, session, func() {
		stop()
		cancel()
	}
}
