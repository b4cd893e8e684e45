// Package live keeps the server-push connection that delivers new
// notifications while the member is signed in.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/roomcrew/roomnoti/internal/metrics"
	"github.com/roomcrew/roomnoti/internal/model"
)

// State is the live channel's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	// Stopped is terminal until the next Connect: the backend refused the
	// session, so reconnecting cannot help.
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	eventConnected    = "connected"
	eventNotification = "notification"
)

// ErrNotAuthenticated is returned by Connect without a signed-in member.
var ErrNotAuthenticated = errors.New("live channel requires an authenticated member")

// Stream opens the server-push endpoint.
type Stream interface {
	OpenStream(ctx context.Context, path, lastEventID string) (*http.Response, error)
}

// Sink receives decoded notifications.
type Sink interface {
	Add(n model.Notification)
}

// StateChange is published on every state transition. Err is set when the
// channel stopped or dropped because of a failure.
type StateChange struct {
	State State
	Err   error
}

// Options configures a Channel.
type Options struct {
	StreamPath        string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	BackoffMultiplier float64
	// IdleTimeout tears the connection down when nothing, not even a
	// keep-alive comment, arrives for this long. Zero disables it.
	IdleTimeout time.Duration
	// Deduper drops redelivered ids before they reach the sink. Nil
	// delivers everything.
	Deduper Deduper
	Logger  *zap.Logger
}

// Channel maintains at most one server-push connection and reconnects
// with backoff after transient failures.
type Channel struct {
	stream Stream
	sink   Sink
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	stateMu     sync.Mutex
	state       State
	lastErr     error
	lastEventID string
	subs        map[chan StateChange]struct{}
}

// NewChannel creates a disconnected channel delivering into sink.
func NewChannel(stream Stream, sink Sink, opts Options) *Channel {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = opts.ReconnectDelay
	}
	if opts.BackoffMultiplier < 1 {
		opts.BackoffMultiplier = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		stream: stream,
		sink:   sink,
		opts:   opts,
		logger: logger,
		subs:   make(map[chan StateChange]struct{}),
	}
}

// Connect starts the connection loop for member. A running connection is
// torn down first. It returns immediately; progress is reported through
// States.
func (c *Channel) Connect(ctx context.Context, member model.Member) error {
	if member.ID == 0 {
		return ErrNotAuthenticated
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	c.stateMu.Lock()
	c.lastEventID = ""
	c.stateMu.Unlock()

	c.setState(Connecting, nil)
	go c.run(runCtx, member, done)
	return nil
}

// Disconnect closes the connection and cancels any pending reconnect. It
// is safe to call at any time, any number of times.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	running := c.stopLocked()
	if running || c.State() != Disconnected {
		c.setState(Disconnected, nil)
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Err returns the failure behind the latest Disconnected or Stopped state.
func (c *Channel) Err() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.lastErr
}

// States returns a channel receiving every state transition. The returned
// func unsubscribes.
func (c *Channel) States() (<-chan StateChange, func()) {
	ch := make(chan StateChange, 16)
	c.stateMu.Lock()
	c.subs[ch] = struct{}{}
	c.stateMu.Unlock()

	return ch, func() {
		c.stateMu.Lock()
		delete(c.subs, ch)
		c.stateMu.Unlock()
	}
}

// stopLocked cancels the running loop and waits for it to exit. It must be
// called with mu held and reports whether a loop was running.
func (c *Channel) stopLocked() bool {
	if c.cancel == nil {
		return false
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
	return true
}

func (c *Channel) run(ctx context.Context, member model.Member, done chan struct{}) {
	defer close(done)

	backoff := Backoff{
		Base:       c.opts.ReconnectDelay,
		Max:        c.opts.MaxReconnectDelay,
		Multiplier: c.opts.BackoffMultiplier,
	}
	logger := c.logger.With(zap.Int64("member_id", member.ID))

	for {
		c.setState(Connecting, nil)
		connected, err := c.connectOnce(ctx, member, logger)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff.Reset()
		}

		retryable, reason := Classify(err)
		if !retryable {
			logger.Warn("live channel stopped", zap.String("reason", reason), zap.Error(err))
			if reason == "unauthorized" {
				err = fmt.Errorf("%w: %w", ErrUnauthorized, err)
			}
			c.setState(Stopped, err)
			return
		}

		delay := backoff.Next()
		metrics.IncrementLiveReconnect(reason)
		logger.Info("live channel dropped, reconnect scheduled",
			zap.String("reason", reason),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		c.setState(Disconnected, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connectOnce opens one connection and reads it until it fails. connected
// reports whether the server accepted the subscription.
func (c *Channel) connectOnce(ctx context.Context, member model.Member, logger *zap.Logger) (bool, error) {
	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	resp, err := c.stream.OpenStream(connCtx, c.opts.StreamPath, c.currentEventID())
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	c.setState(Connected, nil)
	logger.Info("live channel connected")

	var body io.Reader = resp.Body
	var idled atomic.Bool
	if c.opts.IdleTimeout > 0 {
		timer := time.AfterFunc(c.opts.IdleTimeout, func() {
			idled.Store(true)
			cancelConn()
		})
		defer timer.Stop()
		body = &idleReader{r: resp.Body, timer: timer, timeout: c.opts.IdleTimeout}
	}

	dec := NewDecoder(body)
	for {
		event, err := dec.Next()
		if err != nil {
			if idled.Load() {
				return true, ErrIdleTimeout
			}
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return true, ErrStreamClosed
			}
			return true, fmt.Errorf("reading live stream: %w", err)
		}
		if event.ID != "" {
			c.setEventID(event.ID)
		}
		c.handle(ctx, member, event, logger)
	}
}

func (c *Channel) handle(ctx context.Context, member model.Member, event Event, logger *zap.Logger) {
	metrics.IncrementLiveEvent(event.Name)

	switch event.Name {
	case eventConnected:
		logger.Debug("live channel handshake", zap.String("data", event.Data))

	case eventNotification:
		var n model.Notification
		err := json.Unmarshal([]byte(event.Data), &n)
		if err == nil && n.ID == 0 {
			err = errors.New("notification: missing id")
		}
		if err != nil {
			metrics.IncrementLiveDecodeFailure()
			logger.Warn("dropping undecodable notification event",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
			return
		}
		if c.opts.Deduper != nil && !c.opts.Deduper.AcquireOnce(ctx, member.ID, n.ID) {
			metrics.IncrementLiveDuplicate()
			return
		}
		c.sink.Add(n)
		logger.Debug("notification received",
			zap.Int64("notification_id", n.ID),
			zap.String("category", string(n.Category)),
		)

	default:
		logger.Debug("ignoring live event", zap.String("event", event.Name))
	}
}

func (c *Channel) currentEventID() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.lastEventID
}

func (c *Channel) setEventID(id string) {
	c.stateMu.Lock()
	c.lastEventID = id
	c.stateMu.Unlock()
}

func (c *Channel) setState(state State, err error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state == state && err == nil {
		return
	}
	c.state = state
	c.lastErr = err
	metrics.SetLiveChannelState(int(state))

	change := StateChange{State: state, Err: err}
	for ch := range c.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

// idleReader re-arms the idle timer whenever bytes arrive.
type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}
