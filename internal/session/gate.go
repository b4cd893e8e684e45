// Package session owns the member's authentication state. The rest of the
// client only asks whether a session exists and which member it belongs to.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roomcrew/roomnoti/internal/backend"
	"github.com/roomcrew/roomnoti/internal/credential"
	"github.com/roomcrew/roomnoti/internal/model"
)

// API is the slice of the backend client the gate needs.
type API interface {
	Me(ctx context.Context) (*model.Member, error)
	SetToken(token string)
}

// Change is published on every authentication transition.
type Change struct {
	Authenticated bool
	Member        model.Member
}

// Gate tracks whether the stored access token is accepted by the backend.
type Gate struct {
	creds  credential.Store
	api    API
	logger *zap.Logger
	now    func() time.Time

	mu            sync.RWMutex
	authenticated bool
	member        model.Member

	subsMu sync.Mutex
	subs   map[chan Change]struct{}
}

// NewGate creates an unauthenticated gate. Call Check to restore a stored
// session.
func NewGate(creds credential.Store, api API, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		creds:  creds,
		api:    api,
		logger: logger,
		now:    time.Now,
		subs:   make(map[chan Change]struct{}),
	}
}

// Check validates the stored token and updates the session state. A token
// that the backend rejects, or whose exp claim has passed, is deleted. A
// transport failure leaves the token in place for the next attempt.
func (g *Gate) Check(ctx context.Context) error {
	token, err := g.creds.Get(credential.AccessTokenKey)
	if errors.Is(err, credential.ErrNotFound) || (err == nil && token == "") {
		g.setState(false, model.Member{})
		return ErrNoToken
	}
	if err != nil {
		g.setState(false, model.Member{})
		return fmt.Errorf("reading access token: %w", err)
	}

	// Opaque tokens skip the local checks and go straight to the backend.
	claims, claimErr := ParseClaims(token)
	if claimErr != nil {
		g.logger.Debug("access token is not a readable JWT", zap.Error(claimErr))
	} else if claims.Expired(g.now()) {
		g.logger.Info("stored access token expired", zap.Time("expires_at", claims.ExpiresAt))
		g.forget()
		return ErrExpired
	}

	g.api.SetToken(token)
	member, err := g.api.Me(ctx)
	if err != nil {
		if backend.IsAuthError(err) {
			g.logger.Info("backend rejected access token", zap.Error(err))
			g.forget()
			return err
		}
		g.api.SetToken("")
		g.setState(false, model.Member{})
		return fmt.Errorf("confirming session: %w", err)
	}

	if claimErr == nil && claims.MemberID != 0 && claims.MemberID != member.ID {
		g.logger.Warn("token member id differs from backend member",
			zap.Int64("claim_member_id", claims.MemberID),
			zap.Int64("member_id", member.ID),
		)
	}

	g.setState(true, *member)
	return nil
}

// Login stores a new access token and checks it.
func (g *Gate) Login(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return ErrNoToken
	}
	if err := g.creds.Set(credential.AccessTokenKey, token); err != nil {
		return fmt.Errorf("saving access token: %w", err)
	}
	return g.Check(ctx)
}

// Logout deletes the stored token and ends the session.
func (g *Gate) Logout() error {
	err := g.creds.Delete(credential.AccessTokenKey)
	g.api.SetToken("")
	g.setState(false, model.Member{})
	if err != nil {
		return fmt.Errorf("deleting access token: %w", err)
	}
	return nil
}

// Authenticated reports whether a confirmed session exists.
func (g *Gate) Authenticated() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.authenticated
}

// Member returns the session's member. It is the zero Member when
// unauthenticated.
func (g *Gate) Member() model.Member {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.member
}

// Subscribe returns a channel receiving every authentication transition.
// The returned func unsubscribes.
func (g *Gate) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 8)
	g.subsMu.Lock()
	g.subs[ch] = struct{}{}
	g.subsMu.Unlock()

	return ch, func() {
		g.subsMu.Lock()
		delete(g.subs, ch)
		g.subsMu.Unlock()
	}
}

func (g *Gate) forget() {
	if err := g.creds.Delete(credential.AccessTokenKey); err != nil {
		g.logger.Warn("failed to delete access token", zap.Error(err))
	}
	g.api.SetToken("")
	g.setState(false, model.Member{})
}

func (g *Gate) setState(authenticated bool, member model.Member) {
	g.mu.Lock()
	changed := g.authenticated != authenticated || g.member.ID != member.ID
	g.authenticated = authenticated
	g.member = member
	g.mu.Unlock()

	if !changed {
		return
	}

	g.logger.Info("session changed",
		zap.Bool("authenticated", authenticated),
		zap.Int64("member_id", member.ID),
	)

	change := Change{Authenticated: authenticated, Member: member}
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	for ch := range g.subs {
		select {
		case ch <- change:
		default:
			g.logger.Warn("session subscriber is not keeping up; transition dropped")
		}
	}
}
