package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned when no access token is stored.
	ErrNoToken = errors.New("no access token")

	// ErrExpired is returned when the stored token's exp claim has passed.
	ErrExpired = errors.New("access token expired")
)

// Claims is the subset of the access token's claims the client reads.
// The signature is never verified here: the backend remains the only
// authority, and /api/members/me confirms every session.
type Claims struct {
	MemberID  int64
	ExpiresAt time.Time
}

// ParseClaims decodes a JWT access token without verifying it. The member
// id is read from "memberId", falling back to a numeric "sub".
func ParseClaims(token string) (*Claims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parsing access token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenMalformed
	}

	out := &Claims{}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}

	switch v := claims["memberId"].(type) {
	case float64:
		out.MemberID = int64(v)
	case string:
		out.MemberID, _ = strconv.ParseInt(v, 10, 64)
	}
	if out.MemberID == 0 {
		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			out.MemberID, _ = strconv.ParseInt(sub, 10, 64)
		}
	}
	return out, nil
}

// Expired reports whether the token carries an exp claim that is not
// after now.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}
