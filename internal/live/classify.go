package live

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"

	"github.com/roomcrew/roomnoti/internal/backend"
)

var (
	// ErrUnauthorized stops the channel: the backend refused the session.
	ErrUnauthorized = errors.New("live channel unauthorized")

	// ErrIdleTimeout is reported when the stream went silent for too long.
	ErrIdleTimeout = errors.New("live channel idle timeout")

	// ErrStreamClosed is reported when the server ended the stream.
	ErrStreamClosed = errors.New("live channel closed by server")
)

// Classify reports whether a connection failure should be retried and a
// short reason used for logs and metrics.
func Classify(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	if backend.IsAuthError(err) || errors.Is(err, ErrUnauthorized) {
		return false, "unauthorized"
	}
	if errors.Is(err, context.Canceled) {
		return false, "canceled"
	}

	if errors.Is(err, ErrIdleTimeout) {
		return true, "idle_timeout"
	}
	if errors.Is(err, ErrStreamClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true, "stream_closed"
	}

	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		return true, "http_status"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true, "network_error"
	}

	// Everything else is transient from the client's point of view.
	return true, "unknown_error"
}
