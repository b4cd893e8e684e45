package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roomcrew/roomnoti/internal/backend"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := Backoff{Base: 3 * time.Second, Max: 60 * time.Second, Multiplier: 2}

	var got []time.Duration
	for i := 0; i < 7; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		3 * time.Second,
		6 * time.Second,
		12 * time.Second,
		24 * time.Second,
		48 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, 3*time.Second, b.Next())
}

func TestBackoffNeverBelowBase(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Second, Multiplier: 1}
	for i := 0; i < 5; i++ {
		assert.Equal(t, time.Second, b.Next())
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		reason    string
	}{
		{"nil", nil, false, ""},
		{"401", &backend.AuthError{StatusCode: 401}, false, "unauthorized"},
		{"wrapped 403", fmt.Errorf("open: %w", &backend.AuthError{StatusCode: 403}), false, "unauthorized"},
		{"canceled", context.Canceled, false, "canceled"},
		{"idle", ErrIdleTimeout, true, "idle_timeout"},
		{"closed", ErrStreamClosed, true, "stream_closed"},
		{"truncated", fmt.Errorf("reading: %w", io.ErrUnexpectedEOF), true, "stream_closed"},
		{"502", &backend.StatusError{StatusCode: 502}, true, "http_status"},
		{"net timeout", timeoutErr{}, true, "network_timeout"},
		{"other", errors.New("boom"), true, "unknown_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryable, reason := Classify(tt.err)
			assert.Equal(t, tt.retryable, retryable)
			assert.Equal(t, tt.reason, reason)
		})
	}
}
