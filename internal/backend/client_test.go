package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roomcrew/roomnoti/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(server.URL+"/", 5*time.Second, zap.NewNop())
	client.SetToken("test-token")
	return client
}

func TestMe(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/members/me", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":7,"nickname":"escaper","profileImageUrl":"https://img/7.png"}`))
	})

	member, err := client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &model.Member{ID: 7, Nickname: "escaper", ProfileImageURL: "https://img/7.png"}, member)
}

func TestListNotifications(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notifications", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("size"))

		w.Write([]byte(`{
			"notifications": [
				{"id": 12, "title": "새 메시지", "content": "hi", "type": "MESSAGE", "isRead": false, "createdAt": "2024-05-01T10:00:00", "relatedId": 3},
				{"id": 11, "title": "공지", "content": "", "type": "SYSTEM", "isRead": true, "createdAt": "2024-04-30T09:00:00Z"}
			],
			"totalCount": 42,
			"unreadCount": 5,
			"hasNext": true
		}`))
	})

	page, err := client.ListNotifications(context.Background(), 2, 20)
	require.NoError(t, err)
	require.Len(t, page.Notifications, 2)
	assert.Equal(t, int64(12), page.Notifications[0].ID)
	assert.Equal(t, model.CategoryMessage, page.Notifications[0].Category)
	require.NotNil(t, page.Notifications[0].RelatedID)
	assert.Equal(t, int64(3), *page.Notifications[0].RelatedID)
	assert.True(t, page.Notifications[1].Read)
	assert.Equal(t, int64(42), page.TotalCount)
	assert.Equal(t, 5, page.UnreadCount)
	assert.True(t, page.HasNext)
}

func TestUnreadCount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notifications/unread-count", r.URL.Path)
		w.Write([]byte(`{"unreadCount":9}`))
	})

	n, err := client.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}

func TestMarkRead(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/notifications/12/read", r.URL.Path)
		w.Write([]byte(`{"notification":{"id":12,"title":"t","type":"POST_REPLY","isRead":true},"redirectUrl":"/posts/3"}`))
	})

	result, err := client.MarkRead(context.Background(), 12)
	require.NoError(t, err)
	assert.True(t, result.Notification.Read)
	assert.Equal(t, "/posts/3", result.RedirectURL)
}

func TestMarkAllRead(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/notifications/read-all", r.URL.Path)
		w.Write([]byte(`{"updatedCount":4}`))
	})

	n, err := client.MarkAllRead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestDeleteNoContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/notifications/12", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.Delete(context.Background(), 12))
}

func TestAuthErrors(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
				w.Write([]byte(`{"message":"token expired","code":"AUTH_001"}`))
			})

			_, err := client.Me(context.Background())
			require.Error(t, err)
			assert.True(t, IsAuthError(err))

			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, status, authErr.StatusCode)
			assert.Equal(t, "token expired", authErr.Message)
		})
	}
}

func TestStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"notification not found"}`))
	})

	err := client.Delete(context.Background(), 99)
	require.Error(t, err)
	assert.False(t, IsAuthError(err))
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "notification not found")
}

func TestRetriesOnRateLimit(t *testing.T) {
	var attempts int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"unreadCount":1}`))
	})

	n, err := client.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestRequestIDsAreUnique(t *testing.T) {
	seen := make(chan string, 2)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("X-Request-ID")
		w.Write([]byte(`{"unreadCount":0}`))
	})

	_, err := client.UnreadCount(context.Background())
	require.NoError(t, err)
	_, err = client.UnreadCount(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, <-seen, <-seen)
}

func TestNoTokenOmitsAuthorization(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"unreadCount":0}`))
	})
	client.SetToken("")

	_, err := client.UnreadCount(context.Background())
	require.NoError(t, err)
}

func TestOpenStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultStreamPath, r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "41", r.Header.Get("Last-Event-ID"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: connected\ndata: ok\n\n"))
	})

	resp, err := client.OpenStream(context.Background(), "", "41")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "event: connected\ndata: ok\n\n", string(body))
}

func TestOpenStreamUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.OpenStream(context.Background(), DefaultStreamPath, "")
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestReadResultWireShape(t *testing.T) {
	var result ReadResult
	require.NoError(t, json.Unmarshal([]byte(`{"notification":{"id":1,"type":"bogus"},"redirectUrl":""}`), &result))
	assert.Equal(t, model.CategoryEtc, result.Notification.Category)
	assert.Empty(t, result.RedirectURL)
}

func TestMarkReadWithRedirectOnly(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"notification":null,"redirectUrl":"/parties/3"}`))
	})

	result, err := client.MarkRead(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, result.Notification)
	assert.Equal(t, "/parties/3", result.RedirectURL)
}

func TestListNotificationsSkipsRecordsWithoutID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"notifications": [
				{"id": 3, "title": "kept", "type": "SYSTEM"},
				{"title": "no id", "type": "SYSTEM"},
				null,
				{"id": 2, "title": "bad time", "createdAt": "yesterday"},
				{"id": 1, "title": "also kept", "type": "MESSAGE"}
			],
			"unreadCount": 2,
			"hasNext": false
		}`))
	})

	page, err := client.ListNotifications(context.Background(), 0, 20)
	require.NoError(t, err)
	require.Len(t, page.Notifications, 2)
	assert.Equal(t, int64(3), page.Notifications[0].ID)
	assert.Equal(t, int64(1), page.Notifications[1].ID)
	assert.Equal(t, 3, page.Skipped)
	assert.Equal(t, 2, page.UnreadCount)
}
