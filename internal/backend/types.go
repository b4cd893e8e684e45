package backend

import (
	"encoding/json"

	"github.com/roomcrew/roomnoti/internal/model"
)

// NotificationPage is one page of GET /api/notifications.
type NotificationPage struct {
	Notifications []model.Notification `json:"notifications"`
	TotalCount    int64                `json:"totalCount"`
	UnreadCount   int                  `json:"unreadCount"`
	HasNext       bool                 `json:"hasNext"`

	// Skipped counts records dropped because they could not be decoded.
	Skipped int `json:"-"`
}

// UnmarshalJSON decodes a page record by record, so one unaddressable
// record costs only itself.
func (p *NotificationPage) UnmarshalJSON(data []byte) error {
	var wire struct {
		Notifications []json.RawMessage `json:"notifications"`
		TotalCount    int64             `json:"totalCount"`
		UnreadCount   int               `json:"unreadCount"`
		HasNext       bool              `json:"hasNext"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*p = NotificationPage{
		Notifications: make([]model.Notification, 0, len(wire.Notifications)),
		TotalCount:    wire.TotalCount,
		UnreadCount:   wire.UnreadCount,
		HasNext:       wire.HasNext,
	}
	for _, raw := range wire.Notifications {
		var n model.Notification
		if err := json.Unmarshal(raw, &n); err != nil || n.ID == 0 {
			p.Skipped++
			continue
		}
		p.Notifications = append(p.Notifications, n)
	}
	return nil
}

// ReadResult is the answer to a read confirmation. Notification is nil
// when the backend only hands back a redirect.
type ReadResult struct {
	Notification *model.Notification `json:"notification"`
	RedirectURL  string              `json:"redirectUrl"`
}

type unreadCountResponse struct {
	UnreadCount int `json:"unreadCount"`
}

type markAllReadResponse struct {
	UpdatedCount int `json:"updatedCount"`
}

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
