package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Category tags a notification for display styling. It carries no
// behavioral meaning beyond choosing a label, colour, and glyph.
type Category string

const (
	CategorySystem           Category = "SYSTEM"
	CategoryMessage          Category = "MESSAGE"
	CategorySubscription     Category = "SUBSCRIPTION"
	CategoryPartyApplication Category = "PARTY_APPLICATION"
	CategoryPartyStatus      Category = "PARTY_STATUS"
	CategoryAnswerComment    Category = "ANSWER_COMMENT"
	CategoryPostReply        Category = "POST_REPLY"
	CategoryEtc              Category = "ETC"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategorySystem,
	CategoryMessage,
	CategorySubscription,
	CategoryPartyApplication,
	CategoryPartyStatus,
	CategoryAnswerComment,
	CategoryPostReply,
	CategoryEtc,
}

// ParseCategory normalizes a wire tag. Unknown or empty tags map to
// CategoryEtc so that a new server-side category never breaks decoding.
func ParseCategory(s string) Category {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return CategoryEtc
}

// UnmarshalJSON decodes a category tag, folding unknown values into ETC.
func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("category: %w", err)
	}
	*c = ParseCategory(s)
	return nil
}

// Label returns the short human-readable name shown in list badges.
func (c Category) Label() string {
	switch c {
	case CategorySystem:
		return "system"
	case CategoryMessage:
		return "message"
	case CategorySubscription:
		return "subscription"
	case CategoryPartyApplication:
		return "party apply"
	case CategoryPartyStatus:
		return "party"
	case CategoryAnswerComment:
		return "answer"
	case CategoryPostReply:
		return "reply"
	default:
		return "other"
	}
}

// Notification is one alert delivered to a member.
type Notification struct {
	// ID is assigned by the backend and unique per notification.
	ID int64 `json:"id"`

	// Title is the headline text.
	Title string `json:"title"`

	// Content is the body text.
	Content string `json:"content"`

	// Category selects the display style.
	Category Category `json:"type"`

	// Read reports whether the member has seen this notification.
	Read bool `json:"isRead"`

	// CreatedAt is when the backend created the notification.
	CreatedAt time.Time `json:"-"`

	// RelatedID points at the entity (party, post, message) used for
	// deep-linking. Nil when the notification links nowhere.
	RelatedID *int64 `json:"relatedId,omitempty"`
}

// backend timestamps arrive either zoned or as a bare local datetime.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a backend timestamp in any of the accepted layouts.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

type notificationAlias Notification

type notificationWire struct {
	notificationAlias
	CreatedAt string `json:"createdAt"`
}

// UnmarshalJSON decodes the backend wire form. A JSON null leaves n
// untouched. A record without an id is rejected because the store could
// never address it.
func (n *Notification) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	var w notificationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.ID == 0 {
		return fmt.Errorf("notification: missing id")
	}
	*n = Notification(w.notificationAlias)
	if n.Category == "" {
		n.Category = CategoryEtc
	}
	if w.CreatedAt != "" {
		t, err := ParseTimestamp(w.CreatedAt)
		if err != nil {
			return fmt.Errorf("notification %d: %w", n.ID, err)
		}
		n.CreatedAt = t
	}
	return nil
}

// MarshalJSON encodes the backend wire form.
func (n Notification) MarshalJSON() ([]byte, error) {
	w := notificationWire{notificationAlias: notificationAlias(n)}
	if !n.CreatedAt.IsZero() {
		w.CreatedAt = n.CreatedAt.Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}

// DeepLink returns the in-app path a notification points to, used when
// the backend does not hand back an explicit redirect target.
func (n Notification) DeepLink() string {
	if n.RelatedID == nil {
		return ""
	}
	id := *n.RelatedID
	switch n.Category {
	case CategoryMessage:
		return fmt.Sprintf("/messages/%d", id)
	case CategoryPartyApplication, CategoryPartyStatus:
		return fmt.Sprintf("/parties/%d", id)
	case CategoryAnswerComment, CategoryPostReply:
		return fmt.Sprintf("/posts/%d", id)
	case CategorySubscription:
		return fmt.Sprintf("/themes/%d", id)
	default:
		return ""
	}
}
