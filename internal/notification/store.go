// Package notification owns the member's in-memory inbox: the ordered
// notification collection and its unread counter.
//
// Store is the only component allowed to mutate either. Every method holds
// the store's mutex for its whole body, so each mutation is applied
// atomically with respect to the goroutine (push event, UI action, HTTP
// callback) that performs it.
package notification

import (
	"sync"

	"github.com/roomcrew/roomnoti/internal/model"
)

// Store holds the notification collection, newest first, and the unread
// counter for the current session.
type Store struct {
	mu     sync.Mutex
	items  []model.Notification
	unread int

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{subs: make(map[chan struct{}]struct{})}
}

// Add prepends a record and increments the unread counter iff the record is
// unread. Records are not de-duplicated by id: a redelivered push event is
// counted twice unless the caller filters it first.
func (s *Store) Add(n model.Notification) {
	s.mu.Lock()
	s.items = append([]model.Notification{n}, s.items...)
	if !n.Read {
		s.unread++
	}
	s.mu.Unlock()
	s.notify()
}

// MarkRead sets the read flag on the record with the given id and
// decrements the unread counter, floored at zero. It reports whether this
// call flipped the record from unread to read; marking an already-read or
// absent record changes nothing.
func (s *Store) MarkRead(id int64) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 || s.items[i].Read {
		s.mu.Unlock()
		return false
	}
	s.items[i].Read = true
	s.decrement()
	s.mu.Unlock()
	s.notify()
	return true
}

// MarkAllRead marks every record read, resets the counter to zero, and
// returns how many records changed.
func (s *Store) MarkAllRead() int {
	s.mu.Lock()
	changed := 0
	for i := range s.items {
		if !s.items[i].Read {
			s.items[i].Read = true
			changed++
		}
	}
	s.unread = 0
	s.mu.Unlock()
	s.notify()
	return changed
}

// Remove deletes the record with the given id and returns it together with
// its former index so a failed backend delete can put it back. Removing an
// unread record also decrements the unread counter. A plain delete that
// left the counter alone would keep counting the removed record until the
// next fetch replaced the counter.
func (s *Store) Remove(id int64) (model.Notification, int, bool) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return model.Notification{}, -1, false
	}
	removed := s.items[i]
	s.items = append(s.items[:i:i], s.items[i+1:]...)
	if !removed.Read {
		s.decrement()
	}
	s.mu.Unlock()
	s.notify()
	return removed, i, true
}

// Restore reinserts a record removed by Remove at its former index, clamped
// to the current length. It is a no-op if a record with that id has since
// reappeared (for example through a reconcile).
func (s *Store) Restore(n model.Notification, index int) {
	s.mu.Lock()
	if s.indexOf(n.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	if index < 0 {
		index = 0
	}
	if index > len(s.items) {
		index = len(s.items)
	}
	s.items = append(s.items, model.Notification{})
	copy(s.items[index+1:], s.items[index:])
	s.items[index] = n
	if !n.Read {
		s.unread++
	}
	s.mu.Unlock()
	s.notify()
}

// MarkUnread reverts an optimistic MarkRead after the backend refused it.
// It must only be used to undo this client's own change; the server never
// resurrects a read record.
func (s *Store) MarkUnread(id int64) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 || !s.items[i].Read {
		s.mu.Unlock()
		return false
	}
	s.items[i].Read = false
	s.unread++
	s.mu.Unlock()
	s.notify()
	return true
}

// Clear empties the collection and resets the counter.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = nil
	s.unread = 0
	s.mu.Unlock()
	s.notify()
}

// Replace rebuilds the store from an authoritative server response. Items
// keep the server's order, which is newest first; unread is the server's
// count. A negative unread means "unknown" and the count is derived from
// items instead.
func (s *Store) Replace(items []model.Notification, unread int) {
	fresh := make([]model.Notification, len(items))
	copy(fresh, items)
	if unread < 0 {
		unread = countUnread(fresh)
	}

	s.mu.Lock()
	s.items = fresh
	s.unread = unread
	s.mu.Unlock()
	s.notify()
}

// Append adds an older page to the end of the collection, skipping ids
// already present. It returns how many records were appended. The unread
// counter is not touched: the server count already covers older pages.
func (s *Store) Append(items []model.Notification) int {
	s.mu.Lock()
	seen := make(map[int64]struct{}, len(s.items))
	for _, n := range s.items {
		seen[n.ID] = struct{}{}
	}
	added := 0
	for _, n := range items {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		s.items = append(s.items, n)
		added++
	}
	s.mu.Unlock()
	if added > 0 {
		s.notify()
	}
	return added
}

// SetUnread overwrites the counter with an authoritative server value.
func (s *Store) SetUnread(n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	changed := s.unread != n
	s.unread = n
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Snapshot returns a copy of the collection, newest first.
func (s *Store) Snapshot() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Notification, len(s.items))
	copy(out, s.items)
	return out
}

// Unread returns the unread counter.
func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Get returns the record with the given id.
func (s *Store) Get(id int64) (model.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return model.Notification{}, false
	}
	return s.items[i], true
}

// CountUnread derives the unread count from the collection itself. It
// equals Unread() whenever no drift has occurred.
func (s *Store) CountUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return countUnread(s.items)
}

// Subscribe returns a channel that receives a signal after every mutation.
// Signals coalesce: a slow reader sees one pending signal, not a backlog.
// The returned func unsubscribes and must be called exactly once.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	return ch, func() {
		s.subsMu.Lock()
		delete(s.subs, ch)
		s.subsMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// indexOf must be called with mu held.
func (s *Store) indexOf(id int64) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// decrement must be called with mu held.
func (s *Store) decrement() {
	if s.unread > 0 {
		s.unread--
	}
}

func countUnread(items []model.Notification) int {
	n := 0
	for _, it := range items {
		if !it.Read {
			n++
		}
	}
	return n
}
