package notification

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. Suitable for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Notification
	index map[string]int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]int)}
}

func (s *MemoryStore) CountNotifications(_ context.Context, f CountFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, it := range s.items {
		if matches(it, f) {
			n++
		}
	}
	return n, nil
}

func matches(n Notification, f CountFilter) bool {
	switch {
	case f.UserID != "" && n.RecipientUserID != f.UserID:
		return false
	case f.SenderUserID != "" && n.SenderUserID != f.SenderUserID:
		return false
	case f.Type != "" && n.Type != f.Type:
		return false
	case f.IsRead != nil && n.IsRead != *f.IsRead:
		return false
	case !f.CreatedAfter.IsZero() && n.CreatedAt.Before(f.CreatedAfter):
		return false
	}
	return true
}

// FindDuplicate reports nothing for an empty entityID.
func (s *MemoryStore) FindDuplicate(_ context.Context, recipientUserID string, t Type, entityID string, since time.Time) (*Notification, error) {
	if entityID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Notification
	for i := range s.items {
		it := s.items[i]
		if it.RecipientUserID != recipientUserID || it.Type != t || it.EntityID != entityID {
			continue
		}
		if it.CreatedAt.Before(since) {
			continue
		}
		if found == nil || it.CreatedAt.After(found.CreatedAt) {
			cp := it
			found = &cp
		}
	}
	return found, nil
}

func (s *MemoryStore) CreateNotification(_ context.Context, n Notification) (Notification, error) {
	if n.ID == "" || n.RecipientUserID == "" || !n.Type.Valid() {
		return Notification{}, ErrInvalidNotification
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[n.ID]; ok {
		return Notification{}, ErrInvalidNotification
	}
	s.index[n.ID] = len(s.items)
	s.items = append(s.items, n)
	return n, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, userID string, ids []string) (ReadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := ReadResult{AffectedIDs: []string{}}
	for _, id := range ids {
		i, ok := s.index[id]
		if !ok {
			continue
		}
		it := &s.items[i]
		if it.RecipientUserID != userID || it.IsRead {
			continue
		}
		it.IsRead = true
		res.UpdatedCount++
		res.AffectedIDs = append(res.AffectedIDs, id)
	}
	return res, nil
}

func (s *MemoryStore) MarkAllRead(_ context.Context, userID string) (ReadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := ReadResult{AffectedIDs: []string{}}
	for i := range s.items {
		it := &s.items[i]
		if it.RecipientUserID != userID || it.IsRead {
			continue
		}
		it.IsRead = true
		res.UpdatedCount++
		res.AffectedIDs = append(res.AffectedIDs, it.ID)
	}
	return res, nil
}

func (s *MemoryStore) List(_ context.Context, userID string, opts ListOptions) ([]Notification, error) {
	s.mu.RLock()
	out := make([]Notification, 0)
	for _, it := range s.items {
		if it.RecipientUserID != userID || (opts.OnlyUnread && it.IsRead) {
			continue
		}
		out = append(out, it)
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Notification) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})

	if opts.Offset >= len(out) {
		return []Notification{}, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}
