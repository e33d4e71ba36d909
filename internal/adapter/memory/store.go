// Package memory is a process-local persistence gateway used by tests and by
// storage.driver=memory deployments.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lostfound/im-realtime-service/internal/domain/model"
	"github.com/lostfound/im-realtime-service/internal/service"
)

type Store struct {
	mu            sync.RWMutex
	users         map[string]model.User
	conversations map[string]*model.Conversation
	byPair        map[string]string
	messages      map[string]*model.Message
	notifications map[string]*model.Notification
}

var _ service.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:         make(map[string]model.User),
		conversations: make(map[string]*model.Conversation),
		byPair:        make(map[string]string),
		messages:      make(map[string]*model.Message),
		notifications: make(map[string]*model.Notification),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

// PutUser seeds or replaces a user projection.
func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	s.users[u.Username] = u
	s.mu.Unlock()
}

func (s *Store) FindUser(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return &u, nil
}

// UpsertConversation is atomic under the store lock.
func (s *Store) UpsertConversation(_ context.Context, pair model.Pair, at time.Time) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPair[pair.Key()]; ok {
		c := *s.conversations[id]
		return &c, nil
	}
	c := &model.Conversation{
		ID:           uuid.NewString(),
		Participants: pair,
		PairKey:      pair.Key(),
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	s.conversations[c.ID] = c
	s.byPair[c.PairKey] = c.ID
	out := *c
	return &out, nil
}

func (s *Store) FindConversation(_ context.Context, pair model.Pair) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPair[pair.Key()]
	if !ok {
		return nil, model.ErrConversationNotFound
	}
	c := *s.conversations[id]
	return &c, nil
}

func (s *Store) TouchConversation(_ context.Context, id, lastMessageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return model.ErrConversationNotFound
	}
	c.UpdatedAt = at
	c.LastMessageID = lastMessageID
	return nil
}

func (s *Store) ListConversations(_ context.Context, identity string) ([]*model.Conversation, error) {
	s.mu.RLock()
	out := make([]*model.Conversation, 0)
	for _, c := range s.conversations {
		if c.Participants.Has(identity) {
			cp := *c
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *model.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out, nil
}

func (s *Store) InsertMessage(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; ok {
		return model.ErrConflict
	}
	cp := cloneMessage(msg)
	s.messages[msg.ID] = cp
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, model.ErrMessageNotFound
	}
	return cloneMessage(m), nil
}

func (s *Store) SoftDeleteMessage(_ context.Context, id, tombstone string, at time.Time) error {
	return s.updateMessage(id, func(m *model.Message) {
		m.Content = tombstone
		m.IsDeleted = true
		m.DeletedAt = &at
	})
}

func (s *Store) EditMessage(_ context.Context, id, content string, at time.Time) error {
	return s.updateMessage(id, func(m *model.Message) {
		m.Content = content
		m.IsEdited = true
		m.EditedAt = &at
	})
}

func (s *Store) MarkMessageRead(_ context.Context, id string, at time.Time) (bool, error) {
	changed := false
	err := s.updateMessage(id, func(m *model.Message) {
		if !m.IsRead {
			m.IsRead = true
			m.ReadAt = &at
			changed = true
		}
	})
	return changed, err
}

func (s *Store) updateMessage(id string, fn func(*model.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return model.ErrMessageNotFound
	}
	fn(m)
	return nil
}

func (s *Store) MarkConversationRead(_ context.Context, conversationID, reader string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.To == reader && !m.IsRead {
			m.IsRead = true
			m.ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (s *Store) ListMessages(_ context.Context, conversationID string, limit, skip int) ([]*model.Message, error) {
	s.mu.RLock()
	all := make([]*model.Message, 0)
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			all = append(all, cloneMessage(m))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(all, func(a, b *model.Message) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return window(all, limit, skip), nil
}

func (s *Store) CountUnread(_ context.Context, conversationID, reader string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.messages {
		if m.To == reader && !m.IsRead && (conversationID == "" || m.ConversationID == conversationID) {
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertNotification(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[n.ID]; ok {
		return model.ErrConflict
	}
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *Store) GetNotification(_ context.Context, id string) (*model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, model.ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *Store) ListNotifications(_ context.Context, target string, limit, skip int) ([]*model.Notification, error) {
	s.mu.RLock()
	all := make([]*model.Notification, 0)
	for _, n := range s.notifications {
		if n.Target == target {
			cp := *n
			all = append(all, &cp)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(all, func(a, b *model.Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return window(all, limit, skip), nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return model.ErrNotificationNotFound
	}
	n.IsRead = true
	return nil
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, target string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.notifications {
		if n.Target == target && !n.IsRead {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

func (s *Store) CountUnreadNotifications(_ context.Context, target string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, n := range s.notifications {
		if n.Target == target && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func window[T any](items []T, limit, skip int) []T {
	if skip >= len(items) {
		return items[:0]
	}
	items = items[skip:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneMessage(m *model.Message) *model.Message {
	cp := *m
	return &cp
}
