// Package memory is an in-process domain.Store. Nothing survives Close.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"aichat/internal/domain"
)

var _ domain.Store = (*Store)(nil)

// Store keeps conversations, messages and state in maps guarded by one mutex,
// so every operation is atomic.
type Store struct {
	mu     sync.RWMutex
	convs  map[string]domain.Conversation
	msgs   map[string]domain.Message
	state  map[string][]byte
	closed bool
	now    func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		convs: make(map[string]domain.Conversation),
		msgs:  make(map[string]domain.Message),
		state: make(map[string][]byte),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func errClosed(op string) error {
	return domain.NewDomainError(op, domain.ErrPersistence, "store is closed")
}

func notFound(op, kind, id string) error {
	return fmt.Errorf("%s: %s %q: %w", op, kind, id, domain.ErrNotFound)
}

// --- messages ---

func (s *Store) AddMessage(_ context.Context, msg *domain.Message) error {
	const op = "memory.AddMessage"
	if msg.ID == "" || msg.ConversationID == "" {
		return fmt.Errorf("%s: %w: message id and conversation id are required", op, domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	if _, ok := s.convs[msg.ConversationID]; !ok {
		return notFound(op, "conversation", msg.ConversationID)
	}
	if _, ok := s.msgs[msg.ID]; ok {
		return fmt.Errorf("%s: message %q: %w", op, msg.ID, domain.ErrDuplicate)
	}
	s.msgs[msg.ID] = *msg
	s.recompute(msg.ConversationID)
	return nil
}

func (s *Store) UpdateMessage(_ context.Context, u domain.MessageUpdate) (bool, error) {
	const op = "memory.UpdateMessage"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errClosed(op)
	}
	m, ok := s.msgs[u.ID]
	if !ok {
		return false, notFound(op, "message", u.ID)
	}
	if u.Seq <= m.Seq {
		return false, nil
	}
	m.Body, m.Error, m.Seq = u.Body, u.Error, u.Seq
	s.msgs[u.ID] = m
	return true, nil
}

func (s *Store) DeleteMessage(_ context.Context, id string) error {
	const op = "memory.DeleteMessage"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	m, ok := s.msgs[id]
	if !ok {
		return notFound(op, "message", id)
	}
	delete(s.msgs, id)
	s.recompute(m.ConversationID)
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	const op = "memory.GetMessage"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed(op)
	}
	m, ok := s.msgs[id]
	if !ok {
		return nil, notFound(op, "message", id)
	}
	return &m, nil
}

func (s *Store) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("memory.ListMessages")
	}
	return s.messagesOf(conversationID), nil
}

func (s *Store) ListMessagesPage(_ context.Context, conversationID string, limit, offset int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("memory.ListMessagesPage")
	}
	all := s.messagesOf(conversationID)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) || limit <= 0 {
		return []domain.Message{}, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (s *Store) LatestMessages(_ context.Context, conversationID string, n int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("memory.LatestMessages")
	}
	all := s.messagesOf(conversationID)
	if n <= 0 {
		return []domain.Message{}, nil
	}
	if n < len(all) {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (s *Store) SearchMessages(_ context.Context, conversationID, query string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("memory.SearchMessages")
	}
	q := strings.ToLower(query)
	var src []domain.Message
	if conversationID == "" {
		src = s.allMessages()
	} else {
		src = s.messagesOf(conversationID)
	}
	out := []domain.Message{}
	for _, m := range src {
		if strings.Contains(strings.ToLower(m.Text()), q) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) ClearConversation(_ context.Context, conversationID string) error {
	const op = "memory.ClearConversation"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	if _, ok := s.convs[conversationID]; !ok {
		return notFound(op, "conversation", conversationID)
	}
	for id, m := range s.msgs {
		if m.ConversationID == conversationID {
			delete(s.msgs, id)
		}
	}
	s.recompute(conversationID)
	return nil
}

// --- conversations ---

func (s *Store) CreateConversation(_ context.Context, conv *domain.Conversation) error {
	const op = "memory.CreateConversation"
	if conv.ID == "" {
		return fmt.Errorf("%s: %w: conversation id is required", op, domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	if _, ok := s.convs[conv.ID]; ok {
		return fmt.Errorf("%s: conversation %q: %w", op, conv.ID, domain.ErrDuplicate)
	}
	c := *conv
	c.MessageCount, c.LastMessageAt = 0, nil
	s.convs[c.ID] = c
	*conv = c
	return nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	const op = "memory.GetConversation"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed(op)
	}
	c, ok := s.convs[id]
	if !ok {
		return nil, notFound(op, "conversation", id)
	}
	return &c, nil
}

func (s *Store) ListConversations(_ context.Context) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("memory.ListConversations")
	}
	return s.allConversations(), nil
}

func (s *Store) UpdateConversation(_ context.Context, id string, patch domain.ConversationPatch) error {
	const op = "memory.UpdateConversation"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	c, ok := s.convs[id]
	if !ok {
		return notFound(op, "conversation", id)
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Model != nil {
		c.Model = *patch.Model
	}
	if patch.Provider != nil {
		c.Provider = *patch.Provider
	}
	c.UpdatedAt = s.now()
	s.convs[id] = c
	return nil
}

func (s *Store) DeleteConversation(_ context.Context, id string) error {
	const op = "memory.DeleteConversation"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	if _, ok := s.convs[id]; !ok {
		return notFound(op, "conversation", id)
	}
	for mid, m := range s.msgs {
		if m.ConversationID == id {
			delete(s.msgs, mid)
		}
	}
	delete(s.convs, id)
	return nil
}

func (s *Store) RecomputeConversation(_ context.Context, id string) error {
	const op = "memory.RecomputeConversation"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}
	if _, ok := s.convs[id]; !ok {
		return notFound(op, "conversation", id)
	}
	s.recompute(id)
	return nil
}

// recompute refreshes the derived fields of a conversation. Caller holds mu.
func (s *Store) recompute(id string) {
	c, ok := s.convs[id]
	if !ok {
		return
	}
	c.MessageCount, c.LastMessageAt = domain.Aggregate(s.messagesOf(id))
	c.UpdatedAt = s.now()
	s.convs[id] = c
}

// --- state ---

func (s *Store) LoadState(_ context.Context, key string) ([]byte, error) {
	const op = "memory.LoadState"
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed(op)
	}
	v, ok := s.state[key]
	if !ok {
		return nil, notFound(op, "state", key)
	}
	return slices.Clone(v), nil
}

func (s *Store) SaveState(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed("memory.SaveState")
	}
	s.state[key] = slices.Clone(value)
	return nil
}

// --- utilities ---

func (s *Store) Export(_ context.Context) (*domain.Dump, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("memory.Export")
	}
	return &domain.Dump{
		Conversations: s.allConversations(),
		Messages:      s.allMessages(),
		ExportedAt:    s.now(),
		Version:       domain.DumpVersion,
	}, nil
}

// Import adds every conversation and message of dump. It fails without
// changes when an ID already exists or a message has no conversation.
func (s *Store) Import(_ context.Context, dump *domain.Dump) error {
	const op = "memory.Import"
	if err := domain.ValidateDump(dump); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(op)
	}

	for _, c := range dump.Conversations {
		if _, ok := s.convs[c.ID]; ok {
			return fmt.Errorf("%s: conversation %q: %w", op, c.ID, domain.ErrDuplicate)
		}
	}
	known := make(map[string]bool, len(dump.Conversations))
	for _, c := range dump.Conversations {
		known[c.ID] = true
	}
	for _, m := range dump.Messages {
		if _, ok := s.msgs[m.ID]; ok {
			return fmt.Errorf("%s: message %q: %w", op, m.ID, domain.ErrDuplicate)
		}
		if _, ok := s.convs[m.ConversationID]; !ok && !known[m.ConversationID] {
			return notFound(op, "conversation", m.ConversationID)
		}
	}

	touched := make(map[string]bool)
	for _, c := range dump.Conversations {
		s.convs[c.ID] = c
		touched[c.ID] = true
	}
	for _, m := range dump.Messages {
		s.msgs[m.ID] = m
		touched[m.ConversationID] = true
	}
	for id := range touched {
		c := s.convs[id]
		c.MessageCount, c.LastMessageAt = domain.Aggregate(s.messagesOf(id))
		s.convs[id] = c
	}
	return nil
}

func (s *Store) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed("memory.ClearAll")
	}
	clear(s.convs)
	clear(s.msgs)
	return nil
}

func (s *Store) Stats(_ context.Context) (domain.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.StoreStats{}, errClosed("memory.Stats")
	}
	size, err := domain.DumpSize(s.allConversations(), s.allMessages())
	if err != nil {
		return domain.StoreStats{}, err
	}
	return domain.StoreStats{
		ConversationCount: len(s.convs),
		MessageCount:      len(s.msgs),
		TotalSize:         size,
	}, nil
}

// Close marks the store closed. Later calls fail with domain.ErrPersistence.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) messagesOf(conversationID string) []domain.Message {
	out := []domain.Message{}
	for _, m := range s.msgs {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	domain.SortByTimestamp(out)
	return out
}

func (s *Store) allMessages() []domain.Message {
	out := make([]domain.Message, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, m)
	}
	domain.SortByTimestamp(out)
	return out
}

func (s *Store) allConversations() []domain.Conversation {
	out := make([]domain.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c)
	}
	domain.SortByActivity(out)
	return out
}
