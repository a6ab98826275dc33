package pipeline

import (
	"context"
	"sync"
)

// InMemoryConversations keeps the last generated query per conversation for
// the lifetime of the process.
type InMemoryConversations struct {
	mu      sync.RWMutex
	queries map[string]string
}

// NewInMemoryConversations returns an empty store.
func NewInMemoryConversations() *InMemoryConversations {
	return &InMemoryConversations{queries: make(map[string]string)}
}

// LastQuery returns the most recent generated query for the conversation.
func (s *InMemoryConversations) LastQuery(_ context.Context, conversationID string) (string, bool) {
	if conversationID == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queries[conversationID]
	return q, ok
}

// SaveQuery records the generated query for the conversation.
func (s *InMemoryConversations) SaveQuery(_ context.Context, conversationID, query string) {
	if conversationID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[conversationID] = query
}

// AllowAllQuota admits every request. Deployments front the pipeline with the
// billing collaborator's real gate.
type AllowAllQuota struct{}

// Allow always admits.
func (AllowAllQuota) Allow(context.Context, string, string) (bool, error) { return true, nil }
