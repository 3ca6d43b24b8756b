package directory

import (
	"context"
	"slices"
	"sync"
)

// Memory is an in-process Directory for development and tests.
type Memory struct {
	mu      sync.RWMutex
	clients map[string]Client
	audits  map[string]Audit
	users   map[string]User
}

// NewMemory creates an empty directory.
func NewMemory() *Memory {
	return &Memory{
		clients: make(map[string]Client),
		audits:  make(map[string]Audit),
		users:   make(map[string]User),
	}
}

func (m *Memory) PutClient(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
}

func (m *Memory) PutAudit(a Audit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.AssignedUserIDs = slices.Clone(a.AssignedUserIDs)
	m.audits[a.ID] = a
}

func (m *Memory) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) GetClient(_ context.Context, clientID string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[clientID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) GetAudit(_ context.Context, auditID string) (*Audit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.audits[auditID]
	if !ok {
		return nil, nil
	}
	a.AssignedUserIDs = slices.Clone(a.AssignedUserIDs)
	return &a, nil
}

func (m *Memory) GetUser(_ context.Context, userID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}
