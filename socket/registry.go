package socket

import (
	"context"
	"sort"
	"sync"
)

// Registry tracks which users are viewing which documents and which
// connection currently belongs to each user. Presence is ephemeral: a
// registry only has to survive for the lifetime of the connections it
// tracks. The in-memory implementation below is the default; the Redis
// implementation in redis_registry.go shares the same contract so a
// multi-instance deployment can move presence into a shared key space
// without touching the hub or the protocol.
type Registry interface {
	// Join records userID as a viewer of docID and binds the user to
	// connID. A user has one active connection: joining from a new
	// connection silently replaces the old binding (last-connected wins).
	Join(ctx context.Context, docID, userID, connID string) error

	// Leave removes userID from docID's viewer set and drops the
	// user's connection binding.
	Leave(ctx context.Context, docID, userID string) error

	// Disconnect reverse-looks-up the user owning connID and removes
	// them from every tracked document, returning the user and the
	// documents they were removed from. A connID with no owner (a
	// connection already replaced by a newer one) returns an empty
	// user and no documents.
	Disconnect(ctx context.Context, connID string) (userID string, docIDs []string, err error)

	// Viewers returns the users currently viewing docID, sorted.
	Viewers(ctx context.Context, docID string) ([]string, error)
}

// MemoryRegistry is the single-process registry: two maps guarded by a
// mutex, destroyed with the process.
type MemoryRegistry struct {
	mu      sync.Mutex
	viewers map[string]map[string]bool // docID -> set of userIDs
	conns   map[string]string          // userID -> connID
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		viewers: make(map[string]map[string]bool),
		conns:   make(map[string]string),
	}
}

func (r *MemoryRegistry) Join(_ context.Context, docID, userID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.viewers[docID] == nil {
		r.viewers[docID] = make(map[string]bool)
	}
	r.viewers[docID][userID] = true
	r.conns[userID] = connID
	return nil
}

func (r *MemoryRegistry) Leave(_ context.Context, docID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.viewers[docID]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(r.viewers, docID)
		}
	}
	delete(r.conns, userID)
	return nil
}

func (r *MemoryRegistry) Disconnect(_ context.Context, connID string) (string, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var userID string
	for user, conn := range r.conns {
		if conn == connID {
			userID = user
			break
		}
	}
	if userID == "" {
		return "", nil, nil
	}
	delete(r.conns, userID)

	// The registry does not know which document triggered the
	// disconnect, so it scans every tracked viewer set.
	var docIDs []string
	for docID, set := range r.viewers {
		if set[userID] {
			delete(set, userID)
			if len(set) == 0 {
				delete(r.viewers, docID)
			}
			docIDs = append(docIDs, docID)
		}
	}
	sort.Strings(docIDs)
	return userID, docIDs, nil
}

func (r *MemoryRegistry) Viewers(_ context.Context, docID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.viewers[docID]))
	for userID := range r.viewers[docID] {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}
