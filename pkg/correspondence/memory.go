// Copyright 2024-2026 Aiku AI

package correspondence

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps edges in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	edges map[string]map[string][]Edge
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{edges: make(map[string]map[string][]Edge)}
}

func (s *MemoryStore) Record(_ context.Context, e Edge) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(e)
	s.putLocked(e.Mirror())
	return nil
}

// putLocked upserts e. When it replaces a copy with a different message ID,
// the mirror of the replaced copy is removed.
func (s *MemoryStore) putLocked(e Edge) {
	byMessage := s.edges[e.SourcePlatform]
	if byMessage == nil {
		byMessage = make(map[string][]Edge)
		s.edges[e.SourcePlatform] = byMessage
	}
	list := byMessage[e.SourceMessageID]
	idx := slices.IndexFunc(list, e.sameKey)
	if idx < 0 {
		byMessage[e.SourceMessageID] = append(list, e)
		return
	}
	old := list[idx]
	list[idx] = e
	if old.TargetMessageID != e.TargetMessageID {
		s.removeLocked(old.Mirror())
	}
}

func (s *MemoryStore) removeLocked(e Edge) {
	byMessage := s.edges[e.SourcePlatform]
	if byMessage == nil {
		return
	}
	list := slices.DeleteFunc(byMessage[e.SourceMessageID], e.sameKey)
	if len(list) == 0 {
		delete(byMessage, e.SourceMessageID)
		if len(byMessage) == 0 {
			delete(s.edges, e.SourcePlatform)
		}
		return
	}
	byMessage[e.SourceMessageID] = list
}

func (s *MemoryStore) Lookup(_ context.Context, platform, messageID, targetPlatform, expectedGroupID string) (Edge, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.edges[platform][messageID] {
		if e.TargetPlatform != targetPlatform {
			continue
		}
		if expectedGroupID == "" || e.TargetGroupID == expectedGroupID {
			return e, true, nil
		}
	}
	return Edge{}, false, nil
}

func (s *MemoryStore) LookupAll(_ context.Context, platform, messageID string) ([]Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.edges[platform][messageID]), nil
}

func (s *MemoryStore) Delete(_ context.Context, e Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(e)
	s.removeLocked(e.Mirror())
	return nil
}

// Len returns the number of directed edges held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, byMessage := range s.edges {
		for _, list := range byMessage {
			n += len(list)
		}
	}
	return n
}
