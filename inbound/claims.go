package inbound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultClaimTTL = 10 * time.Minute

// ClaimStore suppresses redelivered events. A claim is held while the event
// is handed over, then completed (duplicates are dropped until the TTL ends)
// or released (the next attempt is accepted).
type ClaimStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (claimID string, accepted bool, err error)
	Complete(ctx context.Context, claimID string) error
	Release(ctx context.Context, claimID string) error
}

type claimStatus string

const (
	claimStatusProcessing claimStatus = "processing"
	claimStatusComplete   claimStatus = "complete"
)

type claimEntry struct {
	Status    claimStatus
	ClaimID   string
	TTL       time.Duration
	ExpiresAt time.Time
}

type MemoryClaimStore struct {
	mu      sync.Mutex
	entries map[string]claimEntry
	claims  map[string]string
	nextID  int
	Now     func() time.Time
}

func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{
		entries: map[string]claimEntry{},
		claims:  map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryClaimStore) Claim(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if s == nil {
		return "", false, inboundInternal("inbound: claim store is nil", nil)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, inboundBadInput(nil, "inbound: claim key is required", nil)
	}
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(now)
	if entry, exists := s.entries[key]; exists && now.Before(entry.ExpiresAt) {
		return "", false, nil
	}

	s.nextID++
	claimID := fmt.Sprintf("claim_%d", s.nextID)
	s.entries[key] = claimEntry{
		Status:    claimStatusProcessing,
		ClaimID:   claimID,
		TTL:       ttl,
		ExpiresAt: now.Add(ttl),
	}
	s.claims[claimID] = key
	return claimID, true, nil
}

func (s *MemoryClaimStore) Complete(_ context.Context, claimID string) error {
	if s == nil {
		return inboundInternal("inbound: claim store is nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key, entry, ok := s.lookupLocked(claimID)
	if !ok {
		return nil
	}
	entry.Status = claimStatusComplete
	entry.ExpiresAt = s.now().Add(entry.TTL)
	s.entries[key] = entry
	delete(s.claims, claimID)
	return nil
}

func (s *MemoryClaimStore) Release(_ context.Context, claimID string) error {
	if s == nil {
		return inboundInternal("inbound: claim store is nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key, _, ok := s.lookupLocked(claimID)
	if !ok {
		return nil
	}
	delete(s.entries, key)
	delete(s.claims, claimID)
	return nil
}

func (s *MemoryClaimStore) lookupLocked(claimID string) (string, claimEntry, bool) {
	claimID = strings.TrimSpace(claimID)
	key, ok := s.claims[claimID]
	if !ok {
		return "", claimEntry{}, false
	}
	entry, exists := s.entries[key]
	if !exists || entry.ClaimID != claimID || entry.Status != claimStatusProcessing {
		delete(s.claims, claimID)
		return "", claimEntry{}, false
	}
	return key, entry, true
}

func (s *MemoryClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *MemoryClaimStore) evictExpiredLocked(now time.Time) {
	for key, entry := range s.entries {
		if now.Before(entry.ExpiresAt) {
			continue
		}
		delete(s.claims, entry.ClaimID)
		delete(s.entries, key)
	}
}
