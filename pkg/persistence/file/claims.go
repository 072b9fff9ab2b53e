package file

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukex/aide/pkg/persistence"
)

// ClaimStore is an in-process claim table for single-process deployments.
type ClaimStore struct {
	mu     sync.Mutex
	claims map[string]persistence.Claim
	now    func() time.Time
}

func NewClaimStore() *ClaimStore {
	return &ClaimStore{claims: make(map[string]persistence.Claim), now: time.Now}
}

func (s *ClaimStore) Acquire(_ context.Context, runID, owner string, ttl time.Duration) (*persistence.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if c, ok := s.claims[runID]; ok && c.Owner != owner && c.ExpiresAt.After(now) {
		return nil, persistence.NewStoreError("AcquireClaim", runID, persistence.ErrClaimHeld)
	}

	c := persistence.Claim{RunID: runID, Owner: owner, ExpiresAt: now.Add(ttl)}
	s.claims[runID] = c

	return &c, nil
}

func (s *ClaimStore) Renew(_ context.Context, runID, owner string, ttl time.Duration) (*persistence.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[runID]
	if !ok || c.Owner != owner {
		return nil, persistence.NewStoreError("RenewClaim", runID, persistence.ErrClaimLost)
	}

	c.ExpiresAt = s.now().Add(ttl)
	s.claims[runID] = c

	return &c, nil
}

func (s *ClaimStore) Release(_ context.Context, runID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.claims[runID]; ok && c.Owner == owner {
		delete(s.claims, runID)
	}

	return nil
}

func (s *ClaimStore) Expired(_ context.Context, now time.Time) ([]persistence.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []persistence.Claim

	for _, c := range s.claims {
		if !c.ExpiresAt.After(now) {
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })

	return out, nil
}
