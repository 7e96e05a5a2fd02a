package directory

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/election-api/internal/repository"
)

// Cached fronts a Directory with an expiring in-process cache. Broadcasts
// resolve the same addresses and eligibility sets many times a run.
type Cached struct {
	next  repository.Directory
	cache *cache.Cache
}

func NewCached(next repository.Directory, ttl, cleanup time.Duration) *Cached {
	return &Cached{next: next, cache: cache.New(ttl, cleanup)}
}

var _ repository.Directory = (*Cached)(nil)

func (c *Cached) AddressOf(ctx context.Context, userID string) (string, error) {
	key := "addr:" + userID
	if v, ok := c.cache.Get(key); ok {
		return v.(string), nil
	}
	addr, err := c.next.AddressOf(ctx, userID)
	if err != nil {
		return "", err
	}
	c.cache.SetDefault(key, addr)
	return addr, nil
}

func (c *Cached) IsEligible(ctx context.Context, userID, electionID string) (bool, error) {
	key := "elig:" + electionID + ":" + userID
	if v, ok := c.cache.Get(key); ok {
		return v.(bool), nil
	}
	ok, err := c.next.IsEligible(ctx, userID, electionID)
	if err != nil {
		return false, err
	}
	c.cache.SetDefault(key, ok)
	return ok, nil
}

func (c *Cached) EligibleVoters(ctx context.Context, electionID string) ([]string, error) {
	key := "voters:" + electionID
	if v, ok := c.cache.Get(key); ok {
		return append([]string(nil), v.([]string)...), nil
	}
	voters, err := c.next.EligibleVoters(ctx, electionID)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, append([]string(nil), voters...))
	return voters, nil
}

// Flush drops every cached entry.
func (c *Cached) Flush() {
	c.cache.Flush()
}
