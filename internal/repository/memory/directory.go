package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jwalitptl/election-api/internal/repository"
	"github.com/jwalitptl/election-api/pkg/errors"
)

// Directory is a static user directory for local runs and tests.
type Directory struct {
	mu        sync.RWMutex
	addresses map[string]string
	eligible  map[string]map[string]struct{}
	// open makes every user eligible for every election.
	open bool
}

func NewDirectory() *Directory {
	return &Directory{
		addresses: make(map[string]string),
		eligible:  make(map[string]map[string]struct{}),
	}
}

var _ repository.Directory = (*Directory)(nil)

// SetOpenEnrollment toggles open mode. Open elections accept any voter id and
// count every known user as an eligible voter.
func (d *Directory) SetOpenEnrollment(open bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = open
}

func (d *Directory) AddUser(userID, address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addresses[userID] = address
}

func (d *Directory) Enroll(electionID string, userIDs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.eligible[electionID]
	if !ok {
		set = make(map[string]struct{})
		d.eligible[electionID] = set
	}
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
}

func (d *Directory) AddressOf(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.addresses[userID]
	if !ok || addr == "" {
		return "", errors.NotFound("recipient", nil)
	}
	return addr, nil
}

func (d *Directory) IsEligible(_ context.Context, userID, electionID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.open {
		return true, nil
	}
	_, ok := d.eligible[electionID][userID]
	return ok, nil
}

func (d *Directory) EligibleVoters(_ context.Context, electionID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[string]struct{}, len(d.eligible[electionID]))
	for id := range d.eligible[electionID] {
		seen[id] = struct{}{}
	}
	if d.open {
		for id := range d.addresses {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
