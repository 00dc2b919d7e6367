// Package audience resolves who a section or grade-level message is for.
package audience

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"

	"schoolchat/pkg/interfaces"
)

// cacheSize bounds each membership cache; the least recently used list is
// evicted first.
const cacheSize = 1024

// Resolver caches membership lists for a short TTL. Enrolment is owned by
// the wider backend, so entries are never written here, only expired.
type Resolver struct {
	store  interfaces.DirectoryStore
	logger *slog.Logger

	// nil when caching is disabled
	sections *expirable.LRU[string, []string]
	grades   *expirable.LRU[string, []string]
}

// NewResolver builds a resolver; ttl <= 0 disables caching.
func NewResolver(store interfaces.DirectoryStore, ttl time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		store:  store,
		logger: logger.With("component", "audience"),
	}
	if ttl > 0 {
		r.sections = expirable.NewLRU[string, []string](cacheSize, nil, ttl)
		r.grades = expirable.NewLRU[string, []string](cacheSize, nil, ttl)
	}
	return r
}

// SectionMembers returns the user ids enrolled in sectionID.
func (r *Resolver) SectionMembers(ctx context.Context, sectionID string) ([]string, error) {
	if members, ok := r.cached(false, sectionID); ok {
		return members, nil
	}
	members, err := r.store.ListSectionMemberIDs(ctx, sectionID)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve section %s", sectionID)
	}
	r.remember(false, sectionID, members)
	return members, nil
}

// GradeLevelMembers returns the distinct members of every section in the grade level.
func (r *Resolver) GradeLevelMembers(ctx context.Context, gradeLevelID string) ([]string, error) {
	if members, ok := r.cached(true, gradeLevelID); ok {
		return members, nil
	}
	users, err := r.store.ListGradeLevelMembers(ctx, gradeLevelID)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve grade level %s", gradeLevelID)
	}
	members := make([]string, 0, len(users))
	for _, u := range users {
		members = append(members, u.ID)
	}
	r.remember(true, gradeLevelID, members)
	return members, nil
}

// WithSender returns members plus senderID, without duplicates.
func WithSender(members []string, senderID string) []string {
	out := make([]string, 0, len(members)+1)
	seen := make(map[string]bool, len(members)+1)
	for _, id := range append([]string{senderID}, members...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Without returns members minus excluded.
func Without(members []string, excluded string) []string {
	out := make([]string, 0, len(members))
	for _, id := range members {
		if id != excluded {
			out = append(out, id)
		}
	}
	return out
}

// Invalidate drops every cached list.
func (r *Resolver) Invalidate() {
	if r.sections == nil {
		return
	}
	r.sections.Purge()
	r.grades.Purge()
	r.logger.Debug("audience_cache_cleared")
}

func (r *Resolver) cacheFor(grade bool) *expirable.LRU[string, []string] {
	if grade {
		return r.grades
	}
	return r.sections
}

func (r *Resolver) cached(grade bool, key string) ([]string, bool) {
	c := r.cacheFor(grade)
	if c == nil {
		return nil, false
	}
	return c.Get(key)
}

func (r *Resolver) remember(grade bool, key string, members []string) {
	if c := r.cacheFor(grade); c != nil {
		c.Add(key, members)
	}
}
