package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-sms/meridian-sms/internal/roles"
)

// SnapshotCache keeps loaded snapshot inputs in redis, scoped per
// (subject, institution) pair. Entries are invalidated explicitly on
// identity or tenant change; there is no cross-tenant sharing.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache constructs the cache. A nil client disables it.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

type cachedAssignment struct {
	SubjectID     string `json:"subject_id"`
	Role          string `json:"role"`
	InstitutionID string `json:"institution_id,omitempty"`
}

type cachedEntry struct {
	Assignments []cachedAssignment  `json:"assignments"`
	Grants      map[string][]string `json:"grants"`
}

// Get returns the cached assignments and matrix for the pair, or
// ok=false on miss or cache error (a degraded cache must never turn
// into a denied or granted decision by itself).
func (c *SnapshotCache) Get(ctx context.Context, subjectID, institutionID string) ([]roles.Assignment, *Matrix, bool) {
	if c == nil || c.client == nil {
		return nil, nil, false
	}
	raw, err := c.client.Get(ctx, c.key(subjectID, institutionID)).Bytes()
	if err != nil {
		return nil, nil, false
	}
	var entry cachedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, nil, false
	}
	assignments := make([]roles.Assignment, 0, len(entry.Assignments))
	for _, a := range entry.Assignments {
		assignments = append(assignments, roles.Assignment{
			SubjectID:     a.SubjectID,
			Role:          roles.Role(a.Role),
			InstitutionID: a.InstitutionID,
		})
	}
	matrix := NewMatrix()
	for role, grants := range entry.Grants {
		for _, g := range grants {
			domain, action, ok := splitGrant(g)
			if !ok {
				continue
			}
			matrix.Grant(roles.Role(role), domain, action)
		}
	}
	return assignments, matrix, true
}

// Put stores the pair's inputs with the configured TTL.
func (c *SnapshotCache) Put(ctx context.Context, subjectID, institutionID string, assignments []roles.Assignment, matrix *Matrix) error {
	if c == nil || c.client == nil {
		return nil
	}
	entry := cachedEntry{Grants: make(map[string][]string)}
	for _, a := range assignments {
		entry.Assignments = append(entry.Assignments, cachedAssignment{
			SubjectID:     a.SubjectID,
			Role:          string(a.Role),
			InstitutionID: a.InstitutionID,
		})
	}
	if matrix != nil {
		for role := range matrix.grants {
			for _, p := range matrix.Grants(role) {
				entry.Grants[string(role)] = append(entry.Grants[string(role)], joinGrant(p.Domain, p.Action))
			}
		}
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("authz: encode cache entry: %w", err)
	}
	return c.client.Set(ctx, c.key(subjectID, institutionID), data, c.ttl).Err()
}

// Invalidate drops the entry for one (subject, institution) pair.
func (c *SnapshotCache) Invalidate(ctx context.Context, subjectID, institutionID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(subjectID, institutionID)).Err()
}

// InvalidateSubject drops every cached pair for a subject, across all
// institutions. Used on sign-out and on role reassignment.
func (c *SnapshotCache) InvalidateSubject(ctx context.Context, subjectID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	var cursor uint64
	pattern := "authz:snapshot:" + subjectID + ":*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *SnapshotCache) key(subjectID, institutionID string) string {
	return "authz:snapshot:" + subjectID + ":" + institutionID
}

func joinGrant(d Domain, a Action) string {
	return string(d) + ":" + string(a)
}

func splitGrant(g string) (Domain, Action, bool) {
	i := strings.IndexByte(g, ':')
	if i <= 0 || i >= len(g)-1 {
		return "", "", false
	}
	return Domain(g[:i]), Action(g[i+1:]), true
}
