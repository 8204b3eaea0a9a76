package authz

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-sms/meridian-sms/internal/identity"
	"github.com/meridian-sms/meridian-sms/internal/roles"
)

// AssignmentSource fetches every role assignment a subject holds.
type AssignmentSource interface {
	RoleAssignments(ctx context.Context, subjectID string) ([]roles.Assignment, error)
}

// MatrixSource fetches one institution's permission matrix. The
// matrix is opaque external configuration; the loader never derives
// grants itself.
type MatrixSource interface {
	PermissionMatrix(ctx context.Context, institutionID string) (*Matrix, error)
}

// Loader materializes snapshots. Role assignments and the matrix are
// fetched concurrently and joined; concurrent loads for the same
// (subject, institution) pair collapse into one flight; settled pairs
// are cached with explicit invalidation on identity or tenant change.
type Loader struct {
	assignments AssignmentSource
	matrices    MatrixSource
	cache       *SnapshotCache
	group       singleflight.Group
	logger      *slog.Logger
}

// NewLoader wires loader dependencies. cache may be nil.
func NewLoader(assignments AssignmentSource, matrices MatrixSource, cache *SnapshotCache, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{assignments: assignments, matrices: matrices, cache: cache, logger: logger}
}

type loadedPair struct {
	assignments []roles.Assignment
	matrix      *Matrix
}

// Load builds the snapshot for an identity within an institution.
// Super-admin and OTP identities need no fetches: the former bypasses
// the matrix, the latter carry no role assignments. Context
// cancellation abandons the load; the singleflight result is still
// shared with surviving waiters of the same pair.
func (l *Loader) Load(ctx context.Context, id identity.Identity, institutionID string) (Snapshot, error) {
	snap := Snapshot{Identity: id, InstitutionID: institutionID}
	if id.Kind != identity.KindPrimaryAccount || id.SuperAdmin {
		return snap, nil
	}
	if institutionID == "" {
		// Fail-closed already: without a tenant nothing is granted, so
		// fetching would only add latency.
		return snap, nil
	}

	key := id.UserID + "|" + institutionID
	v, err, _ := l.group.Do(key, func() (any, error) {
		return l.loadPair(context.WithoutCancel(ctx), id.UserID, institutionID)
	})
	if err != nil {
		return Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		// The caller went away mid-load; its result must be discarded.
		return Snapshot{}, err
	}
	pair := v.(loadedPair)
	snap.Assignments = pair.assignments
	snap.Matrix = pair.matrix
	return snap, nil
}

// Warm primes the cache for a pair without building a snapshot.
func (l *Loader) Warm(ctx context.Context, subjectID, institutionID string) error {
	if subjectID == "" || institutionID == "" {
		return nil
	}
	_, err := l.loadPair(ctx, subjectID, institutionID)
	return err
}

// Invalidate drops the cached pair so the next load re-fetches.
func (l *Loader) Invalidate(ctx context.Context, subjectID, institutionID string) {
	l.group.Forget(subjectID + "|" + institutionID)
	if err := l.cache.Invalidate(ctx, subjectID, institutionID); err != nil {
		l.logger.Warn("invalidate snapshot cache", slog.Any("error", err))
	}
}

// InvalidateSubject drops every cached pair for one subject.
func (l *Loader) InvalidateSubject(ctx context.Context, subjectID string) {
	if err := l.cache.InvalidateSubject(ctx, subjectID); err != nil {
		l.logger.Warn("invalidate subject cache", slog.Any("error", err))
	}
}

func (l *Loader) loadPair(ctx context.Context, subjectID, institutionID string) (loadedPair, error) {
	if assignments, matrix, ok := l.cache.Get(ctx, subjectID, institutionID); ok {
		return loadedPair{assignments: assignments, matrix: matrix}, nil
	}

	var pair loadedPair
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		assignments, err := l.assignments.RoleAssignments(gctx, subjectID)
		if err != nil {
			return fmt.Errorf("authz: fetch role assignments: %w", err)
		}
		pair.assignments = assignments
		return nil
	})
	g.Go(func() error {
		matrix, err := l.matrices.PermissionMatrix(gctx, institutionID)
		if err != nil {
			return fmt.Errorf("authz: fetch permission matrix: %w", err)
		}
		pair.matrix = matrix
		return nil
	})
	if err := g.Wait(); err != nil {
		return loadedPair{}, err
	}

	if err := l.cache.Put(ctx, subjectID, institutionID, pair.assignments, pair.matrix); err != nil {
		l.logger.Warn("store snapshot cache", slog.Any("error", err))
	}
	return pair, nil
}
