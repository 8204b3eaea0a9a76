package guard_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-sms/meridian-sms/internal/authz"
	"github.com/meridian-sms/meridian-sms/internal/guard"
	"github.com/meridian-sms/meridian-sms/internal/identity"
	"github.com/meridian-sms/meridian-sms/internal/roles"
	"github.com/meridian-sms/meridian-sms/internal/shared"
	_ "github.com/meridian-sms/meridian-sms/testing"
)

type fixedAssignments struct {
	assignments []roles.Assignment
}

func (f fixedAssignments) RoleAssignments(ctx context.Context, subjectID string) ([]roles.Assignment, error) {
	return f.assignments, nil
}

type fixedMatrix struct {
	matrix *authz.Matrix
}

func (f fixedMatrix) PermissionMatrix(ctx context.Context, institutionID string) (*authz.Matrix, error) {
	return f.matrix, nil
}

func newGuardMiddleware(t *testing.T, matrix *authz.Matrix, assignments []roles.Assignment) guard.Middleware {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	loader := authz.NewLoader(
		fixedAssignments{assignments: assignments},
		fixedMatrix{matrix: matrix},
		authz.NewSnapshotCache(client, time.Minute),
		nil,
	)
	return guard.Middleware{Checker: authz.NewChecker(loader, nil)}
}

func serveGuarded(mw func(http.Handler) http.Handler, ctx context.Context) *httptest.ResponseRecorder {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/staff", nil).WithContext(ctx)
	res := httptest.NewRecorder()
	mw(next).ServeHTTP(res, req)
	return res
}

func TestProtectGrantsStaff(t *testing.T) {
	mw := newGuardMiddleware(t, authz.NewMatrix(), nil)
	id := staffIdentity(roles.RoleTeacher)

	res := serveGuarded(mw.Protect(guard.Guard{Variant: guard.VariantStaff}), identity.ContextWithIdentity(context.Background(), id))
	require.Equal(t, http.StatusOK, res.Code)
}

func TestProtectRedirectsAnonymous(t *testing.T) {
	mw := newGuardMiddleware(t, authz.NewMatrix(), nil)

	res := serveGuarded(mw.Protect(guard.Guard{Variant: guard.VariantStaff}), context.Background())
	require.Equal(t, http.StatusFound, res.Code)
	require.Equal(t, "/auth/sign-in", res.Header().Get("Location"))
}

func TestProtectRequirementAgainstLoadedMatrix(t *testing.T) {
	matrix := authz.NewMatrix()
	matrix.Grant(roles.RoleAccountant, authz.DomainFinance, authz.ActionApprove)
	id := staffIdentity(roles.RoleAccountant)
	mw := newGuardMiddleware(t, matrix, id.Assignments)

	g := guard.Guard{
		Variant:     guard.VariantStaff,
		Requirement: &guard.Requirement{Domain: authz.DomainFinance, Actions: []authz.Action{authz.ActionApprove}},
	}

	ctx := identity.ContextWithIdentity(context.Background(), id)
	ctx = shared.ContextWithInstitution(ctx, "inst-1")
	res := serveGuarded(mw.Protect(g), ctx)
	require.Equal(t, http.StatusOK, res.Code)

	// Without a selected institution the requirement denies and the
	// staff member lands on the landing page.
	res = serveGuarded(mw.Protect(g), identity.ContextWithIdentity(context.Background(), id))
	require.Equal(t, http.StatusFound, res.Code)
	require.Equal(t, "/dashboard", res.Header().Get("Location"))
}

func TestProtectUseFallbackHides(t *testing.T) {
	mw := newGuardMiddleware(t, authz.NewMatrix(), nil)

	res := serveGuarded(mw.Protect(guard.Guard{Variant: guard.VariantStaff, UseFallback: true}), context.Background())
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestFragmentShowsAndHides(t *testing.T) {
	matrix := authz.NewMatrix()
	matrix.Grant(roles.RoleAccountant, authz.DomainFinance, authz.ActionApprove)
	id := staffIdentity(roles.RoleAccountant)
	mw := newGuardMiddleware(t, matrix, id.Assignments)

	ctx := identity.ContextWithIdentity(context.Background(), id)
	ctx = shared.ContextWithInstitution(ctx, "inst-1")

	res := serveGuarded(mw.Fragment(guard.Gate{Domain: authz.DomainFinance, Actions: []authz.Action{authz.ActionApprove}}), ctx)
	require.Equal(t, http.StatusOK, res.Code)

	res = serveGuarded(mw.Fragment(guard.Gate{Domain: authz.DomainFinance, Actions: []authz.Action{authz.ActionDelete}}), ctx)
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestProtectCancelledRequestIs503(t *testing.T) {
	mw := newGuardMiddleware(t, authz.NewMatrix(), nil)
	id := staffIdentity(roles.RoleTeacher)

	ctx, cancel := context.WithCancel(identity.ContextWithIdentity(context.Background(), id))
	ctx = shared.ContextWithInstitution(ctx, "inst-1")
	cancel()

	g := guard.Guard{
		Variant:     guard.VariantStaff,
		Requirement: &guard.Requirement{Domain: authz.DomainReports, Actions: []authz.Action{authz.ActionView}},
	}
	res := serveGuarded(mw.Protect(g), ctx)
	require.Equal(t, http.StatusServiceUnavailable, res.Code)
}
