package identity

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-sms/meridian-sms/internal/roles"
)

// Credentials carries the raw tokens a request presented on each
// channel. Empty fields mean the channel was not presented.
type Credentials struct {
	PrimarySessionID string
	ParentOTPToken   string
	StudentOTPToken  string
}

// SessionStatus is the outcome of validating an OTP session token.
type SessionStatus struct {
	Valid     bool
	ExpiresAt time.Time
}

// SessionValidator checks an OTP session token against its store.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (SessionStatus, error)
}

// Account is the primary-account record behind a session.
type Account struct {
	ID         string
	Email      string
	SuperAdmin bool
}

// AccountSource looks up the primary account behind a session and the
// role assignments a subject holds.
type AccountSource interface {
	// AccountBySession returns (nil, nil) when the session does not
	// map to an account.
	AccountBySession(ctx context.Context, sessionID string) (*Account, error)
	RoleAssignments(ctx context.Context, subjectID string) ([]roles.Assignment, error)
}

// Resolver produces the single authoritative identity for a request.
// The three channel probes run concurrently; resolution joins on all
// of them before applying precedence, so partial results are never
// surfaced.
type Resolver struct {
	accounts AccountSource
	parents  SessionValidator
	students SessionValidator
	logger   *slog.Logger
}

// NewResolver wires resolver dependencies.
func NewResolver(accounts AccountSource, parents, students SessionValidator, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{accounts: accounts, parents: parents, students: students, logger: logger}
}

type primaryResult struct {
	account     *Account
	assignments []roles.Assignment
}

// Resolve joins the three channel checks and applies precedence:
//
//  1. valid parent OTP session
//  2. primary account holding the parent role
//  3. any other primary account
//  4. valid student OTP session
//  5. anonymous
//
// Steps 2 and 3 both resolve to the primary account variant; the
// ordering matters to guards, which read parent capability off the
// identity. A channel that errors counts as absent on that channel —
// authorization fails closed, it never propagates a fault. The only
// returned error is context cancellation.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (Identity, error) {
	var (
		primary primaryResult
		parent  SessionStatus
		student SessionStatus
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		primary = r.probePrimary(gctx, creds.PrimarySessionID)
		return gctx.Err()
	})
	g.Go(func() error {
		parent = r.probeOTP(gctx, r.parents, creds.ParentOTPToken, "parent")
		return gctx.Err()
	})
	g.Go(func() error {
		student = r.probeOTP(gctx, r.students, creds.StudentOTPToken, "student")
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return Anonymous(), err
	}

	switch {
	case parent.Valid:
		return Identity{
			Kind:      KindParentSession,
			Token:     creds.ParentOTPToken,
			ExpiresAt: parent.ExpiresAt,
		}, nil
	case primary.account != nil:
		return Identity{
			Kind:        KindPrimaryAccount,
			UserID:      primary.account.ID,
			Assignments: primary.assignments,
			SuperAdmin:  primary.account.SuperAdmin,
		}, nil
	case student.Valid:
		return Identity{
			Kind:      KindStudentSession,
			Token:     creds.StudentOTPToken,
			ExpiresAt: student.ExpiresAt,
		}, nil
	default:
		return Anonymous(), nil
	}
}

func (r *Resolver) probePrimary(ctx context.Context, sessionID string) primaryResult {
	if sessionID == "" || r.accounts == nil {
		return primaryResult{}
	}
	account, err := r.accounts.AccountBySession(ctx, sessionID)
	if err != nil {
		r.logger.Warn("primary session probe failed", slog.Any("error", err))
		return primaryResult{}
	}
	if account == nil {
		return primaryResult{}
	}
	assignments, err := r.accounts.RoleAssignments(ctx, account.ID)
	if err != nil {
		// Without assignments the account cannot be scoped, so the
		// channel counts as absent rather than half-resolved.
		r.logger.Warn("role assignment probe failed",
			slog.String("subject", account.ID), slog.Any("error", err))
		return primaryResult{}
	}
	return primaryResult{account: account, assignments: assignments}
}

func (r *Resolver) probeOTP(ctx context.Context, v SessionValidator, token, channel string) SessionStatus {
	if token == "" || v == nil {
		return SessionStatus{}
	}
	status, err := v.Validate(ctx, token)
	if err != nil {
		r.logger.Warn("otp session probe failed",
			slog.String("channel", channel), slog.Any("error", err))
		return SessionStatus{}
	}
	return status
}
