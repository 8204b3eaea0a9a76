package identity

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-sms/meridian-sms/internal/roles"
	"github.com/meridian-sms/meridian-sms/internal/shared"
)

// AccountRecord is a primary account row, including the credential
// hash used by the login flow.
type AccountRecord struct {
	ID           string
	Email        string
	PasswordHash string
	SuperAdmin   bool
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountRepository defines persistence for primary accounts and
// their sessions and role assignments.
type AccountRepository interface {
	FindByEmail(ctx context.Context, email string) (*AccountRecord, error)
	AccountBySession(ctx context.Context, sessionID string) (*Account, error)
	RoleAssignments(ctx context.Context, subjectID string) ([]roles.Assignment, error)
	CreateSession(ctx context.Context, id, accountID string, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// PGAccountRepository implements AccountRepository on PostgreSQL.
type PGAccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository constructs a PostgreSQL repository.
func NewAccountRepository(pool *pgxpool.Pool) *PGAccountRepository {
	return &PGAccountRepository{pool: pool}
}

// FindByEmail fetches an account by email.
func (r *PGAccountRepository) FindByEmail(ctx context.Context, email string) (*AccountRecord, error) {
	const query = `
		SELECT id, email, password_hash, is_super_admin, is_active, created_at, updated_at
		FROM accounts WHERE email = $1`
	var rec AccountRecord
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&rec.ID, &rec.Email, &rec.PasswordHash, &rec.SuperAdmin,
		&rec.Active, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// AccountBySession resolves the account behind an unexpired session.
// Returns (nil, nil) when the session is unknown or expired, so the
// resolver treats the channel as absent rather than failed.
func (r *PGAccountRepository) AccountBySession(ctx context.Context, sessionID string) (*Account, error) {
	const query = `
		SELECT a.id, a.email, a.is_super_admin
		FROM account_sessions s
		JOIN accounts a ON a.id = s.account_id
		WHERE s.id = $1 AND s.expires_at > now() AND a.is_active`
	var account Account
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&account.ID, &account.Email, &account.SuperAdmin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// RoleAssignments returns every assignment a subject holds across all
// institutions; global assignments come back with an empty
// institution id.
func (r *PGAccountRepository) RoleAssignments(ctx context.Context, subjectID string) ([]roles.Assignment, error) {
	const query = `
		SELECT subject_id, role, COALESCE(institution_id, '')
		FROM role_assignments WHERE subject_id = $1`
	rows, err := r.pool.Query(ctx, query, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assignments := make([]roles.Assignment, 0)
	for rows.Next() {
		var a roles.Assignment
		var role string
		if err := rows.Scan(&a.SubjectID, &role, &a.InstitutionID); err != nil {
			return nil, err
		}
		a.Role = roles.Role(role)
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// CreateSession persists a login session for auditing and lookup.
func (r *PGAccountRepository) CreateSession(ctx context.Context, id, accountID string, expiresAt time.Time, ip, ua string) error {
	const query = `
		INSERT INTO account_sessions (id, account_id, created_at, expires_at, ip, ua)
		VALUES ($1, $2, now(), $3, NULLIF($4, ''), NULLIF($5, ''))`
	_, err := r.pool.Exec(ctx, query, id, accountID, expiresAt.UTC(), ip, ua)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrDuplicate
	}
	return err
}

// DeleteSession removes a session record.
func (r *PGAccountRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM account_sessions WHERE id = $1`, id)
	return err
}

var _ AccountRepository = (*PGAccountRepository)(nil)
