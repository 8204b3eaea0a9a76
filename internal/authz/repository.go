package authz

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-sms/meridian-sms/internal/roles"
)

// PGMatrixSource loads permission matrices from PostgreSQL. Each row
// is one (role, domain, action) grant scoped to an institution; the
// engine treats the result as opaque configuration.
type PGMatrixSource struct {
	pool *pgxpool.Pool
}

// NewMatrixSource constructs a PostgreSQL matrix source.
func NewMatrixSource(pool *pgxpool.Pool) *PGMatrixSource {
	return &PGMatrixSource{pool: pool}
}

// PermissionMatrix fetches the full grant set for one institution. An
// institution with no rows yields an empty matrix, which denies
// everything.
func (s *PGMatrixSource) PermissionMatrix(ctx context.Context, institutionID string) (*Matrix, error) {
	const query = `
		SELECT role, domain, action
		FROM permission_grants
		WHERE institution_id = $1 AND granted`
	rows, err := s.pool.Query(ctx, query, institutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matrix := NewMatrix()
	for rows.Next() {
		var role, domain, action string
		if err := rows.Scan(&role, &domain, &action); err != nil {
			return nil, err
		}
		matrix.Grant(roles.Role(role), Domain(domain), Action(action))
	}
	return matrix, rows.Err()
}

var _ MatrixSource = (*PGMatrixSource)(nil)
