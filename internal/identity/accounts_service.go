package identity

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-sms/meridian-sms/internal/shared"
)

// AccountService wraps primary-account authentication rules.
type AccountService struct {
	repo AccountRepository
}

// NewAccountService constructs a new AccountService.
func NewAccountService(repo AccountRepository) *AccountService {
	return &AccountService{repo: repo}
}

// Authenticate validates email/password credentials.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (*AccountRecord, error) {
	rec, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !rec.Active {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return rec, nil
}

// RegisterSession persists session metadata in postgres.
func (s *AccountService) RegisterSession(ctx context.Context, id, accountID string, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, accountID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *AccountService) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
