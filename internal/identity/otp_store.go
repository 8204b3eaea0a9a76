package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrOTPCooldown is returned when a passcode was requested again
	// before the cooldown elapsed.
	ErrOTPCooldown = errors.New("identity: wait before requesting another passcode")
	// ErrOTPInvalid is returned for unknown or expired passcodes.
	ErrOTPInvalid = errors.New("identity: invalid or expired passcode")
	// ErrOTPMaxAttempts is returned once verification attempts are
	// exhausted; the passcode is destroyed.
	ErrOTPMaxAttempts = errors.New("identity: maximum passcode attempts exceeded")
)

// OTPConfig tunes passcode issuance and the sessions it mints.
type OTPConfig struct {
	CodeTTL     time.Duration
	Cooldown    time.Duration
	MaxAttempts int64
	SessionTTL  time.Duration
}

// OTPStore keeps one channel's passcodes and OTP sessions in redis.
// Codes and session tokens are stored hashed; the plaintext leaves the
// process only toward the delivery side (SMS/email) and the client.
type OTPStore struct {
	client  *redis.Client
	channel string
	cfg     OTPConfig
}

// NewOTPStore builds a store for one channel ("parent" or "student").
func NewOTPStore(client *redis.Client, channel string, cfg OTPConfig) *OTPStore {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 5 * time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 2 * time.Hour
	}
	return &OTPStore{client: client, channel: channel, cfg: cfg}
}

// RequestCode mints a six-digit passcode for the recipient reference
// (a guardian contact or student admission number) and returns the
// plaintext for delivery.
func (s *OTPStore) RequestCode(ctx context.Context, ref string) (string, error) {
	n, err := s.client.Exists(ctx, s.cooldownKey(ref)).Result()
	if err != nil {
		return "", fmt.Errorf("identity: check cooldown: %w", err)
	}
	if n > 0 {
		return "", ErrOTPCooldown
	}

	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("identity: generate passcode: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.codeKey(ref), hashToken(code), s.cfg.CodeTTL)
	pipe.Del(ctx, s.attemptsKey(ref))
	pipe.Set(ctx, s.cooldownKey(ref), "", s.cfg.Cooldown)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("identity: store passcode: %w", err)
	}
	return code, nil
}

// VerifyCode checks the passcode and, on success, opens an OTP session
// and returns its bearer token.
func (s *OTPStore) VerifyCode(ctx context.Context, ref, code string) (string, error) {
	stored, err := s.client.Get(ctx, s.codeKey(ref)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrOTPInvalid
		}
		return "", fmt.Errorf("identity: load passcode: %w", err)
	}

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, s.attemptsKey(ref))
	pipe.ExpireNX(ctx, s.attemptsKey(ref), s.cfg.CodeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("identity: count attempt: %w", err)
	}
	if incr.Val() > s.cfg.MaxAttempts {
		_ = s.clearCode(ctx, ref)
		return "", ErrOTPMaxAttempts
	}

	if hashToken(code) != stored {
		if incr.Val() >= s.cfg.MaxAttempts {
			_ = s.clearCode(ctx, ref)
			return "", ErrOTPMaxAttempts
		}
		return "", ErrOTPInvalid
	}

	if err := s.clearCode(ctx, ref); err != nil {
		return "", fmt.Errorf("identity: clear passcode: %w", err)
	}
	return s.openSession(ctx, ref)
}

// Validate implements SessionValidator against this channel's session
// namespace.
func (s *OTPStore) Validate(ctx context.Context, token string) (SessionStatus, error) {
	key := s.sessionKey(hashToken(token))
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return SessionStatus{}, fmt.Errorf("identity: validate session: %w", err)
	}
	if n == 0 {
		return SessionStatus{}, nil
	}
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return SessionStatus{}, nil
	}
	return SessionStatus{Valid: true, ExpiresAt: time.Now().UTC().Add(ttl)}, nil
}

// Revoke destroys an OTP session (explicit sign-out).
func (s *OTPStore) Revoke(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.sessionKey(hashToken(token))).Err()
}

func (s *OTPStore) openSession(ctx context.Context, ref string) (string, error) {
	token := uuid.NewString()
	key := s.sessionKey(hashToken(token))
	if err := s.client.Set(ctx, key, ref, s.cfg.SessionTTL).Err(); err != nil {
		return "", fmt.Errorf("identity: open session: %w", err)
	}
	return token, nil
}

func (s *OTPStore) clearCode(ctx context.Context, ref string) error {
	return s.client.Del(ctx, s.codeKey(ref), s.attemptsKey(ref)).Err()
}

func (s *OTPStore) codeKey(ref string) string {
	return "otp:" + s.channel + ":code:" + ref
}

func (s *OTPStore) attemptsKey(ref string) string {
	return "otp:" + s.channel + ":attempts:" + ref
}

func (s *OTPStore) cooldownKey(ref string) string {
	return "otp:" + s.channel + ":cooldown:" + ref
}

func (s *OTPStore) sessionKey(hashed string) string {
	return "otp:" + s.channel + ":session:" + hashed
}

func generateCode() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashToken(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

var _ SessionValidator = (*OTPStore)(nil)
