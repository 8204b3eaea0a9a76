package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-sms/meridian-sms/internal/identity"
	_ "github.com/meridian-sms/meridian-sms/testing"
)

func newOTPFixture(t *testing.T) (*identity.OTPStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := identity.NewOTPStore(client, "parent", identity.OTPConfig{
		CodeTTL:     5 * time.Minute,
		Cooldown:    30 * time.Second,
		MaxAttempts: 3,
		SessionTTL:  time.Hour,
	})
	return store, mr
}

func TestRequestVerifyValidateRevoke(t *testing.T) {
	store, _ := newOTPFixture(t)
	ctx := context.Background()

	code, err := store.RequestCode(ctx, "+254700000001")
	require.NoError(t, err)
	require.Len(t, code, 6)

	token, err := store.VerifyCode(ctx, "+254700000001", code)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	status, err := store.Validate(ctx, token)
	require.NoError(t, err)
	require.True(t, status.Valid)
	require.WithinDuration(t, time.Now().Add(time.Hour), status.ExpiresAt, 5*time.Second)

	require.NoError(t, store.Revoke(ctx, token))
	status, err = store.Validate(ctx, token)
	require.NoError(t, err)
	require.False(t, status.Valid)
}

func TestRequestCodeCooldown(t *testing.T) {
	store, mr := newOTPFixture(t)
	ctx := context.Background()

	_, err := store.RequestCode(ctx, "+254700000001")
	require.NoError(t, err)

	_, err = store.RequestCode(ctx, "+254700000001")
	require.ErrorIs(t, err, identity.ErrOTPCooldown)

	mr.FastForward(time.Minute)
	_, err = store.RequestCode(ctx, "+254700000001")
	require.NoError(t, err)
}

func TestVerifyCodeWrongCode(t *testing.T) {
	store, _ := newOTPFixture(t)
	ctx := context.Background()

	code, err := store.RequestCode(ctx, "adm-001")
	require.NoError(t, err)

	_, err = store.VerifyCode(ctx, "adm-001", "000000")
	if code == "000000" {
		t.Skip("generated the guessed code")
	}
	require.ErrorIs(t, err, identity.ErrOTPInvalid)

	// The right code still works after a failed attempt.
	token, err := store.VerifyCode(ctx, "adm-001", code)
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestVerifyCodeMaxAttemptsDestroysCode(t *testing.T) {
	store, _ := newOTPFixture(t)
	ctx := context.Background()

	code, err := store.RequestCode(ctx, "adm-002")
	require.NoError(t, err)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	_, err = store.VerifyCode(ctx, "adm-002", wrong)
	require.ErrorIs(t, err, identity.ErrOTPInvalid)
	_, err = store.VerifyCode(ctx, "adm-002", wrong)
	require.ErrorIs(t, err, identity.ErrOTPInvalid)
	_, err = store.VerifyCode(ctx, "adm-002", wrong)
	require.ErrorIs(t, err, identity.ErrOTPMaxAttempts)

	// Even the correct code is dead once attempts are exhausted.
	_, err = store.VerifyCode(ctx, "adm-002", code)
	require.ErrorIs(t, err, identity.ErrOTPInvalid)
}

func TestVerifyCodeExpired(t *testing.T) {
	store, mr := newOTPFixture(t)
	ctx := context.Background()

	code, err := store.RequestCode(ctx, "adm-003")
	require.NoError(t, err)

	mr.FastForward(10 * time.Minute)
	_, err = store.VerifyCode(ctx, "adm-003", code)
	require.ErrorIs(t, err, identity.ErrOTPInvalid)
}

func TestVerifyCodeSingleUse(t *testing.T) {
	store, _ := newOTPFixture(t)
	ctx := context.Background()

	code, err := store.RequestCode(ctx, "adm-004")
	require.NoError(t, err)

	_, err = store.VerifyCode(ctx, "adm-004", code)
	require.NoError(t, err)
	_, err = store.VerifyCode(ctx, "adm-004", code)
	require.ErrorIs(t, err, identity.ErrOTPInvalid)
}

func TestSessionExpiry(t *testing.T) {
	store, mr := newOTPFixture(t)
	ctx := context.Background()

	code, err := store.RequestCode(ctx, "adm-005")
	require.NoError(t, err)
	token, err := store.VerifyCode(ctx, "adm-005", code)
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)
	status, err := store.Validate(ctx, token)
	require.NoError(t, err)
	require.False(t, status.Valid)
}

func TestChannelsAreIsolated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	parents := identity.NewOTPStore(client, "parent", identity.OTPConfig{})
	students := identity.NewOTPStore(client, "student", identity.OTPConfig{})
	ctx := context.Background()

	code, err := parents.RequestCode(ctx, "ref-1")
	require.NoError(t, err)
	token, err := parents.VerifyCode(ctx, "ref-1", code)
	require.NoError(t, err)

	// A parent session token does not validate on the student channel.
	status, err := students.Validate(ctx, token)
	require.NoError(t, err)
	require.False(t, status.Valid)
}
