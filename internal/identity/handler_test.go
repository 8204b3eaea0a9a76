package identity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-sms/meridian-sms/internal/identity"
	"github.com/meridian-sms/meridian-sms/internal/roles"
	"github.com/meridian-sms/meridian-sms/internal/shared"
	_ "github.com/meridian-sms/meridian-sms/testing"
)

type stubAccountRepo struct {
	account         *identity.AccountRecord
	createdSessions []string
	deletedSessions []string
}

func (s *stubAccountRepo) FindByEmail(ctx context.Context, email string) (*identity.AccountRecord, error) {
	if s.account == nil || s.account.Email != email {
		return nil, shared.ErrNotFound
	}
	return s.account, nil
}

func (s *stubAccountRepo) AccountBySession(ctx context.Context, sessionID string) (*identity.Account, error) {
	return nil, nil
}

func (s *stubAccountRepo) RoleAssignments(ctx context.Context, subjectID string) ([]roles.Assignment, error) {
	return nil, nil
}

func (s *stubAccountRepo) CreateSession(ctx context.Context, id, accountID string, expiresAt time.Time, ip, ua string) error {
	s.createdSessions = append(s.createdSessions, id)
	return nil
}

func (s *stubAccountRepo) DeleteSession(ctx context.Context, id string) error {
	s.deletedSessions = append(s.deletedSessions, id)
	return nil
}

type recordingDeliverer struct {
	codes map[string]string
}

func (d *recordingDeliverer) Deliver(ref, code string) error {
	if d.codes == nil {
		d.codes = make(map[string]string)
	}
	d.codes[ref] = code
	return nil
}

type handlerFixture struct {
	router      chi.Router
	sessions    *shared.SessionManager
	repo        *stubAccountRepo
	deliverer   *recordingDeliverer
	mr          *miniredis.Miniredis
	invalidated []string
	lastSession *shared.Session
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)

	f := &handlerFixture{
		sessions:  sessions,
		repo:      &stubAccountRepo{},
		deliverer: &recordingDeliverer{},
		mr:        mr,
	}
	parents := identity.NewOTPStore(client, "parent", identity.OTPConfig{})
	students := identity.NewOTPStore(client, "student", identity.OTPConfig{})
	handler := identity.NewHandler(nil, identity.NewAccountService(f.repo), parents, students, sessions, f.deliverer,
		func(r *http.Request, subjectID string) {
			f.invalidated = append(f.invalidated, subjectID)
		})

	r := chi.NewRouter()
	// The app's session middleware normally loads and commits around
	// every request; tests do the same inline.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessions.Load(req.Context(), req)
			if err != nil {
				t.Fatalf("load session: %v", err)
			}
			f.lastSession = sess
			ctx := shared.ContextWithSession(req.Context(), sess)
			next.ServeHTTP(w, req.WithContext(ctx))
			if err := sessions.Commit(ctx, w, req, sess); err != nil {
				t.Fatalf("commit session: %v", err)
			}
		})
	})
	handler.MountRoutes(r)
	f.router = r
	return f
}

func hashPassword(t *testing.T, plain string) string {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(hashed)
}

func TestLoginSuccess(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.account = &identity.AccountRecord{
		ID:           "u1",
		Email:        "head@school.test",
		PasswordHash: hashPassword(t, "correct-horse"),
		Active:       true,
	}

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"head@school.test","password":"correct-horse"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if len(f.repo.createdSessions) != 1 {
		t.Fatalf("expected one persisted session, got %d", len(f.repo.createdSessions))
	}
	var body map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["account_id"] != "u1" {
		t.Fatalf("expected account_id u1, got %v", body["account_id"])
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.account = &identity.AccountRecord{
		ID:           "u1",
		Email:        "head@school.test",
		PasswordHash: hashPassword(t, "correct-horse"),
		Active:       true,
	}

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"head@school.test","password":"wrong-horse"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if len(f.repo.createdSessions) != 0 {
		t.Fatalf("no session should persist on failed login")
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.account = &identity.AccountRecord{
		ID:           "u1",
		Email:        "head@school.test",
		PasswordHash: hashPassword(t, "correct-horse"),
		Active:       false,
	}

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"head@school.test","password":"correct-horse"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestLoginValidation(t *testing.T) {
	f := newHandlerFixture(t)

	for _, body := range []string{
		`{"email":"not-an-email","password":"longenough"}`,
		`{"email":"head@school.test","password":"short"}`,
		`{broken`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		res := httptest.NewRecorder()
		f.router.ServeHTTP(res, req)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %q, got %d", body, res.Code)
		}
	}
}

func TestLogoutInvalidatesSnapshots(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.account = &identity.AccountRecord{
		ID:           "u1",
		Email:        "head@school.test",
		PasswordHash: hashPassword(t, "correct-horse"),
		Active:       true,
	}

	loginReq := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"head@school.test","password":"correct-horse"}`))
	loginReq.Header.Set("Content-Type", "application/json")
	loginRes := httptest.NewRecorder()
	f.router.ServeHTTP(loginRes, loginReq)
	if loginRes.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", loginRes.Code)
	}

	if f.lastSession == nil || f.lastSession.User() != "u1" {
		t.Fatalf("expected logged-in session")
	}

	logoutReq := httptest.NewRequest(http.MethodPost, "/logout", nil)
	logoutReq.AddCookie(&http.Cookie{Name: f.sessions.CookieName(), Value: f.lastSession.ID})
	logoutRes := httptest.NewRecorder()
	f.router.ServeHTTP(logoutRes, logoutReq)

	if logoutRes.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", logoutRes.Code)
	}
	if len(f.invalidated) != 1 || f.invalidated[0] != "u1" {
		t.Fatalf("expected snapshot invalidation for u1, got %v", f.invalidated)
	}
	if len(f.repo.deletedSessions) != 1 {
		t.Fatalf("expected session row removal, got %v", f.repo.deletedSessions)
	}
}

func TestOTPRequestAndVerifyFlow(t *testing.T) {
	f := newHandlerFixture(t)

	reqBody := `{"ref":"+254700000001"}`
	req := httptest.NewRequest(http.MethodPost, "/parent/otp/request", strings.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	code := f.deliverer.codes["+254700000001"]
	if len(code) != 6 {
		t.Fatalf("expected delivered six-digit code, got %q", code)
	}

	verifyReq := httptest.NewRequest(http.MethodPost, "/parent/otp/verify", strings.NewReader(`{"ref":"+254700000001","code":"`+code+`"}`))
	verifyReq.Header.Set("Content-Type", "application/json")
	verifyRes := httptest.NewRecorder()
	f.router.ServeHTTP(verifyRes, verifyReq)
	if verifyRes.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", verifyRes.Code, verifyRes.Body.String())
	}

	var cookie *http.Cookie
	for _, c := range verifyRes.Result().Cookies() {
		if c.Name == identity.ParentSessionCookie {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatalf("expected parent session cookie")
	}
	if !cookie.HttpOnly {
		t.Fatalf("session cookie must be http-only")
	}

	// Revoking through the cookie kills the session.
	revokeReq := httptest.NewRequest(http.MethodDelete, "/parent/session", nil)
	revokeReq.AddCookie(cookie)
	revokeRes := httptest.NewRecorder()
	f.router.ServeHTTP(revokeRes, revokeReq)
	if revokeRes.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", revokeRes.Code)
	}
}

func TestOTPVerifyWrongCode(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/student/otp/request", strings.NewReader(`{"ref":"adm-100"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}

	wrong := "000000"
	if f.deliverer.codes["adm-100"] == wrong {
		wrong = "000001"
	}
	verifyReq := httptest.NewRequest(http.MethodPost, "/student/otp/verify", strings.NewReader(`{"ref":"adm-100","code":"`+wrong+`"}`))
	verifyReq.Header.Set("Content-Type", "application/json")
	verifyRes := httptest.NewRecorder()
	f.router.ServeHTTP(verifyRes, verifyReq)
	if verifyRes.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", verifyRes.Code)
	}
}

func TestOTPRequestCooldownMapsTo429(t *testing.T) {
	f := newHandlerFixture(t)

	for i, want := range []int{http.StatusAccepted, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/parent/otp/request", strings.NewReader(`{"ref":"+254700000002"}`))
		req.Header.Set("Content-Type", "application/json")
		res := httptest.NewRecorder()
		f.router.ServeHTTP(res, req)
		if res.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, res.Code)
		}
	}
}
