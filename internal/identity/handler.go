package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-sms/meridian-sms/internal/platform/httpx"
	"github.com/meridian-sms/meridian-sms/internal/shared"
)

// OTPDeliverer hands a freshly minted passcode to the delivery side
// (SMS or email). Delivery is outside this subsystem; tests and local
// runs use a logging deliverer.
type OTPDeliverer interface {
	Deliver(ref string, code string) error
}

// Handler exposes the credential endpoints: primary login/logout and
// the two OTP channels.
type Handler struct {
	logger    *slog.Logger
	accounts  *AccountService
	parents   *OTPStore
	students  *OTPStore
	sessions  *shared.SessionManager
	deliverer OTPDeliverer
	validate  *validator.Validate
	// invalidate is called with the subject id on logout so cached
	// permission snapshots die with the session.
	invalidate func(ctx *http.Request, subjectID string)
}

// NewHandler builds the identity HTTP handler.
func NewHandler(logger *slog.Logger, accounts *AccountService, parents, students *OTPStore, sessions *shared.SessionManager, deliverer OTPDeliverer, invalidate func(*http.Request, string)) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:     logger,
		accounts:   accounts,
		parents:    parents,
		students:   students,
		sessions:   sessions,
		deliverer:  deliverer,
		validate:   validator.New(),
		invalidate: invalidate,
	}
}

// MountRoutes registers credential routes. OTP issuance gets its own
// tighter rate limit on top of the global one.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)

	otpLimit := httprate.Limit(5, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
	r.Group(func(r chi.Router) {
		r.Use(otpLimit)
		r.Post("/parent/otp/request", h.requestOTP(func() *OTPStore { return h.parents }))
		r.Post("/student/otp/request", h.requestOTP(func() *OTPStore { return h.students }))
	})
	r.Post("/parent/otp/verify", h.verifyOTP(func() *OTPStore { return h.parents }, ParentSessionCookie))
	r.Post("/student/otp/verify", h.verifyOTP(func() *OTPStore { return h.students }, StudentSessionCookie))
	r.Delete("/parent/session", h.revokeOTP(func() *OTPStore { return h.parents }, ParentSessionCookie))
	r.Delete("/student/session", h.revokeOTP(func() *OTPStore { return h.students }, StudentSessionCookie))
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	account, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	sess.SetUser(account.ID)
	expiresAt := time.Now().Add(h.sessions.TTL())
	if err := h.accounts.RegisterSession(r.Context(), sess.ID, account.ID, expiresAt, clientIP(r), r.UserAgent()); err != nil {
		h.logger.Error("register session", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	h.logger.Info("login", slog.String("account", account.ID))
	httpx.JSON(w, http.StatusOK, map[string]any{
		"account_id":  account.ID,
		"super_admin": account.SuperAdmin,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	subjectID := sess.User()
	if err := h.accounts.RemoveSession(r.Context(), sess.ID); err != nil {
		h.logger.Warn("remove session", slog.Any("error", err))
	}
	if h.invalidate != nil {
		h.invalidate(r, subjectID)
	}
	h.sessions.Destroy(sess)
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type otpRequestPayload struct {
	// Ref is the channel recipient reference: a guardian contact or a
	// student admission number.
	Ref string `json:"ref" validate:"required,max=128"`
}

func (h *Handler) requestOTP(store func() *OTPStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req otpRequestPayload
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}

		code, err := store().RequestCode(r.Context(), req.Ref)
		if err != nil {
			if errors.Is(err, ErrOTPCooldown) {
				httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", err.Error())
				return
			}
			h.logger.Error("request otp", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		if h.deliverer != nil {
			if err := h.deliverer.Deliver(req.Ref, code); err != nil {
				h.logger.Error("deliver otp", slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
	}
}

type otpVerifyPayload struct {
	Ref  string `json:"ref" validate:"required,max=128"`
	Code string `json:"code" validate:"required,len=6,numeric"`
}

func (h *Handler) verifyOTP(store func() *OTPStore, cookie string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req otpVerifyPayload
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}

		token, err := store().VerifyCode(r.Context(), req.Ref, req.Code)
		if err != nil {
			switch {
			case errors.Is(err, ErrOTPInvalid):
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired passcode")
			case errors.Is(err, ErrOTPMaxAttempts):
				httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "passcode attempts exhausted")
			default:
				h.logger.Error("verify otp", slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			}
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     cookie,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
			Expires:  time.Now().Add(store().cfg.SessionTTL),
		})
		httpx.JSON(w, http.StatusOK, map[string]string{"token": token})
	}
}

func (h *Handler) revokeOTP(store func() *OTPStore, cookie string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerOrCookie(r, cookie)
		if token != "" {
			if err := store().Revoke(r.Context(), token); err != nil {
				h.logger.Warn("revoke otp session", slog.Any("error", err))
			}
		}
		http.SetCookie(w, &http.Cookie{
			Name:     cookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func clientIP(r *http.Request) string {
	return r.RemoteAddr
}
