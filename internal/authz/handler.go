package authz

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-sms/meridian-sms/internal/identity"
	"github.com/meridian-sms/meridian-sms/internal/platform/httpx"
	"github.com/meridian-sms/meridian-sms/internal/shared"
)

// Handler exposes the permission-check surface consumed by the UI
// layer: explicit checks, effective permission listing and tenant
// switching.
type Handler struct {
	logger   *slog.Logger
	checker  *Checker
	loader   *Loader
	validate *validator.Validate
}

// NewHandler builds the authz HTTP handler.
func NewHandler(logger *slog.Logger, checker *Checker, loader *Loader) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		checker:  checker,
		loader:   loader,
		validate: validator.New(),
	}
}

// MountRoutes registers authz routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/check", h.check)
	r.Get("/permissions", h.listPermissions)
	r.Post("/institution", h.switchInstitution)
}

type checkResponse struct {
	Granted bool `json:"granted"`
	Pending bool `json:"pending"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no resolved identity")
		return
	}
	domain := Domain(r.URL.Query().Get("domain"))
	query := r.URL.Query()
	actions := make([]Action, 0, len(query["action"]))
	for _, a := range query["action"] {
		actions = append(actions, Action(a))
	}
	if len(actions) == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "at least one action is required")
		return
	}

	inst := shared.InstitutionFromContext(r.Context())
	var decision Decision
	if query.Get("mode") == "all" {
		decision = h.checker.CheckAll(r.Context(), id, inst, domain, actions...)
	} else {
		decision = h.checker.Check(r.Context(), id, inst, domain, actions...)
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Granted: decision.Granted, Pending: decision.Pending})
}

type permissionsResponse struct {
	Identity    string              `json:"identity"`
	Institution string              `json:"institution,omitempty"`
	SuperAdmin  bool                `json:"super_admin,omitempty"`
	Roles       []string            `json:"roles"`
	Grants      map[string][]string `json:"grants"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no resolved identity")
		return
	}
	inst := shared.InstitutionFromContext(r.Context())
	eval, err := h.checker.Evaluator(r.Context(), id, inst)
	if err != nil {
		h.logger.Warn("list permissions", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "")
		return
	}

	resp := permissionsResponse{
		Identity:    id.Kind.String(),
		Institution: inst,
		SuperAdmin:  id.SuperAdmin,
		Roles:       make([]string, 0),
		Grants:      make(map[string][]string),
	}
	for _, role := range eval.EffectiveRoles() {
		resp.Roles = append(resp.Roles, string(role))
	}
	for _, d := range Domains() {
		for _, a := range Actions() {
			if eval.Can(d, a) {
				resp.Grants[string(d)] = append(resp.Grants[string(d)], string(a))
			}
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type switchInstitutionRequest struct {
	InstitutionID string `json:"institution_id" validate:"required,max=64"`
}

// switchInstitution changes the selected tenant. The cached snapshot
// for the outgoing pair is dropped so no decision computed for the
// old tenant can leak into the new one.
func (h *Handler) switchInstitution(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok || id.Kind != identity.KindPrimaryAccount {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "institution switch requires a primary account")
		return
	}
	var req switchInstitutionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no session")
		return
	}
	if prev := sess.Get(shared.SessionInstitutionKey); prev != "" && prev != req.InstitutionID {
		h.loader.Invalidate(r.Context(), id.UserID, prev)
	}
	sess.Set(shared.SessionInstitutionKey, req.InstitutionID)

	httpx.JSON(w, http.StatusOK, map[string]string{"institution_id": req.InstitutionID})
}
