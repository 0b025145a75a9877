package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"authcore.org/internal/audit"
	"authcore.org/internal/auth"
)

type createTenantRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type updateTenantRequest struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
}

type createUserRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	TenantID  string `json:"tenant_id"`
	Role      string `json:"role"`
}

type updateUserRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Role      *string `json:"role"`
}

type listUsersResponse struct {
	Items []*auth.User `json:"items"`
	Total int          `json:"total"`
}

// Tenants --------------------------------------------------------------------

func (a *API) handleTenantsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createTenant(w, r)
	case http.MethodGet:
		a.listTenants(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleTenantResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/tenants/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getTenant(w, r, id)
	case http.MethodPatch:
		a.updateTenant(w, r, id)
	case http.MethodDelete:
		a.deleteTenant(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) createTenant(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, auth.PermManageTenants) {
		return
	}
	var req createTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	tenant := &auth.Tenant{Name: strings.TrimSpace(req.Name), Address: strings.TrimSpace(req.Address)}
	if err := a.store.Tenants(r.Context()).Create(r.Context(), tenant); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tenant.create", map[string]any{
		"tenant_id": tenant.ID,
		"name":      tenant.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/tenants/%s", tenant.ID))
	writeJSON(w, http.StatusCreated, tenant)
}

func (a *API) listTenants(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, auth.PermManageTenants) {
		return
	}
	tenants, err := a.store.Tenants(r.Context()).List(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": tenants})
}

func (a *API) getTenant(w http.ResponseWriter, r *http.Request, id string) {
	if !a.ensurePermission(w, r, auth.PermManageTenants) {
		return
	}
	tenant, err := a.store.Tenants(r.Context()).Find(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func (a *API) updateTenant(w http.ResponseWriter, r *http.Request, id string) {
	if !a.ensurePermission(w, r, auth.PermManageTenants) {
		return
	}
	var req updateTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tenant, err := a.store.Tenants(r.Context()).Update(r.Context(), id, auth.TenantUpdate{
		Name:    req.Name,
		Address: req.Address,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tenant.update", map[string]any{"tenant_id": id})
	writeJSON(w, http.StatusOK, tenant)
}

func (a *API) deleteTenant(w http.ResponseWriter, r *http.Request, id string) {
	if !a.ensurePermission(w, r, auth.PermManageTenants) {
		return
	}
	if err := a.store.Tenants(r.Context()).Delete(r.Context(), id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tenant.delete", map[string]any{"tenant_id": id})
	writeJSON(w, http.StatusOK, map[string]any{})
}

// Users ----------------------------------------------------------------------

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createUser(w, r)
	case http.MethodGet:
		a.listUsers(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getUser(w, r, id)
	case http.MethodPatch:
		a.updateUser(w, r, id)
	case http.MethodDelete:
		a.deleteUser(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, auth.PermManageUsers) {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Role) == "" {
		writeError(w, r, http.StatusBadRequest, "role is required")
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// Provisioning persists the account only. No session starts here; the
	// user's first credentials come from its own login.
	user, err := a.flow.CreateUser(r.Context(), auth.Registration{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		TenantID:  req.TenantID,
		Role:      role,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.create", map[string]any{
		"user_id": user.ID,
		"role":    string(user.Role),
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, auth.PermManageUsers) {
		return
	}
	q := auth.UserQuery{
		Search: r.URL.Query().Get("q"),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("role")); raw != "" {
		role, err := auth.ParseRole(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		q.Role = role
	}
	q.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	q.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))

	users, total, err := a.store.Users(r.Context()).List(r.Context(), q)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listUsersResponse{Items: users, Total: total})
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, id string) {
	if !a.ensurePermission(w, r, auth.PermManageUsers) {
		return
	}
	user, err := a.store.Users(r.Context()).Find(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, id string) {
	if !a.ensurePermission(w, r, auth.PermManageUsers) {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	upd := auth.UserUpdate{FirstName: req.FirstName, LastName: req.LastName}
	if req.Role != nil {
		role, err := auth.ParseRole(*req.Role)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		upd.Role = &role
	}
	user, err := a.store.Users(r.Context()).Update(r.Context(), id, upd)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.update", map[string]any{"user_id": id})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, id string) {
	// Account removal is destructive, so it takes the admin role outright
	// rather than the broader manage permission.
	if !a.ensureRole(w, r, auth.RoleAdmin) {
		return
	}
	// Revoke outstanding sessions before the account goes away.
	if err := a.store.RefreshTokens(r.Context()).DeleteByUser(r.Context(), id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	if err := a.store.Users(r.Context()).Delete(r.Context(), id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.delete", map[string]any{"user_id": id})
	writeJSON(w, http.StatusOK, map[string]any{})
}
