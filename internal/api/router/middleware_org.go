package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-portal/internal/httpx"
	"github.com/wolfman30/clinic-portal/internal/tenancy"
)

// actAsOrg rescopes the caller to the {orgID} URL param. Mounted only behind
// the super-admin guard.
func actAsOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := strings.TrimSpace(chi.URLParam(r, "orgID"))
		if orgID == "" {
			httpx.WriteError(w, http.StatusBadRequest, "missing orgID")
			return
		}
		p, ok := tenancy.PrincipalFromContext(r.Context())
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		p.OrgID = orgID
		ctx := tenancy.WithPrincipal(r.Context(), p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireOrg rejects principals without a home organization on tenant routes.
func requireOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := orgIDFromRequest(r)
		if !ok || orgID == "" {
			httpx.WriteError(w, http.StatusBadRequest, "organization required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// orgIDFromRequest exposes the org id for local handlers.
func orgIDFromRequest(r *http.Request) (string, bool) {
	return tenancy.OrgIDFromContext(r.Context())
}
