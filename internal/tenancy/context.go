package tenancy

import "context"

type ctxKey string

const (
	orgKey       ctxKey = "clinic.org_id"
	principalKey ctxKey = "clinic.principal"
)

// WithOrgID stores the org id in context.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgKey, orgID)
}

// OrgIDFromContext extracts the org id if present.
func OrgIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(orgKey)
	if val == nil {
		return "", false
	}
	orgID, ok := val.(string)
	return orgID, ok && orgID != ""
}

// WithPrincipal stores the authenticated caller and its org in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey, p)
	if p.OrgID != "" {
		ctx = WithOrgID(ctx, p.OrgID)
	}
	return ctx
}

// PrincipalFromContext returns the authenticated caller if present.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok && p.UserID != ""
}
