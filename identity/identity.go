package identity

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
)

// Headers used to propagate the authenticated principal between services.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUsername  = "X-User-Username"
	HeaderEmail     = "X-User-Email"
	HeaderFirstName = "X-User-FirstName"
	HeaderLastName  = "X-User-LastName"
	HeaderRoles     = "X-User-Roles"
)

// Principal is the authenticated user descriptor lifted from request
// headers. It is constructed once per request and never mutated.
type Principal struct {
	UserID    int64
	Username  string
	Email     string
	FirstName string
	LastName  string
	Roles     []string
}

// Valid reports whether the principal identifies a real user.
func (p Principal) Valid() bool {
	return p.UserID != 0 && p.Username != ""
}

// HasRole matches both the bare role and its ROLE_ prefixed form,
// case-insensitively.
func (p Principal) HasRole(role string) bool {
	want := canonicalRole(role)
	for _, r := range p.Roles {
		if r == want || r == "ROLE_"+want || "ROLE_"+r == want {
			return true
		}
	}
	return false
}

func canonicalRole(r string) string {
	return strings.ToUpper(strings.TrimSpace(r))
}

// FromHeaders lifts a Principal from the six X-User-* headers. The second
// return is false when the id or username header is missing, or the id is
// not a positive integer.
func FromHeaders(h http.Header) (Principal, bool) {
	rawID := strings.TrimSpace(h.Get(HeaderUserID))
	username := strings.TrimSpace(h.Get(HeaderUsername))
	if rawID == "" || username == "" {
		return Principal{}, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, false
	}

	p := Principal{
		UserID:    id,
		Username:  username,
		Email:     h.Get(HeaderEmail),
		FirstName: h.Get(HeaderFirstName),
		LastName:  h.Get(HeaderLastName),
	}
	if raw := h.Get(HeaderRoles); raw != "" {
		for _, r := range strings.Split(raw, ",") {
			if r = canonicalRole(r); r != "" {
				p.Roles = append(p.Roles, r)
			}
		}
	}
	return p, true
}

// Inject writes the principal back onto outgoing request headers so the
// downstream service can re-lift it. Round-trips FromHeaders verbatim.
func Inject(h http.Header, p Principal) {
	h.Set(HeaderUserID, strconv.FormatInt(p.UserID, 10))
	h.Set(HeaderUsername, p.Username)
	if p.Email != "" {
		h.Set(HeaderEmail, p.Email)
	}
	if p.FirstName != "" {
		h.Set(HeaderFirstName, p.FirstName)
	}
	if p.LastName != "" {
		h.Set(HeaderLastName, p.LastName)
	}
	if len(p.Roles) > 0 {
		h.Set(HeaderRoles, strings.Join(p.Roles, ","))
	}
}

type ctxKey struct{}

// WithPrincipal returns a child context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// Current returns the request-scoped principal, if any.
func Current(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// Require returns the principal or an unauthenticated error when it is
// absent or invalid.
func Require(ctx context.Context) (Principal, error) {
	p, ok := Current(ctx)
	if !ok || !p.Valid() {
		return Principal{}, errs.New(errs.KindUnauthenticated, "authentication required")
	}
	return p, nil
}

// RequireRole returns the principal or a forbidden error when the role is
// missing.
func RequireRole(ctx context.Context, role string) (Principal, error) {
	p, err := Require(ctx)
	if err != nil {
		return Principal{}, err
	}
	if !p.HasRole(role) {
		return Principal{}, errs.Newf(errs.KindForbidden, "role %s required", canonicalRole(role))
	}
	return p, nil
}
