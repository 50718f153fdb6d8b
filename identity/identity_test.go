package identity

import (
	"context"
	"net/http"
	"testing"

	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
)

func TestFromHeaders_Valid(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderUserID, "42")
	h.Set(HeaderUsername, "alice")
	h.Set(HeaderEmail, "alice@example.com")
	h.Set(HeaderRoles, "admin, customer")

	p, ok := FromHeaders(h)
	if !ok {
		t.Fatal("expected principal to be lifted")
	}
	if p.UserID != 42 || p.Username != "alice" {
		t.Errorf("unexpected principal: %+v", p)
	}
	if len(p.Roles) != 2 || p.Roles[0] != "ADMIN" || p.Roles[1] != "CUSTOMER" {
		t.Errorf("roles not canonicalized: %v", p.Roles)
	}
}

func TestFromHeaders_Missing(t *testing.T) {
	cases := map[string]http.Header{
		"no headers":  {},
		"no username": headerWith(HeaderUserID, "42"),
		"no id":       headerWith(HeaderUsername, "alice"),
	}
	for name, h := range cases {
		if _, ok := FromHeaders(h); ok {
			t.Errorf("%s: expected absent principal", name)
		}
	}
}

func TestFromHeaders_InvalidID(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-5", "1.5"} {
		h := http.Header{}
		h.Set(HeaderUserID, raw)
		h.Set(HeaderUsername, "alice")
		if _, ok := FromHeaders(h); ok {
			t.Errorf("id %q: expected absent principal", raw)
		}
	}
}

func TestInject_RoundTrip(t *testing.T) {
	orig := Principal{
		UserID:    7,
		Username:  "bob",
		Email:     "bob@example.com",
		FirstName: "Bob",
		LastName:  "Jones",
		Roles:     []string{"ADMIN", "SUPPORT"},
	}

	h := http.Header{}
	Inject(h, orig)
	got, ok := FromHeaders(h)
	if !ok {
		t.Fatal("round trip lost the principal")
	}
	if got.UserID != orig.UserID || got.Username != orig.Username ||
		got.Email != orig.Email || got.FirstName != orig.FirstName ||
		got.LastName != orig.LastName {
		t.Errorf("round trip mismatch: got %+v want %+v", got, orig)
	}
	if len(got.Roles) != 2 || got.Roles[0] != "ADMIN" || got.Roles[1] != "SUPPORT" {
		t.Errorf("roles mismatch: %v", got.Roles)
	}
}

func TestHasRole_PrefixForms(t *testing.T) {
	p := Principal{UserID: 1, Username: "x", Roles: []string{"ADMIN", "ROLE_SUPPORT"}}

	for _, r := range []string{"admin", "ADMIN", "ROLE_ADMIN", "support", "ROLE_SUPPORT"} {
		if !p.HasRole(r) {
			t.Errorf("expected HasRole(%q) to be true", r)
		}
	}
	if p.HasRole("customer") {
		t.Error("unexpected role match")
	}
}

func TestRequire(t *testing.T) {
	if _, err := Require(context.Background()); !errs.Is(err, errs.KindUnauthenticated) {
		t.Errorf("expected unauthenticated, got %v", err)
	}

	ctx := WithPrincipal(context.Background(), Principal{UserID: 1, Username: "x"})
	if _, err := Require(ctx); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRequireRole(t *testing.T) {
	ctx := WithPrincipal(context.Background(), Principal{UserID: 1, Username: "x", Roles: []string{"CUSTOMER"}})

	if _, err := RequireRole(ctx, "admin"); !errs.Is(err, errs.KindForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
	if _, err := RequireRole(ctx, "customer"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func headerWith(key, value string) http.Header {
	h := http.Header{}
	h.Set(key, value)
	return h
}
