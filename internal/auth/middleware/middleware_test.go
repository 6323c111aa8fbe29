package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcqlabs/examhub/internal/db"
	"github.com/mcqlabs/examhub/internal/user"
)

func testStore(t *testing.T) *user.Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "auth_test.db")
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = dbh.Close() })
	return user.NewStore(dbh)
}

func TestIssueParseRoundTrip(t *testing.T) {
	a := NewAuthService("test-secret", time.Hour)
	u := user.User{ID: "u1", Username: "alice", IsAdmin: true}

	tok, err := a.IssueToken(u)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	c, err := a.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.UserID != "u1" || c.Username != "alice" || !c.IsAdmin {
		t.Fatalf("claims mismatch: %+v", c)
	}
}

func TestParseExpired(t *testing.T) {
	a := NewAuthService("test-secret", -time.Minute)
	tok, err := a.IssueToken(user.User{ID: "u1", Username: "alice"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := a.Parse(tok); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestParseWrongSecret(t *testing.T) {
	a := NewAuthService("secret-a", time.Hour)
	b := NewAuthService("secret-b", time.Hour)
	tok, _ := a.IssueToken(user.User{ID: "u1", Username: "alice"})
	if _, err := b.Parse(tok); err == nil {
		t.Fatal("expected signature mismatch to fail")
	}
}

func TestRequireAuth(t *testing.T) {
	users := testStore(t)
	ctx := context.Background()
	u, err := users.Create(ctx, "bob", "bob@example.com", "x")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	a := NewAuthService("test-secret", time.Hour)
	var got user.User
	h := RequireAuth(a, users)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = CurrentUser(r.Context())
	}))

	// no credential
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: want 401, got %d", rr.Code)
	}

	// valid credential
	tok, _ := a.IssueToken(u)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("authorized: want 200, got %d", rr.Code)
	}
	if got.ID != u.ID {
		t.Fatalf("context user: want %s, got %s", u.ID, got.ID)
	}

	// deactivated account
	if err := users.SetActive(ctx, u.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("deactivated: want 401, got %d", rr.Code)
	}
}

func TestOptionalAuthAnonymous(t *testing.T) {
	users := testStore(t)
	a := NewAuthService("test-secret", time.Hour)

	var seen bool
	h := OptionalAuth(a, users)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, seen = CurrentUser(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
	if seen {
		t.Fatal("anonymous request should carry no user")
	}
}
