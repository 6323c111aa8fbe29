package user

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mcqlabs/examhub/internal/db"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "user_test.db")
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = dbh.Close() })
	return NewStore(dbh)
}

func TestResolveOrCreateIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := SSOClaims{Subject: "platform-sub-1", Email: "jane@example.com", Name: "Jane Doe"}
	u1, err := s.ResolveOrCreate(ctx, c)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if !strings.HasPrefix(u1.Username, "jane_") {
		t.Fatalf("username %q should start with the email local part", u1.Username)
	}
	if !u1.IsActive {
		t.Fatal("provisioned account should be active")
	}

	u2, err := s.ResolveOrCreate(ctx, c)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if u2.ID != u1.ID {
		t.Fatalf("same subject must map to the same account: %s vs %s", u1.ID, u2.ID)
	}
}

func TestResolveOrCreateLinksByEmail(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	native, err := s.Create(ctx, "jane", "jane@example.com", "hash")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	u, err := s.ResolveOrCreate(ctx, SSOClaims{Subject: "sub-77", Email: "jane@example.com"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if u.ID != native.ID {
		t.Fatalf("email match must reuse the existing account: %s vs %s", u.ID, native.ID)
	}

	// backfilled subject now takes the fast path
	again, err := s.ResolveOrCreate(ctx, SSOClaims{Subject: "sub-77"})
	if err != nil {
		t.Fatalf("resolve by sub: %v", err)
	}
	if again.ID != native.ID {
		t.Fatalf("backfilled subject lookup: %s vs %s", again.ID, native.ID)
	}
}

func TestResolveOrCreateNoEmail(t *testing.T) {
	s := testStore(t)

	u, err := s.ResolveOrCreate(context.Background(), SSOClaims{Subject: "only-sub"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if u.Email != "only-sub@lti.local" {
		t.Fatalf("placeholder email: got %q", u.Email)
	}
}

func TestUpdateProfilePartial(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u, err := s.Create(ctx, "carl", "carl@example.com", "hash")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	full := "Carl C."
	phone := "555-0100"
	if err := s.UpdateProfile(ctx, u.ID, ProfileUpdate{FullName: &full, PhoneNumber: &phone}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FullName != full || got.PhoneNumber != phone {
		t.Fatalf("partial update lost fields: %+v", got)
	}
	if got.Username != "carl" || got.Email != "carl@example.com" {
		t.Fatalf("untouched fields changed: %+v", got)
	}
}

func TestSetActiveUnknownUser(t *testing.T) {
	s := testStore(t)
	if err := s.SetActive(context.Background(), "nope", false); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
