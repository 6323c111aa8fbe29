package lti

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcqlabs/examhub/internal/db"
)

func openTestDB(t *testing.T) *StateStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "lti_test.db")
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = dbh.Close() })
	return NewStateStore(dbh, 10*time.Minute)
}

func TestStateConsumeOnce(t *testing.T) {
	states := openTestDB(t)
	ctx := context.Background()

	state, nonce, err := states.New(ctx, "https://lms.test", "https://tool.test/lti/launch")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	gotNonce, gotIss, err := states.Consume(ctx, state)
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if gotNonce != nonce || gotIss != "https://lms.test" {
		t.Fatalf("consume returned %q/%q", gotNonce, gotIss)
	}

	if _, _, err := states.Consume(ctx, state); !errors.Is(err, ErrStateInvalid) {
		t.Fatalf("second consume: want ErrStateInvalid, got %v", err)
	}
	if _, _, err := states.Consume(ctx, "never-issued"); !errors.Is(err, ErrStateInvalid) {
		t.Fatalf("unknown state: want ErrStateInvalid, got %v", err)
	}
}

func TestStateExpired(t *testing.T) {
	states := openTestDB(t)
	states.ttl = -time.Minute
	ctx := context.Background()

	state, _, err := states.New(ctx, "https://lms.test", "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, _, err := states.Consume(ctx, state); !errors.Is(err, ErrStateInvalid) {
		t.Fatalf("expired state: want ErrStateInvalid, got %v", err)
	}
}

// platformFixture is a fake LMS: an RSA key, a JWKS endpoint serving its
// public half, and a signer for launch id_tokens.
type platformFixture struct {
	key      *ToolKey
	jwksSrv  *httptest.Server
	platform Platform
}

func newPlatformFixture(t *testing.T) *platformFixture {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key := NewToolKey(priv)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(JWKS{Keys: []map[string]any{key.PublicJWK()}})
	}))
	t.Cleanup(srv.Close)

	return &platformFixture{
		key:     key,
		jwksSrv: srv,
		platform: Platform{
			Issuer:        "https://lms.test",
			ClientID:      "client-1",
			AuthLoginURL:  "https://lms.test/auth",
			AuthTokenURL:  "https://lms.test/token",
			KeySetURL:     srv.URL,
			DeploymentIDs: []string{"dep-1"},
		},
	}
}

func (f *platformFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = f.platform.Issuer
	}
	if _, ok := claims["aud"]; !ok {
		claims["aud"] = f.platform.ClientID
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(5 * time.Minute).Unix()
	}
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = time.Now().Unix()
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = f.key.KID
	signed, err := tok.SignedString(f.key.Private)
	if err != nil {
		t.Fatalf("sign id_token: %v", err)
	}
	return signed
}

func learnerClaims(nonce string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":           "platform-user-9",
		"email":         "learner@example.com",
		"name":          "Lea Learner",
		"nonce":         nonce,
		claimDeployment: "dep-1",
		claimRoles:      []string{"http://purl.imsglobal.org/vocab/lis/v2/membership#Learner"},
		claimCustom:     map[string]string{"exam_share_token": "abcd1234abcd1234"},
		claimEndpoint: map[string]any{
			"lineitem": "https://lms.test/li/42",
			"scope":    []string{scopeScore},
		},
	}
}

func TestVerifyLaunch(t *testing.T) {
	f := newPlatformFixture(t)
	v := NewVerifier(NewRegistry(f.platform))

	idToken := f.sign(t, learnerClaims("nonce-1"))
	claims, err := v.Verify(context.Background(), idToken, "nonce-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "platform-user-9" {
		t.Fatalf("subject: %q", claims.Subject)
	}
	if claims.DeploymentID != "dep-1" || claims.LineItemURL != "https://lms.test/li/42" {
		t.Fatalf("claims: %+v", claims)
	}
	if claims.ShareToken() != "abcd1234abcd1234" {
		t.Fatalf("share token: %q", claims.ShareToken())
	}
	if claims.IsInstructor() {
		t.Fatal("learner classified as instructor")
	}
}

func TestVerifyLaunchRejections(t *testing.T) {
	f := newPlatformFixture(t)
	v := NewVerifier(NewRegistry(f.platform))
	ctx := context.Background()

	cases := []struct {
		name  string
		token string
		nonce string
	}{
		{"nonce mismatch", f.sign(t, learnerClaims("nonce-a")), "nonce-b"},
		{"wrong audience", f.sign(t, func() jwt.MapClaims {
			c := learnerClaims("n")
			c["aud"] = "someone-else"
			return c
		}()), "n"},
		{"unknown deployment", f.sign(t, func() jwt.MapClaims {
			c := learnerClaims("n")
			c[claimDeployment] = "dep-rogue"
			return c
		}()), "n"},
		{"expired", f.sign(t, func() jwt.MapClaims {
			c := learnerClaims("n")
			c["exp"] = time.Now().Add(-time.Minute).Unix()
			return c
		}()), "n"},
		{"unregistered issuer", f.sign(t, func() jwt.MapClaims {
			c := learnerClaims("n")
			c["iss"] = "https://rogue.test"
			return c
		}()), "n"},
	}
	for _, tc := range cases {
		if _, err := v.Verify(ctx, tc.token, tc.nonce); err == nil {
			t.Errorf("%s: verification should fail", tc.name)
		}
	}
}

func TestVerifyLaunchWrongKey(t *testing.T) {
	f := newPlatformFixture(t)
	v := NewVerifier(NewRegistry(f.platform))

	rogue, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, learnerClaims("n"))
	tok.Header["kid"] = f.key.KID
	signed, err := tok.SignedString(rogue)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(context.Background(), signed, "n"); err == nil {
		t.Fatal("foreign signature must be rejected")
	}
}

func TestVerifyEmailPlaceholder(t *testing.T) {
	f := newPlatformFixture(t)
	v := NewVerifier(NewRegistry(f.platform))

	c := learnerClaims("n")
	delete(c, "email")
	claims, err := v.Verify(context.Background(), f.sign(t, c), "n")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Email != "platform-user-9@lti.local" {
		t.Fatalf("placeholder email: %q", claims.Email)
	}
}

func TestJWKSHandler(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	h := JWKSHandler(NewToolKey(priv))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/lti/jwks", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/jwk-set+json" {
		t.Fatalf("content type: %q", ct)
	}
	var set JWKS
	if err := json.Unmarshal(rr.Body.Bytes(), &set); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(set.Keys) != 1 || set.Keys[0]["kty"] != "RSA" {
		t.Fatalf("key set: %+v", set)
	}

	etag := rr.Header().Get("ETag")
	req := httptest.NewRequest("GET", "/lti/jwks", nil)
	req.Header.Set("If-None-Match", etag)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotModified {
		t.Fatalf("conditional get: want 304, got %d", rr.Code)
	}
}
