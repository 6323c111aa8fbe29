package lti

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mcqlabs/examhub/internal/auth/middleware"
	"github.com/mcqlabs/examhub/internal/db"
	"github.com/mcqlabs/examhub/internal/exam"
	"github.com/mcqlabs/examhub/internal/user"
)

func TestLoginHandlerRedirect(t *testing.T) {
	states := openTestDB(t)
	f := newPlatformFixture(t)
	reg := NewRegistry(f.platform)
	h := LoginHandler(reg, states, "https://tool.test/lti/launch")

	form := url.Values{
		"iss":              {"https://lms.test"},
		"login_hint":       {"hint-1"},
		"lti_message_hint": {"msg-1"},
	}
	req := httptest.NewRequest("POST", "/lti/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("status: want 302, got %d", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if !strings.HasPrefix(loc.String(), f.platform.AuthLoginURL) {
		t.Fatalf("redirect target: %s", loc)
	}
	q := loc.Query()
	for k, want := range map[string]string{
		"response_type":    "id_token",
		"response_mode":    "form_post",
		"scope":            "openid",
		"prompt":           "none",
		"client_id":        "client-1",
		"redirect_uri":     "https://tool.test/lti/launch",
		"login_hint":       "hint-1",
		"lti_message_hint": "msg-1",
	} {
		if q.Get(k) != want {
			t.Errorf("%s: want %q, got %q", k, want, q.Get(k))
		}
	}
	if q.Get("state") == "" || q.Get("nonce") == "" {
		t.Fatal("state and nonce must be set")
	}

	// the minted state is consumable exactly once
	nonce, _, err := states.Consume(context.Background(), q.Get("state"))
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if nonce != q.Get("nonce") {
		t.Fatalf("stored nonce %q does not match redirect nonce %q", nonce, q.Get("nonce"))
	}
}

func TestLoginHandlerUnknownIssuer(t *testing.T) {
	states := openTestDB(t)
	h := LoginHandler(NewRegistry(), states, "https://tool.test/lti/launch")

	req := httptest.NewRequest("GET", "/lti/login?iss=https://rogue.test&login_hint=h", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rr.Code)
	}
}

type launchFixture struct {
	deps   LaunchDeps
	fake   *platformFixture
	users  *user.Store
	exams  *exam.SQLStore
	tokens *middleware.AuthService
	exam   exam.Exam
}

func newLaunchFixture(t *testing.T) *launchFixture {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "launch_test.db")
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = dbh.Close() })

	fake := newPlatformFixture(t)
	users := user.NewStore(dbh)
	exams := exam.NewSQLStore(dbh)
	tokens := middleware.NewAuthService("test-secret", time.Hour)

	ctx := context.Background()
	owner, err := users.Create(ctx, "teacher", "teacher@example.com", "hash")
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	q, err := exams.CreateQuestion(ctx, owner.ID, "q", map[string]string{"A": "a", "B": "b"}, "A")
	if err != nil {
		t.Fatalf("create question: %v", err)
	}
	e, err := exams.CreateExam(ctx, owner.ID, "Quiz", "", []string{q.ID})
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}

	return &launchFixture{
		deps: LaunchDeps{
			States:      NewStateStore(dbh, 10*time.Minute),
			Verifier:    NewVerifier(NewRegistry(fake.platform)),
			Users:       users,
			Exams:       exams,
			Tokens:      tokens,
			FrontendURL: "https://app.test",
		},
		fake:   fake,
		users:  users,
		exams:  exams,
		tokens: tokens,
		exam:   e,
	}
}

func (lf *launchFixture) post(t *testing.T, state, idToken string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"state": {state}, "id_token": {idToken}}
	req := httptest.NewRequest("POST", "/lti/launch", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	LaunchHandler(lf.deps).ServeHTTP(rr, req)
	return rr
}

func TestLaunchHandlerLearnerFlow(t *testing.T) {
	lf := newLaunchFixture(t)
	ctx := context.Background()

	state, nonce, err := lf.deps.States.New(ctx, lf.fake.platform.Issuer, "")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	claims := learnerClaims(nonce)
	claims[claimCustom] = map[string]string{"exam_share_token": lf.exam.ShareToken}
	rr := lf.post(t, state, lf.fake.sign(t, claims))

	if rr.Code != http.StatusFound {
		t.Fatalf("status: want 302, got %d: %s", rr.Code, rr.Body.String())
	}
	loc, _ := url.Parse(rr.Header().Get("Location"))
	if !strings.HasPrefix(loc.Path, "/session/") {
		t.Fatalf("redirect: %s", loc)
	}
	tok := loc.Query().Get("token")
	if tok == "" {
		t.Fatal("redirect carries no credential")
	}
	parsed, err := lf.tokens.Parse(tok)
	if err != nil {
		t.Fatalf("redirect token: %v", err)
	}

	// a session was created for the provisioned user, linked to the launch
	sessID := strings.TrimPrefix(loc.Path, "/session/")
	sess, err := lf.exams.GetSession(ctx, sessID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sess.UserID != parsed.UserID {
		t.Fatalf("session user %q vs token user %q", sess.UserID, parsed.UserID)
	}
	if sess.LineItemURL != "https://lms.test/li/42" || sess.LTIUserSub != "platform-user-9" {
		t.Fatalf("launch linkage: %+v", sess)
	}

	// the id_token cannot be replayed: its state is gone
	rr = lf.post(t, state, lf.fake.sign(t, claims))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replay: want 401, got %d", rr.Code)
	}
}

func TestLaunchHandlerInstructorFlow(t *testing.T) {
	lf := newLaunchFixture(t)
	ctx := context.Background()

	state, nonce, err := lf.deps.States.New(ctx, lf.fake.platform.Issuer, "")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	claims := learnerClaims(nonce)
	claims[claimRoles] = []string{"http://purl.imsglobal.org/vocab/lis/v2/institution/person#Instructor"}
	rr := lf.post(t, state, lf.fake.sign(t, claims))

	if rr.Code != http.StatusFound {
		t.Fatalf("status: want 302, got %d", rr.Code)
	}
	loc, _ := url.Parse(rr.Header().Get("Location"))
	if loc.Path != "/dashboard/agent" {
		t.Fatalf("instructor redirect: %s", loc)
	}
	if loc.Query().Get("token") == "" {
		t.Fatal("instructor redirect carries no credential")
	}
}

func TestLaunchHandlerMissingShareToken(t *testing.T) {
	lf := newLaunchFixture(t)
	ctx := context.Background()

	state, nonce, _ := lf.deps.States.New(ctx, lf.fake.platform.Issuer, "")
	claims := learnerClaims(nonce)
	delete(claims, claimCustom)
	rr := lf.post(t, state, lf.fake.sign(t, claims))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rr.Code)
	}
}

func TestLaunchHandlerUnknownExam(t *testing.T) {
	lf := newLaunchFixture(t)
	ctx := context.Background()

	state, nonce, _ := lf.deps.States.New(ctx, lf.fake.platform.Issuer, "")
	claims := learnerClaims(nonce)
	claims[claimCustom] = map[string]string{"exam_share_token": "0000000000000000"}
	rr := lf.post(t, state, lf.fake.sign(t, claims))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rr.Code)
	}
}

func TestLaunchHandlerBadState(t *testing.T) {
	lf := newLaunchFixture(t)
	rr := lf.post(t, "never-issued", lf.fake.sign(t, learnerClaims("n")))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rr.Code)
	}
}
