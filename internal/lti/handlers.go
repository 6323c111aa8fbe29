package lti

import (
	"errors"
	"log"
	"net/http"
	"net/url"

	"github.com/mcqlabs/examhub/internal/auth/middleware"
	"github.com/mcqlabs/examhub/internal/exam"
	"github.com/mcqlabs/examhub/internal/user"
)

// LoginHandler implements the OIDC third-party login initiation. The platform
// calls it with iss/login_hint and we bounce the browser back to the
// platform's authorization endpoint with a fresh state and nonce.
// Both GET and POST are accepted, per the LTI 1.3 security profile.
func LoginHandler(reg *Registry, states *StateStore, launchURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		iss := r.FormValue("iss")
		loginHint := r.FormValue("login_hint")
		if iss == "" || loginHint == "" {
			http.Error(w, "iss and login_hint required", http.StatusBadRequest)
			return
		}
		platform, ok := reg.Lookup(iss)
		if !ok {
			http.Error(w, "unknown issuer", http.StatusBadRequest)
			return
		}
		targetLink := r.FormValue("target_link_uri")
		if targetLink == "" {
			targetLink = launchURL
		}

		state, nonce, err := states.New(r.Context(), iss, targetLink)
		if err != nil {
			log.Printf("lti: persist login state: %v", err)
			http.Error(w, "login state", http.StatusInternalServerError)
			return
		}

		q := url.Values{
			"response_type": {"id_token"},
			"response_mode": {"form_post"},
			"scope":         {"openid"},
			"prompt":        {"none"},
			"client_id":     {platform.ClientID},
			"redirect_uri":  {launchURL},
			"login_hint":    {loginHint},
			"state":         {state},
			"nonce":         {nonce},
		}
		if hint := r.FormValue("lti_message_hint"); hint != "" {
			q.Set("lti_message_hint", hint)
		}
		http.Redirect(w, r, platform.AuthLoginURL+"?"+q.Encode(), http.StatusFound)
	}
}

// LaunchDeps wires the launch endpoint to the rest of the system.
type LaunchDeps struct {
	States      *StateStore
	Verifier    *Verifier
	Users       *user.Store
	Exams       *exam.SQLStore
	Tokens      *middleware.AuthService
	FrontendURL string
}

// LaunchHandler verifies the platform's form_post callback, provisions the
// user, and redirects into the frontend: instructors to their dashboard,
// learners straight into a freshly started session for the linked exam.
func LaunchHandler(d LaunchDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		state := r.PostFormValue("state")
		idToken := r.PostFormValue("id_token")
		if state == "" || idToken == "" {
			http.Error(w, "state and id_token required", http.StatusBadRequest)
			return
		}

		nonce, _, err := d.States.Consume(r.Context(), state)
		if err != nil {
			http.Error(w, "invalid state", http.StatusUnauthorized)
			return
		}
		claims, err := d.Verifier.Verify(r.Context(), idToken, nonce)
		if err != nil {
			log.Printf("lti: launch rejected: %v", err)
			http.Error(w, "launch verification failed", http.StatusUnauthorized)
			return
		}

		u, err := d.Users.ResolveOrCreate(r.Context(), user.SSOClaims{
			Subject: claims.Subject,
			Email:   claims.Email,
			Name:    claims.Name,
		})
		if err != nil {
			log.Printf("lti: provision user: %v", err)
			http.Error(w, "user provisioning failed", http.StatusInternalServerError)
			return
		}
		token, err := d.Tokens.IssueToken(u)
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}

		if claims.IsInstructor() {
			http.Redirect(w, r, d.FrontendURL+"/dashboard/agent?token="+url.QueryEscape(token), http.StatusFound)
			return
		}

		shareToken := claims.ShareToken()
		if shareToken == "" {
			http.Error(w, "launch is missing the exam share token", http.StatusBadRequest)
			return
		}
		e, err := d.Exams.GetExamByToken(r.Context(), shareToken)
		if errors.Is(err, exam.ErrNotFound) {
			http.Error(w, "exam not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "exam lookup failed", http.StatusInternalServerError)
			return
		}

		sess, err := d.Exams.StartSession(r.Context(), e.ID, exam.Taker{UserID: u.ID}, exam.LTIRef{
			LineItemURL: claims.LineItemURL,
			UserSub:     claims.Subject,
			Issuer:      claims.Issuer,
		})
		if err != nil {
			log.Printf("lti: start session: %v", err)
			http.Error(w, "could not start session", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, d.FrontendURL+"/session/"+sess.ID+"?token="+url.QueryEscape(token), http.StatusFound)
	}
}
