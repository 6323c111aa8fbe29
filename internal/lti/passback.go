package lti

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mcqlabs/examhub/internal/exam"
)

const (
	scopeScore             = "https://purl.imsglobal.org/spec/lti-ags/scope/score"
	assertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

// Score is the AGS score payload (IMS AGS 2.0, trimmed to what we send).
type Score struct {
	UserID           string  `json:"userId"`
	ScoreGiven       float64 `json:"scoreGiven"`
	ScoreMaximum     float64 `json:"scoreMaximum"`
	ActivityProgress string  `json:"activityProgress"`
	GradingProgress  string  `json:"gradingProgress"`
	Timestamp        string  `json:"timestamp"`
}

// Grader pushes submitted scores back to the launching platform over AGS.
// Access tokens are obtained with client_credentials plus a private_key_jwt
// client assertion signed by the tool key.
type Grader struct {
	Registry *Registry
	Key      *ToolKey
	Timeout  time.Duration
}

func NewGrader(reg *Registry, key *ToolKey) *Grader {
	return &Grader{Registry: reg, Key: key, Timeout: 15 * time.Second}
}

// SubmitGrade sends the session's score as a fraction of the question count.
// Sessions without a lineitem URL were not launched from an LMS; nothing to do.
func (g *Grader) SubmitGrade(ctx context.Context, sess exam.Session, score, total int) error {
	if sess.LineItemURL == "" {
		return nil
	}
	platform, ok := g.Registry.Lookup(sess.LTIIssuer)
	if !ok {
		return fmt.Errorf("unregistered issuer %q", sess.LTIIssuer)
	}
	if sess.LTIUserSub == "" {
		return errors.New("session has no platform user id")
	}

	assertion, err := g.signAssertion(platform)
	if err != nil {
		return fmt.Errorf("sign client assertion: %w", err)
	}
	cc := clientcredentials.Config{
		ClientID: platform.ClientID,
		TokenURL: platform.AuthTokenURL,
		Scopes:   []string{scopeScore},
		EndpointParams: url.Values{
			"client_assertion_type": {assertionTypeJWTBearer},
			"client_assertion":      {assertion},
		},
		AuthStyle: oauth2.AuthStyleInParams,
	}
	client := cc.Client(ctx)

	given := 0.0
	if total > 0 {
		given = float64(score) / float64(total)
	}
	payload := Score{
		UserID:           sess.LTIUserSub,
		ScoreGiven:       given,
		ScoreMaximum:     1.0,
		ActivityProgress: "Completed",
		GradingProgress:  "FullyGraded",
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)

	scoresURL := strings.TrimRight(sess.LineItemURL, "/") + "/scores"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, scoresURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/vnd.ims.lis.v1.score+json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("post score: platform returned %s", resp.Status)
	}
	return nil
}

// SubmitGradeAsync runs the passback after the submit transaction has
// committed. Failures are logged and never surfaced to the taker.
func (g *Grader) SubmitGradeAsync(sess exam.Session, score, total int) {
	if sess.LineItemURL == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout())
		defer cancel()
		if err := g.SubmitGrade(ctx, sess, score, total); err != nil {
			log.Printf("lti: grade passback for session %s: %v", sess.ID, err)
		}
	}()
}

func (g *Grader) timeout() time.Duration {
	if g.Timeout > 0 {
		return g.Timeout
	}
	return 15 * time.Second
}

func (g *Grader) signAssertion(p Platform) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    p.ClientID,
		Subject:   p.ClientID,
		Audience:  jwt.ClaimStrings{p.AuthTokenURL},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		ID:        randHex(16),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = g.Key.KID
	return t.SignedString(g.Key.Private)
}
