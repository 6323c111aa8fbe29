package lti

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IMS claim URIs used in launch id_tokens.
const (
	claimRoles      = "https://purl.imsglobal.org/spec/lti/claim/roles"
	claimDeployment = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	claimCustom     = "https://purl.imsglobal.org/spec/lti/claim/custom"
	claimEndpoint   = "https://purl.imsglobal.org/spec/lti-ags/claim/endpoint"

	roleInstructorSuffix = "#Instructor"

	// custom parameter carrying the exam share token on learner launches
	customShareToken = "exam_share_token"
)

// LaunchClaims is the normalized view of a verified launch.
type LaunchClaims struct {
	Subject      string
	Email        string
	Name         string
	Roles        []string
	Issuer       string
	DeploymentID string
	LineItemURL  string
	Custom       map[string]string
}

func (c LaunchClaims) IsInstructor() bool {
	for _, r := range c.Roles {
		if strings.HasSuffix(r, roleInstructorSuffix) {
			return true
		}
	}
	return false
}

// ShareToken returns the exam share token passed as a custom parameter.
func (c LaunchClaims) ShareToken() string { return c.Custom[customShareToken] }

type idTokenClaims struct {
	Email        string            `json:"email"`
	Name         string            `json:"name"`
	Nonce        string            `json:"nonce"`
	Roles        []string          `json:"https://purl.imsglobal.org/spec/lti/claim/roles"`
	DeploymentID string            `json:"https://purl.imsglobal.org/spec/lti/claim/deployment_id"`
	Custom       map[string]string `json:"https://purl.imsglobal.org/spec/lti/claim/custom"`
	Endpoint     struct {
		LineItem string   `json:"lineitem"`
		Scope    []string `json:"scope"`
	} `json:"https://purl.imsglobal.org/spec/lti-ags/claim/endpoint"`
	jwt.RegisteredClaims
}

// Verifier validates platform-signed launch id_tokens. Platform JWKS responses
// are cached per issuer and refreshed when an unknown kid shows up, which is
// how platforms roll keys.
type Verifier struct {
	Registry *Registry
	HTTP     *http.Client
	CacheTTL time.Duration

	mu    sync.Mutex
	cache map[string]jwksEntry
}

type jwksEntry struct {
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

func NewVerifier(reg *Registry) *Verifier {
	return &Verifier{
		Registry: reg,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		CacheTTL: time.Hour,
		cache:    make(map[string]jwksEntry),
	}
}

// Verify checks signature, issuer registration, audience, expiry, nonce and
// deployment of a raw id_token and returns the normalized claims.
func (v *Verifier) Verify(ctx context.Context, rawToken, expectedNonce string) (LaunchClaims, error) {
	peek := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, peek); err != nil {
		return LaunchClaims{}, fmt.Errorf("malformed id_token: %w", err)
	}
	platform, ok := v.Registry.Lookup(peek.Issuer)
	if !ok {
		return LaunchClaims{}, fmt.Errorf("unregistered issuer %q", peek.Issuer)
	}

	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, v.keyfunc(ctx, platform),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(platform.Issuer),
		jwt.WithAudience(platform.ClientID),
		jwt.WithExpirationRequired())
	if err != nil {
		return LaunchClaims{}, err
	}

	if expectedNonce == "" || claims.Nonce != expectedNonce {
		return LaunchClaims{}, errors.New("nonce mismatch")
	}
	if claims.DeploymentID == "" || !platform.deploymentAllowed(claims.DeploymentID) {
		return LaunchClaims{}, fmt.Errorf("deployment %q not registered", claims.DeploymentID)
	}
	if claims.Subject == "" {
		return LaunchClaims{}, errors.New("id_token missing sub")
	}

	out := LaunchClaims{
		Subject:      claims.Subject,
		Email:        claims.Email,
		Name:         claims.Name,
		Roles:        claims.Roles,
		Issuer:       platform.Issuer,
		DeploymentID: claims.DeploymentID,
		LineItemURL:  claims.Endpoint.LineItem,
		Custom:       claims.Custom,
	}
	if out.Email == "" {
		out.Email = out.Subject + "@lti.local"
	}
	if out.Custom == nil {
		out.Custom = map[string]string{}
	}
	return out, nil
}

func (v *Verifier) keyfunc(ctx context.Context, p Platform) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		keys, err := v.platformKeys(ctx, p, false)
		if err != nil {
			return nil, err
		}
		if k, ok := keys[kid]; ok {
			return k, nil
		}
		// unknown kid: force a refetch once before giving up
		keys, err = v.platformKeys(ctx, p, true)
		if err != nil {
			return nil, err
		}
		if k, ok := keys[kid]; ok {
			return k, nil
		}
		return nil, fmt.Errorf("no platform key with kid %q", kid)
	}
}

func (v *Verifier) platformKeys(ctx context.Context, p Platform, force bool) (map[string]*rsa.PublicKey, error) {
	v.mu.Lock()
	entry, ok := v.cache[p.Issuer]
	v.mu.Unlock()
	if ok && !force && time.Since(entry.fetched) < v.CacheTTL {
		return entry.keys, nil
	}

	keys, err := v.fetchJWKS(ctx, p.KeySetURL)
	if err != nil {
		if ok {
			return entry.keys, nil
		}
		return nil, err
	}
	v.mu.Lock()
	v.cache[p.Issuer] = jwksEntry{keys: keys, fetched: time.Now()}
	v.mu.Unlock()
	return keys, nil
}

func (v *Verifier) fetchJWKS(ctx context.Context, keySetURL string) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keySetURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetch jwks: platform returned %s", resp.Status)
	}

	var set struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, err
	}

	out := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.N == "" || k.E == "" {
			continue
		}
		nb, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		eb, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		e := 0
		for _, b := range eb {
			e = (e << 8) | int(b)
		}
		if e == 0 {
			continue
		}
		out[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}
	}
	if len(out) == 0 {
		return nil, errors.New("no RSA keys in platform JWKS")
	}
	return out, nil
}
