package lti

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// Platform is one registered LMS issuer the tool accepts launches from.
type Platform struct {
	Issuer        string
	ClientID      string
	AuthLoginURL  string // OIDC authorization endpoint
	AuthTokenURL  string // OAuth token endpoint (AGS access tokens)
	KeySetURL     string // platform JWKS
	DeploymentIDs []string
}

func (p Platform) deploymentAllowed(id string) bool {
	if len(p.DeploymentIDs) == 0 {
		return true
	}
	for _, d := range p.DeploymentIDs {
		if d == id {
			return true
		}
	}
	return false
}

// Registry maps issuer URLs to their platform registrations.
type Registry struct {
	platforms map[string]Platform
}

func NewRegistry(platforms ...Platform) *Registry {
	r := &Registry{platforms: make(map[string]Platform, len(platforms))}
	for _, p := range platforms {
		r.Add(p)
	}
	return r
}

func (r *Registry) Add(p Platform) { r.platforms[p.Issuer] = p }

func (r *Registry) Lookup(issuer string) (Platform, bool) {
	p, ok := r.platforms[issuer]
	return p, ok
}

// ToolKey is the tool's RSA signing key: it signs client assertions for grade
// passback and is published through the tool JWKS endpoint. The kid is derived
// from the public material so platforms see a stable value across restarts.
type ToolKey struct {
	Private *rsa.PrivateKey
	KID     string
}

func NewToolKey(priv *rsa.PrivateKey) *ToolKey {
	return &ToolKey{Private: priv, KID: keyID(&priv.PublicKey)}
}

func keyID(pub *rsa.PublicKey) string {
	h := sha256.New()
	h.Write(pub.N.Bytes())
	h.Write([]byte{byte(pub.E >> 24), byte(pub.E >> 16), byte(pub.E >> 8), byte(pub.E)})
	return "tool-" + hex.EncodeToString(h.Sum(nil)[:8])
}

// LoadToolKey reads an RSA private key from a PEM file (PKCS#1 or PKCS#8).
func LoadToolKey(path string) (*ToolKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return NewToolKey(k), nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", path, err)
	}
	rk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("tool key must be RSA")
	}
	return NewToolKey(rk), nil
}

// PublicJWK returns the tool key as an RFC 7517 JWK map.
func (k *ToolKey) PublicJWK() map[string]any {
	pub := &k.Private.PublicKey
	return map[string]any{
		"kty":     "RSA",
		"kid":     k.KID,
		"alg":     "RS256",
		"use":     "sig",
		"key_ops": []string{"verify"},
		"n":       bigIntToB64(pub.N),
		"e":       intToB64(pub.E),
	}
}
