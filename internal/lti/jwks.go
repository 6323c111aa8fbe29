package lti

import (
	"crypto/sha256"
	"encoding/json"
	"net/http"
)

// JWKS is a JSON Web Key Set, i.e. { "keys": [ JWK, ... ] }.
type JWKS struct {
	Keys []map[string]any `json:"keys"`
}

// JWKSHandler serves the tool's public key set so platforms can verify our
// client assertions. Unauthenticated, cacheable, with a conditional-GET ETag.
func JWKSHandler(key *ToolKey) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set := JWKS{Keys: []map[string]any{key.PublicJWK()}}
		payload, err := json.Marshal(set)
		if err != nil {
			http.Error(w, "jwks: marshal error", http.StatusInternalServerError)
			return
		}

		sum := sha256.Sum256(payload)
		etag := `W/"` + b64url(sum[:]) + `"`
		w.Header().Set("Content-Type", "application/jwk-set+json")
		w.Header().Set("Cache-Control", "public, max-age=600")
		w.Header().Set("ETag", etag)

		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write(payload)
	}
}
