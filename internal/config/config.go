package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string
	PublicURL   string // external base URL of this backend (no trailing slash)
	FrontendURL string // SPA base URL used for post-launch redirects

	DBDriver string
	DBDSN    string

	JWTSecret string
	TokenTTL  time.Duration

	CORSOrigins []string

	// LTI 1.3 (tool side). A single registered platform from env; the registry
	// accepts more when wired in code.
	EnableLTI         bool
	LTIIssuer         string
	LTIClientID       string
	LTIDeploymentIDs  []string
	LTIAuthLoginURL   string
	LTIAuthTokenURL   string
	LTIKeySetURL      string
	LTIPrivateKeyFile string
	LTIStateTTL       time.Duration
}

func FromEnv() Config {
	pub := strings.TrimSuffix(os.Getenv("PUBLIC_URL"), "/")
	fe := strings.TrimSuffix(envOr("FRONTEND_URL", pub), "/")

	return Config{
		HTTPAddr:    envOr("HTTP_ADDR", ":8080"),
		PublicURL:   pub,
		FrontendURL: fe,

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		JWTSecret: envOr("JWT_SECRET_KEY", "dev-only-secret"),
		TokenTTL:  envDur("JWT_EXPIRE", 12*time.Hour),

		CORSOrigins: csvOr("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"),

		EnableLTI:         envBool("ENABLE_LTI", false),
		LTIIssuer:         os.Getenv("LTI_ISSUER"),
		LTIClientID:       os.Getenv("LTI_CLIENT_ID"),
		LTIDeploymentIDs:  csvOr("LTI_DEPLOYMENT_IDS", ""),
		LTIAuthLoginURL:   os.Getenv("LTI_AUTH_LOGIN_URL"),
		LTIAuthTokenURL:   os.Getenv("LTI_AUTH_TOKEN_URL"),
		LTIKeySetURL:      os.Getenv("LTI_KEY_SET_URL"),
		LTIPrivateKeyFile: os.Getenv("LTI_PRIVATE_KEY_FILE"),
		LTIStateTTL:       envDur("LTI_STATE_TTL", 10*time.Minute),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envDur(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(k))
	if err != nil {
		return def
	}
	return d
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
