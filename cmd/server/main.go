package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/mcqlabs/examhub/internal/api/http"
	"github.com/mcqlabs/examhub/internal/auth/middleware"
	"github.com/mcqlabs/examhub/internal/config"
	"github.com/mcqlabs/examhub/internal/db"
	"github.com/mcqlabs/examhub/internal/exam"
	"github.com/mcqlabs/examhub/internal/lti"
	"github.com/mcqlabs/examhub/internal/user"
)

func main() {
	cfg := config.FromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer dbh.Close()

	users := user.NewStore(dbh)
	exams := exam.NewSQLStore(dbh)
	tokens := middleware.NewAuthService(cfg.JWTSecret, cfg.TokenTTL)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/auth/register", api.RegisterHandler(users))
	r.Post("/auth/login", api.LoginHandler(users, tokens))

	// public share-link lookup
	r.Get("/exams/token/{share_token}", api.GetExamByTokenHandler(exams))

	var grader *lti.Grader
	if cfg.EnableLTI {
		grader = mountLTI(r, cfg, dbh, users, exams, tokens)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(tokens, users))

		r.Get("/users/me", api.MeHandler())
		r.Get("/users/{id}", api.GetUserHandler(users))
		r.Put("/users/{id}", api.UpdateUserHandler(users))
		r.Put("/users/{id}/activate", api.ActivateUserHandler(users))
		r.Put("/users/{id}/deactivate", api.DeactivateUserHandler(users))

		r.Post("/questions", api.CreateQuestionHandler(exams))
		r.Get("/questions", api.ListQuestionsHandler(exams))
		r.Get("/questions/{id}", api.GetQuestionHandler(exams))
		r.Put("/questions/{id}", api.UpdateQuestionHandler(exams))
		r.Delete("/questions/{id}", api.DeleteQuestionHandler(exams))
		r.Post("/questions/{id}/evaluations", api.EvaluateQuestionHandler(exams))

		r.Post("/exams", api.CreateExamHandler(exams))
		r.Get("/exams", api.ListExamsHandler(exams))
		r.Get("/exams/{id}", api.GetExamHandler(exams))
		r.Delete("/exams/{id}", api.DeleteExamHandler(exams))
		r.Get("/exams/{id}/results", api.ExamResultsHandler(exams))

		r.Post("/export/pdf", api.ExportPDFHandler())
	})

	// guest-takable: credential optional
	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuth(tokens, users))

		r.Post("/sessions", api.StartSessionHandler(exams))
		r.Put("/sessions/{id}/answers", api.SaveAnswersHandler(exams))
		r.Post("/sessions/{id}/submit", api.SubmitSessionHandler(exams, grader))
		r.Get("/sessions/{id}/results", api.SessionResultsHandler(exams))
		r.Get("/sessions/{id}/questions", api.SessionQuestionsHandler(exams))
	})

	log.Printf("examhub listening on %s (driver=%s, lti=%v)", cfg.HTTPAddr, cfg.DBDriver, cfg.EnableLTI)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}

// mountLTI wires the tool-side LTI 1.3 endpoints and returns the grade
// passback client used after session submits.
func mountLTI(r chi.Router, cfg config.Config, dbh *sql.DB, users *user.Store, exams *exam.SQLStore, tokens *middleware.AuthService) *lti.Grader {
	if cfg.LTIIssuer == "" || cfg.LTIClientID == "" {
		log.Fatal("ENABLE_LTI is set but LTI_ISSUER/LTI_CLIENT_ID are not")
	}

	var key *lti.ToolKey
	if cfg.LTIPrivateKeyFile != "" {
		k, err := lti.LoadToolKey(cfg.LTIPrivateKeyFile)
		if err != nil {
			log.Fatalf("load LTI key: %v", err)
		}
		key = k
	} else {
		// ephemeral key: fine for dev, breaks platform JWKS caching across restarts
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			log.Fatalf("generate LTI key: %v", err)
		}
		key = lti.NewToolKey(priv)
		log.Printf("lti: no LTI_PRIVATE_KEY_FILE set, using an ephemeral key (kid=%s)", key.KID)
	}

	registry := lti.NewRegistry(lti.Platform{
		Issuer:        cfg.LTIIssuer,
		ClientID:      cfg.LTIClientID,
		AuthLoginURL:  cfg.LTIAuthLoginURL,
		AuthTokenURL:  cfg.LTIAuthTokenURL,
		KeySetURL:     cfg.LTIKeySetURL,
		DeploymentIDs: cfg.LTIDeploymentIDs,
	})
	states := lti.NewStateStore(dbh, cfg.LTIStateTTL)
	launchURL := cfg.PublicURL + "/lti/launch"

	r.Get("/lti/login", lti.LoginHandler(registry, states, launchURL))
	r.Post("/lti/login", lti.LoginHandler(registry, states, launchURL))
	r.Post("/lti/launch", lti.LaunchHandler(lti.LaunchDeps{
		States:      states,
		Verifier:    lti.NewVerifier(registry),
		Users:       users,
		Exams:       exams,
		Tokens:      tokens,
		FrontendURL: cfg.FrontendURL,
	}))
	r.Get("/lti/jwks", lti.JWKSHandler(key))

	return lti.NewGrader(registry, key)
}
