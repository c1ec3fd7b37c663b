package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mind-engage/lti-hubsync/internal/auth"
	"github.com/mind-engage/lti-hubsync/internal/config"
	"github.com/mind-engage/lti-hubsync/internal/db"
	"github.com/mind-engage/lti-hubsync/internal/gradebook"
	"github.com/mind-engage/lti-hubsync/internal/grades"
	"github.com/mind-engage/lti-hubsync/internal/logger"
	"github.com/mind-engage/lti-hubsync/internal/lti"
	"github.com/mind-engage/lti-hubsync/internal/lti11"
	"github.com/mind-engage/lti-hubsync/internal/metrics"
	"github.com/mind-engage/lti-hubsync/internal/rbac"
	"github.com/mind-engage/lti-hubsync/internal/replay"
)

const (
	gradebookPoolSize = 64
	gradebookIdle     = 30 * time.Minute
	jwksMaxAge        = 10 * time.Minute
)

// buildServer wires every hub route. cleanup releases the stores it opened.
func buildServer(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (http.Handler, func(), error) {
	log := logger.Named("ltihub")
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (http.Handler, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	m := metrics.New(reg)
	hc := &http.Client{Timeout: cfg.HTTPTimeout}

	var rs replay.Store
	if cfg.ReplayRedisURL != "" {
		r, client, err := replay.OpenRedis(ctx, cfg.ReplayRedisURL)
		if err != nil {
			return fail(fmt.Errorf("replay store: %w", err))
		}
		closers = append(closers, func() { _ = client.Close() })
		rs = r
		log.Info().Msg("replay store: redis")
	} else {
		rs = replay.NewMemory(256)
	}

	sessions := auth.NewSessionService(cfg.SessionSecret, cfg.SessionTTL)
	launch := &lti.Handlers{
		AuthorizeURL: cfg.LTI13.AuthorizeURL,
		CallbackURL:  cfg.LTI13.CallbackURL,
		States:       lti.NewStateCodec([]byte(cfg.LTI13.StateSecret), 0),
		Auth: &lti.Authenticator{
			Validator:    lti.NewValidator(lti.NewJWKSFetcher(hc, cfg.LTI13.JWKSCacheTTL, m)),
			JWKSEndpoint: cfg.LTI13.JWKSEndpoint,
			Audience:     cfg.LTI13.Audience,
			Verify:       cfg.LTI13.VerifySignature,
		},
		Sessions: sessions,
		Replay:   rs,
		Metrics:  m,
	}
	if !cfg.LTI13.VerifySignature {
		log.Warn().Msg("id_token signature verification disabled")
	}

	key, err := lti.LoadPrivateKey(cfg.LTI13.PrivateKey)
	if err != nil {
		return fail(fmt.Errorf("tool key: %w", err))
	}
	pool := gradebook.NewPool(cfg.HomeRoot, gradebookPoolSize, gradebookIdle)
	closers = append(closers, pool.Close)
	sender := grades.NewSender(cfg.LTI13.ClientID, cfg.LTI13.TokenURL, key, grades.PoolOpener(pool), hc)
	sender.Metrics = m

	var verifier auth.TokenVerifier
	if cfg.SyncDBDSN != "" {
		driver, err := db.ParseDriver(cfg.SyncDBDriver)
		if err != nil {
			return fail(err)
		}
		ledger, err := db.OpenLedger(ctx, driver, cfg.SyncDBDSN)
		if err != nil {
			return fail(fmt.Errorf("sync ledger: %w", err))
		}
		closers = append(closers, func() { _ = ledger.Close() })
		verifier = ledger
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logger.AccessLog(2*time.Second), middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", metrics.Handler())

	r.Route("/hub", func(hr chi.Router) {
		launch.Mount(hr)
		hr.Method(http.MethodGet, "/lti13/jwks", &lti.ToolJWKSHandler{KeyPath: cfg.LTI13.PrivateKey, CacheMaxAge: jwksMaxAge})
		hr.Method(http.MethodGet, "/lti13/config", &lti.ToolConfigHandler{Title: cfg.LTI13.ToolTitle})

		if len(cfg.LTI11Consumers) > 0 {
			hr.Method(http.MethodPost, "/lti/launch", &lti11.LaunchHandler{
				Validator: lti11.NewValidator(cfg.LTI11Consumers, rs),
				Sessions:  sessions,
				Metrics:   m,
			})
		}

		hr.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(sessions))
			pr.With(rbac.Require(rbac.PermFilesSelect)).Handle("/file_select", &lti.FileSelectHandler{
				ClientID:   cfg.LTI13.ClientID,
				KeyPath:    cfg.LTI13.PrivateKey,
				SharedRoot: cfg.SharedRoot,
				Identity:   auth.IdentityFromRequest,
			})
		})

		hr.With(
			auth.ServiceOrSession(sessions, verifier, courseParam),
			rbac.RequireScoped(rbac.PermGradesSend, sameCourse),
		).Method(http.MethodPost, grades.Route, &grades.Handler{Sender: sender})
	})

	return r, cleanup, nil
}

func courseParam(r *http.Request) string { return chi.URLParam(r, "course_id") }

// sameCourse limits instructors to grades of the course they launched from.
func sameCourse(r *http.Request) bool {
	id, ok := auth.IdentityFromRequest(r)
	return ok && id.CourseID != "" && id.CourseID == courseParam(r)
}
