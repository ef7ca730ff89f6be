package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/panotour/internal/api"
	"github.com/onnwee/panotour/internal/audit"
	"github.com/onnwee/panotour/internal/auth"
	"github.com/onnwee/panotour/internal/config"
	"github.com/onnwee/panotour/internal/editor"
	"github.com/onnwee/panotour/internal/health"
	"github.com/onnwee/panotour/internal/idempotency"
	"github.com/onnwee/panotour/internal/jobs"
	"github.com/onnwee/panotour/internal/media"
	"github.com/onnwee/panotour/internal/middleware"
	"github.com/onnwee/panotour/internal/scene"
	"github.com/onnwee/panotour/internal/tour"
	"github.com/onnwee/panotour/internal/tracing"
)

const (
	serviceName    = "panotour"
	adminAccountID = "admin"
	mediaCheckTTL  = 5 * time.Minute

	idempotencyCleanupInterval = time.Hour
	graphAuditInterval         = 10 * time.Minute
)

// sceneStore is what the server needs from scene persistence.
type sceneStore interface {
	editor.Store
	tour.SceneSource
}

// panoramaStore holds uploaded panoramas and answers existence checks.
type panoramaStore interface {
	editor.MediaStore
	media.Checker
}

// server is the assembled HTTP stack plus the resources it owns.
type server struct {
	handler http.Handler
	sockets *api.TourSocketHandlers
	logger  *slog.Logger
	closers []func(context.Context) error
}

// newServer wires storage, auth, metrics and routes from cfg. Optional
// backends fall back to in-memory implementations when unconfigured.
func newServer(cfg *config.Config, logger *slog.Logger) (*server, error) {
	s := &server{logger: logger}
	checkers := map[string]health.Checker{}
	var background []jobs.Job

	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
		InsecureMode:   cfg.TracingInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.closers = append(s.closers, tp.Shutdown)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register http metrics: %w", err)
	}
	tourMetrics := tour.NewMetrics()
	if err := tourMetrics.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register tour metrics: %w", err)
	}
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register job metrics: %w", err)
	}

	// Scene storage
	var store sceneStore
	var trail audit.Repository
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
		s.closers = append(s.closers, func(context.Context) error { return db.Close() })
		store = scene.NewPostgresRepository(db, logger)
		trail = audit.NewPostgresRepository(db)
		checkers["database"] = health.NewDBChecker(db)
	} else {
		logger.Warn("DATABASE_URL not set, scenes are kept in memory")
		store = scene.NewInMemoryRepository()
		trail = audit.NewInMemoryRepository()
	}

	// Redis backs rate limits and token revocation when configured.
	rateStore := middleware.RateLimitStore(middleware.NewInMemoryRateLimitStore())
	revocations := auth.RevocationStore(auth.NewInMemoryRevocationStore())
	var idempotencyRepo idempotency.Repository
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })
		rateStore = middleware.NewRedisRateLimitStore(client).WithMetrics(httpMetrics)
		revocations = auth.NewRedisRevocationStore(client)
		idempotencyRepo = idempotency.NewRedisRepository(client, idempotency.DefaultExpiry)
		checkers["redis"] = health.NewRedisChecker(client)
	} else {
		memRepo := idempotency.NewInMemoryRepository()
		background = append(background, jobs.Job{
			Type:     jobs.JobTypeIdempotencyCleanup,
			Interval: idempotencyCleanupInterval,
			Run: func(ctx context.Context) error {
				_, err := idempotency.CleanupOldKeys(ctx, memRepo, idempotency.DefaultExpiry)
				return err
			},
		})
		idempotencyRepo = memRepo
	}
	background = append(background, graphAuditJob(store, trail, logger))

	// Panorama storage
	var panoramas panoramaStore
	var signer api.UploadSigner
	var memoryMedia *media.MemoryStore
	if cfg.S3Enabled() {
		s3Store, err := media.NewS3Store(media.S3Config{
			BucketName:      cfg.S3BucketName,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			MaxSizeMB:       cfg.MediaMaxUploadMB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		panoramas, signer = s3Store, s3Store
		checkers["storage"] = health.NewStorageChecker(s3Store)
	} else {
		logger.Warn("S3 not configured, panoramas are kept in memory")
		memoryMedia = media.NewMemoryStore(cfg.MediaBaseURL)
		panoramas = memoryMedia
	}
	resolver := media.NewResolver(nil, mediaCheckTTL, panoramas)

	// Auth
	tokens := auth.NewJWTService(cfg.JWTSecret, auth.WithPreviousSecret(cfg.JWTPreviousSecret))
	var accounts []auth.Account
	if cfg.AdminEmail != "" {
		accounts = append(accounts, auth.Account{
			ID:           adminAccountID,
			Email:        cfg.AdminEmail,
			PasswordHash: cfg.AdminPasswordHash,
			Role:         auth.RoleAdmin,
		})
	} else {
		logger.Warn("ADMIN_EMAIL not set, admin login is disabled")
	}
	authenticator := auth.NewAuthenticator(accounts...)

	cors := middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins)
	s.sockets = api.NewTourSocketHandlers(store, api.TourSocketOptions{
		Media:       resolver,
		Metrics:     tourMetrics,
		Logger:      logger,
		CheckOrigin: cors.Allows,
	})

	ed := editor.New(store, panoramas, editor.Options{
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Audit:          trail,
	})

	mux := api.NewRouter(api.Routes{
		Tour:   api.NewTourHandlers(store, cfg.MapBounds, logger),
		Socket: s.sockets,
		Auth:   api.NewAuthHandlers(authenticator, tokens, revocations, logger),
		Admin: api.NewAdminHandlers(ed, api.AdminOptions{
			Signer:         signer,
			MaxUploadBytes: cfg.MaxUploadBytes(),
			Logger:         logger,
		}),
		Health:     api.NewHealthHandlers(checkers),
		Metrics:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		AuthLimit:  middleware.RateLimiter(rateStore, middleware.DefaultAuthLimit(), middleware.IPKeyFunc(), httpMetrics),
		AdminLimit: middleware.RateLimiter(rateStore, middleware.DefaultAdminLimit(), middleware.UserKeyFunc(), httpMetrics),
		Idempotent: middleware.Idempotency(idempotencyRepo, logger),
		Service:    serviceName,
		Version:    version,
	})
	if memoryMedia != nil {
		prefix := mediaPathPrefix(cfg.MediaBaseURL)
		mux.Handle("GET "+prefix+"/", http.StripPrefix(prefix, memoryMedia))
	}

	// Middleware, innermost first: Profiling -> Authenticate -> RateLimiter
	// -> CORS -> HTTPMetrics -> Logging -> Tracing -> RequestID.
	var handler http.Handler = mux
	handler = middleware.Profiling(middleware.ProfilingConfig{Enabled: cfg.ProfilingEnabled, Environment: cfg.Env})(handler)
	handler = middleware.Authenticate(tokens, middleware.AuthOptions{
		Revocations: revocations,
		Metrics:     httpMetrics,
		Logger:      logger,
	})(handler)
	handler = middleware.RateLimiter(rateStore, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc(), httpMetrics)(handler)
	handler = middleware.CORS(cors)(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing(serviceName)(handler)
	handler = middleware.RequestID(handler)
	s.handler = handler

	// Jobs stop before the stores they use are closed.
	jobsCtx, stopJobs := context.WithCancel(context.Background())
	for _, job := range background {
		go jobs.Every(jobsCtx, job, jobMetrics, logger)
	}
	s.closers = append(s.closers, func(context.Context) error { stopJobs(); return nil })

	return s, nil
}

// close waits for open tour sessions, bounded by ctx, then releases backends.
func (s *server) close(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.sockets.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("tour sessions still open at shutdown")
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Error("failed to release resource", "error", err)
		}
	}
}

// graphAuditJob rebuilds the full scene graph and logs integrity problems
// left behind by edits, such as links to deleted scenes. It also checks that
// the audit trail still forms an unbroken hash chain.
func graphAuditJob(store editor.Store, trail audit.Repository, logger *slog.Logger) jobs.Job {
	return jobs.Job{
		Type:     jobs.JobTypeGraphAudit,
		Interval: graphAuditInterval,
		Run: func(ctx context.Context) error {
			list, err := store.ListAll(ctx)
			if err != nil {
				return fmt.Errorf("failed to list scenes: %w", err)
			}
			_, warnings := scene.BuildGraph(list)
			for _, w := range warnings {
				logger.WarnContext(ctx, "tour graph warning",
					"kind", w.Kind, "scene_id", w.SceneID, "ref", w.Ref, "message", w.Message)
			}

			entries, err := trail.Query(ctx, audit.Query{})
			if err != nil {
				return fmt.Errorf("failed to read audit trail: %w", err)
			}
			slices.Reverse(entries) // Query is newest first
			if err := audit.Verify(entries); err != nil {
				logger.ErrorContext(ctx, "audit trail failed verification", "entries", len(entries), "error", err)
				return err
			}
			return nil
		},
	}
}

// mediaPathPrefix is the path component of the in-memory media base URL.
func mediaPathPrefix(base string) string {
	prefix := "/media"
	if u, err := url.Parse(base); err == nil && u.Path != "" && u.Path != "/" {
		prefix = u.Path
	}
	return "/" + strings.Trim(prefix, "/")
}
