package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-speaking-lab/internal/assessment"
	"github.com/noah-isme/gema-speaking-lab/internal/capture"
	"github.com/noah-isme/gema-speaking-lab/internal/config"
	"github.com/noah-isme/gema-speaking-lab/internal/database"
	"github.com/noah-isme/gema-speaking-lab/internal/handler"
	"github.com/noah-isme/gema-speaking-lab/internal/middleware"
	"github.com/noah-isme/gema-speaking-lab/internal/repository"
	"github.com/noah-isme/gema-speaking-lab/internal/retry"
	"github.com/noah-isme/gema-speaking-lab/internal/router"
	"github.com/noah-isme/gema-speaking-lab/internal/service"
	"github.com/noah-isme/gema-speaking-lab/internal/submission"
	"github.com/noah-isme/gema-speaking-lab/internal/telemetry"
	"github.com/noah-isme/gema-speaking-lab/internal/upload"
	cloud "github.com/noah-isme/gema-speaking-lab/pkg/cloudinary"
	"github.com/noah-isme/gema-speaking-lab/pkg/scoring"
	"github.com/noah-isme/gema-speaking-lab/pkg/storage"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "gema-speaking-lab").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.AppEnv == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	checks := map[string]handler.HealthCheckFunc{"database": pingDatabase(db)}
	sinks := telemetry.Multi{telemetry.NewLogSink(logger), telemetry.MetricsSink{}}

	if cfg.RedisURL != "" {
		redisClient, err := database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		sinks = append(sinks, telemetry.NewRedisSink(redisClient, cfg.TelemetryChannel, cfg.TelemetryRetention, logger))
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	if cfg.NATSURL != "" {
		natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Drain()
		sinks = append(sinks, telemetry.NewNATSSink(natsConn, cfg.TelemetryChannel, logger))
	}

	recordingStorage, err := newStorage(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("failed to configure recording storage")
	}
	var scorer assessment.Scorer = scoring.NewClient(scoring.Config{
		BaseURL: cfg.ScoringURL,
		Token:   cfg.ScoringToken,
		Timeout: cfg.ScoringTimeout,
	})

	validate := validator.New(validator.WithRequiredStructEnabled())

	assignmentRepo := repository.NewAssignmentRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	uploadRepo := repository.NewUploadRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)

	practiceService := service.NewPracticeService(service.Dependencies{
		Assignments: assignmentRepo,
		Progress:    progressRepo,
		Uploads:     uploadRepo,
		Submitter:   submission.NewSubmitter(submissionRepo, logger),
		Storage:     recordingStorage,
		Scorer:      scorer,
		Sink:        sinks,
	}, service.Settings{
		Rules: profileRules(cfg.Capture),
		Validator: capture.ValidatorConfig{
			MinSeconds: cfg.Capture.MinSeconds,
			MaxSeconds: float64(cfg.Capture.MaxSeconds),
		},
		MaxSessionSeconds: cfg.Capture.MaxSeconds,
		RetryPolicy: retry.Policy{
			MaxAttempts: cfg.Upload.MaxAttempts,
			InitialWait: cfg.Upload.InitialBackoff,
			MaxWait:     cfg.Upload.MaxBackoff,
			Multiplier:  2,
		},
		FinalizeTimeout: cfg.Capture.FinalizeTimeout,
		MaxUploadBytes:  cfg.Capture.MaxUploadBytes,
	}, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    int(cfg.Capture.MaxUploadBytes) + 1<<20,
	})

	middleware.Register(app, middleware.Config{Logger: logger})
	router.Register(app, cfg, router.Dependencies{
		PracticeHandler: handler.NewPracticeHandler(practiceService, validate, logger),
		SocketHandler:   handler.NewRecordingSocketHandler(practiceService, logger),
		ReviewHandler:   handler.NewReviewHandler(submissionRepo, progressRepo, uploadRepo, validate, logger),
		JWTMiddleware:   middleware.JWTProtected(cfg.JWTSecret),
		UploadLimit:     middleware.RateLimit("recordings", 30, time.Minute),
		HealthChecks:    checks,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, practiceService, logger)
}

func newStorage(cfg config.Config, logger zerolog.Logger) (upload.Storage, error) {
	if cfg.StorageDriver == config.StorageDriverCloudinary {
		return cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
	}
	return storage.NewClient(storage.Config{
		BaseURL: cfg.StorageURL,
		Token:   cfg.StorageToken,
		Timeout: cfg.StorageTimeout,
	}), nil
}

// profileRules applies configured overrides to the built-in platform table.
func profileRules(cfg config.CaptureConfig) capture.ProfileRules {
	rules := capture.DefaultProfileRules()
	if len(cfg.Encodings) > 0 {
		rules.Encodings = cfg.Encodings
	}
	if len(cfg.DecodeProbePlatforms) > 0 {
		rules.DecodeProbePlatforms = cfg.DecodeProbePlatforms
	}
	if cfg.MinFileBytes > 0 {
		rules.MinFileSize = cfg.MinFileBytes
	}
	return rules
}

func pingDatabase(db *gorm.DB) handler.HealthCheckFunc {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

func waitForShutdown(app *fiber.App, practice service.PracticeService, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	practice.Shutdown()
	logger.Info().Msg("server stopped")
}
