package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/veriflow-io/identity"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("skipping .env: %v", err)
	}

	cfg := identity.ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func run(cfg identity.Config) error {
	ctx := context.Background()
	logger := identity.NewLogger()

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())
	defer db.Close()

	repos := identity.NewRepositoryManager(db)
	repos.MustValidate()

	if err := repos.Migrate(ctx); err != nil {
		return err
	}

	challenges := newChallengeStore(cfg)
	mailer := newMailer(cfg, logger)

	tokens := identity.NewTokenService(
		[]byte(cfg.SigningKey),
		[]byte(cfg.RefreshKey),
		cfg.Issuer,
		logger,
	).WithTTLs(cfg.AccessTTL, cfg.RefreshTTL, cfg.CapabilityTTL)

	users := repos.Users()

	register := identity.NewRegistrationFlow(users, challenges, mailer, tokens).
		WithLogger(logger).
		WithCodeWindow(cfg.CodeTTL).
		WithCodeLength(cfg.CodeLength).
		WithPhoneRegion(cfg.PhoneRegion)

	reset := identity.NewPasswordResetFlow(users, challenges, mailer, tokens).
		WithLogger(logger).
		WithCodeWindow(cfg.CodeTTL).
		WithCodeLength(cfg.CodeLength)

	pwChange := identity.NewPasswordChangeFlow(users, challenges, mailer, tokens).
		WithLogger(logger).
		WithCodeWindow(cfg.CodeTTL).
		WithCodeLength(cfg.CodeLength)

	emailChange := identity.NewEmailChangeFlow(users, challenges, mailer, tokens).
		WithLogger(logger).
		WithCodeWindow(cfg.CodeTTL).
		WithCodeLength(cfg.CodeLength)

	sessions := identity.NewSessionEngine(users, tokens).WithLogger(logger)

	app := fiber.New(fiber.Config{
		AppName:      "identityd",
		ErrorHandler: identity.NewErrorHandler(logger),
	})

	identity.NewAuthController(register, reset, sessions).
		WithLogger(logger).
		RegisterRoutes(app)

	identity.NewProfileController(users, tokens, sessions, pwChange, emailChange).
		WithLogger(logger).
		WithPhoneRegion(cfg.PhoneRegion).
		RegisterRoutes(app)

	identity.NewAdminController(users, tokens).
		WithLogger(logger).
		WithPhoneRegion(cfg.PhoneRegion).
		RegisterRoutes(app)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(cfg.HTTPAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down on %s", sig)
		return app.ShutdownWithTimeout(10 * time.Second)
	}
}

func newChallengeStore(cfg identity.Config) identity.ChallengeStore {
	if cfg.RedisAddr == "" {
		return identity.NewMemoryChallengeStore()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return identity.NewRedisChallengeStore(client)
}

func newMailer(cfg identity.Config, logger identity.Logger) identity.Mailer {
	if cfg.SMTPHost == "" {
		return identity.NewLogMailer(logger)
	}
	return identity.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
}
