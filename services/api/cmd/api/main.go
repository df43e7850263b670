package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"hustl/internal/ratelimit"
	"hustl/internal/util"
	"hustl/pkg/events"
	"hustl/pkg/realtime"
	"hustl/pkg/storage"
	"hustl/pkg/store"
	"hustl/services/api/internal/app"
	"hustl/services/api/internal/config"
	"hustl/services/api/internal/security"
	"hustl/services/api/internal/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "hustl-api",
	Short:         "Hustl campus errand marketplace API",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(config.ResolvePath(configPath))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		util.InitLogger("hustl-api", cfg.LogLevel)
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and seed categories",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(config.ResolvePath(configPath))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger := util.InitLogger("hustl-api", cfg.LogLevel)
		db, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
		return db.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default $"+config.ConfigPathEnv+" or "+config.ConfigPath+")")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg config.FileConfig) error {
	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		return err
	}
	leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		return err
	}
	verifyKeys, err := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)
	if err != nil {
		return err
	}
	shutdownTimeout, err := config.ParseShutdownTimeout(cfg.ShutdownTimeout)
	if err != nil {
		return err
	}

	var (
		revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
		broker  realtime.Broker
		limits  limiters
		alerter *security.AuditAlerter
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		revoker = store.NewRedisTokenRevoker(client)
		rb, err := realtime.NewRedisBroker(client, "hustl:realtime:")
		if err != nil {
			return err
		}
		broker = rb
		alerter = security.NewAuditAlerter(client, "hustl:security:alerts")
		if limits, err = redisLimiters(client, cfg); err != nil {
			return err
		}
	} else {
		slog.Warn("redis not configured; sessions, rate limits and realtime are per-process")
		broker = realtime.NewMemoryBroker()
		if limits, err = memoryLimiters(cfg); err != nil {
			return err
		}
	}
	defer broker.Close()

	sessions, err := store.NewJWTSessionStoreFromPEM(store.JWTConfig{
		PrivateKeyPath: cfg.JWTPrivateKeyPath,
		PublicKeyPath:  cfg.JWTPublicKeyPath,
		KeyID:          cfg.JWTKeyID,
		VerifyKeyFiles: verifyKeys,
		TTL:            sessionTTL,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
		Leeway:         leeway,
		Revoker:        revoker,
	})
	if err != nil {
		return err
	}

	var (
		objects storage.ObjectStore
		uploads *storage.FileStore
	)
	switch {
	case cfg.MinioEndpoint != "":
		minioStore, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicBaseURL,
		})
		if err != nil {
			return err
		}
		objects = minioStore
	case cfg.UploadDir != "":
		baseURL := cfg.UploadBaseURL
		if baseURL == "" {
			baseURL = "/uploads"
		}
		if uploads, err = storage.NewFileStore(cfg.UploadDir, baseURL); err != nil {
			return err
		}
		objects = uploads
	default:
		slog.Warn("object storage not configured; image uploads disabled")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsExchange)
		if err != nil {
			return err
		}
		publisher = amqpPublisher
	}
	defer publisher.Close()

	appCore, err := app.New(app.Config{
		Store:             db,
		Sessions:          sessions,
		Broker:            broker,
		Events:            publisher,
		Objects:           objects,
		DefaultUniversity: cfg.DefaultUniversity,
		MaxImageBytes:     cfg.MaxImageBytes,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	proxies, err := util.NewTrustedProxies(config.SplitList(cfg.TrustedProxies))
	if err != nil {
		return err
	}
	httpServer, err := server.New(server.Config{
		App:            appCore,
		SignupLimiter:  limits.signup,
		LoginLimiter:   limits.login,
		MessageLimiter: limits.message,
		AllowedOrigins: config.SplitList(cfg.CORSAllowedOrigins),
		TrustedProxies: proxies,
		Uploads:        uploads,
		Alerter:        alerter,
	})
	if err != nil {
		return err
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv.RegisterOnShutdown(httpServer.CloseStreams)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down", "timeout", shutdownTimeout.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// limiters holds the per-route limiters; nil entries fall back to the
// server defaults.
type limiters struct {
	signup  ratelimit.Limiter
	login   ratelimit.Limiter
	message ratelimit.Limiter
}

func redisLimiters(client *redis.Client, cfg config.FileConfig) (limiters, error) {
	build := func(name string, perMinute int) (ratelimit.Limiter, error) {
		if perMinute <= 0 {
			return nil, nil
		}
		return ratelimit.NewRedisFixedWindowLimiter(client, "hustl:ratelimit:"+name, perMinute, time.Minute)
	}
	return buildLimiters(cfg, build)
}

func memoryLimiters(cfg config.FileConfig) (limiters, error) {
	build := func(_ string, perMinute int) (ratelimit.Limiter, error) {
		if perMinute <= 0 {
			return nil, nil
		}
		return ratelimit.NewMemoryFixedWindowLimiter(perMinute, time.Minute)
	}
	return buildLimiters(cfg, build)
}

func buildLimiters(cfg config.FileConfig, build func(string, int) (ratelimit.Limiter, error)) (limiters, error) {
	var (
		out limiters
		err error
	)
	if out.signup, err = build("signup", cfg.SignupRateLimitPerMinute); err != nil {
		return out, err
	}
	if out.login, err = build("login", cfg.LoginRateLimitPerMinute); err != nil {
		return out, err
	}
	if out.message, err = build("message", cfg.MessageRateLimitPerMinute); err != nil {
		return out, err
	}
	return out, nil
}
