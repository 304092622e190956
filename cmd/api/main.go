package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kttrack/api/internal/app"
	"kttrack/api/internal/blob"
	"kttrack/api/internal/cache"
	"kttrack/api/internal/config"
	"kttrack/api/internal/history"
	"kttrack/api/internal/identity"
	"kttrack/api/internal/logging"
	"kttrack/api/internal/notify"
	"kttrack/api/internal/realtime"
	"kttrack/api/internal/report"
	"kttrack/api/internal/search"
	"kttrack/api/internal/session"
	"kttrack/api/internal/state"
	"kttrack/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFile)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		logger.Fatal("failed to create history dir", zap.Error(err))
	}
	dataStore := store.NewPostgresStore(db)

	redisStore, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer redisStore.Close()
	snapshots := cache.NewSnapshotCache(redisStore.Client(), cfg.SnapshotKey)

	identityService := identity.NewService(dataStore, redisStore, identity.Config{
		Secret:         []byte(cfg.JWTSecret),
		AccessTTL:      cfg.AccessTTL,
		RefreshTTL:     cfg.RefreshTTL,
		ProfileTimeout: cfg.ProfileTimeout,
	}, logger.Named("identity"))
	if _, err := identityService.EnsureAdmin(ctx, cfg.BootstrapAdminPassword); err != nil {
		logger.Warn("bootstrap admin not created", zap.Error(err))
	}

	projects := state.New()
	hub := realtime.NewHub()
	projects.OnChange(hub.StateChanged)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("meili"))
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewLocal(projects.Snapshot), logger.Named("search"))

	deps := app.Deps{
		Store:   dataStore,
		State:   projects,
		Search:  searchService,
		History: history.New(cfg.HistoryDir),
		Reports: report.NewRenderer(30 * time.Second),
		Logger:  logger.Named("app"),
	}
	mailer := notify.NewService(notify.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		deps.Mailer = mailer
	} else {
		logger.Info("SMTP not configured, review notifications disabled")
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobs, err := blob.NewMinioStore(ctx, blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Fatal("attachment storage unavailable", zap.Error(err))
		}
		deps.Blobs = blobs
	} else {
		logger.Warn("MINIO_ENDPOINT not set, attachment uploads disabled")
	}

	syncer := realtime.NewSyncer(dataStore, projects, snapshots, searchService, logger.Named("sync"))
	if err := syncer.Load(ctx); err != nil {
		logger.Error("initial project load failed, starting empty", zap.Error(err))
	}

	changes := make(chan store.ChangeEvent, 64)
	listener := realtime.NewPGListener(cfg.DatabaseURL, logger.Named("listener"))
	go func() {
		if err := listener.Listen(ctx, changes); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("change listener stopped", zap.Error(err))
		}
	}()
	go syncer.Run(ctx, changes)

	scheduler, err := realtime.NewScheduler(ctx, syncer, cfg.ResyncInterval, logger.Named("scheduler"))
	if err != nil {
		logger.Fatal("scheduler setup failed", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	service := app.NewService(deps)
	httpServer := app.NewHTTPServer(service, identityService, hub, cfg.CORSOrigin, logger.Named("http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("KT tracker API listening", zap.String("addr", cfg.Addr), zap.Int("projects", projects.Len()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
