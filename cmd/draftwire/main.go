package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/draftwire/draftwire/internal/blobstore"
	"github.com/draftwire/draftwire/internal/config"
	"github.com/draftwire/draftwire/internal/db"
	"github.com/draftwire/draftwire/internal/handler"
	"github.com/draftwire/draftwire/internal/job"
	"github.com/draftwire/draftwire/internal/middleware"
	"github.com/draftwire/draftwire/internal/repo"
	"github.com/draftwire/draftwire/internal/schedule"
	"github.com/draftwire/draftwire/internal/service"
	"github.com/draftwire/draftwire/internal/session"
	"github.com/draftwire/draftwire/internal/ws"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "draftwire",
		Short: "draftwire collaboration server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run draftwire server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			database, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := db.ApplyMigrations(database); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, database)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, database *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("redis", cfg.Redis.Addr),
		zap.String("blob_store", cfg.BlobStore.Type),
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	blobs, err := blobstore.New(cfg.BlobStore.Type, cfg.BlobStore.Data)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	draftRepo := repo.NewDraftRepo(database)
	versionRepo := repo.NewVersionRepo(database)

	registry := session.NewRegistry(
		rdb,
		time.Duration(cfg.Collab.LivenessWindowSecs)*time.Second,
		time.Duration(cfg.Collab.SweepThresholdSecs)*time.Second,
	)

	collabService := service.NewCollabService(draftRepo, versionRepo, blobs, registry, cfg.Collab)

	hub := ws.NewHub()
	collabService.SetBroadcaster(hub)
	wsManager := ws.NewManager(hub, collabService, registry, []byte(cfg.JWTSecret), cfg.CORSAllowlist, cfg.Collab.BroadcastQueueLength)

	deps := handler.RouterDeps{
		Drafts:    handler.NewDraftHandler(collabService),
		WSManager: wsManager,
		JWTSecret: []byte(cfg.JWTSecret),
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewSessionSweepJob(registry), cfg.Collab.SweepCronSpec); err != nil {
		return fmt.Errorf("schedule sweep job: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
