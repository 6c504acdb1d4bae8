package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/iliyamo/dossier-workflow/internal/catalog"
	"github.com/iliyamo/dossier-workflow/internal/config"
	"github.com/iliyamo/dossier-workflow/internal/database"
	"github.com/iliyamo/dossier-workflow/internal/handler"
	"github.com/iliyamo/dossier-workflow/internal/logger"
	"github.com/iliyamo/dossier-workflow/internal/middleware"
	"github.com/iliyamo/dossier-workflow/internal/model"
	"github.com/iliyamo/dossier-workflow/internal/queue"
	"github.com/iliyamo/dossier-workflow/internal/repository"
	"github.com/iliyamo/dossier-workflow/internal/router"
	"github.com/iliyamo/dossier-workflow/internal/service"
	"github.com/iliyamo/dossier-workflow/internal/storage"
	"github.com/iliyamo/dossier-workflow/internal/utils"
	"github.com/iliyamo/dossier-workflow/internal/workflow"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	args := os.Args
	if len(args) == 1 {
		args = append(args, "serve")
	}

	root := &cli.Command{
		Name:  "dossier",
		Usage: "Dossier workflow server and maintenance commands",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			seedCommand(),
			workerCommand(),
			userCommand(),
		},
	}
	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "migrate", Usage: "apply pending migrations before serving"},
			&cli.BoolFlag{Name: "with-worker", Usage: "also run the notification consumer in-process"},
			&cli.StringFlag{Name: "max-upload", Value: "32M", Usage: "multipart body limit"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServer(ctx, c.Bool("migrate"), c.Bool("with-worker"), c.String("max-upload"))
		},
	}
}

func runServer(ctx context.Context, migrate, withWorker bool, maxUpload string) error {
	cfg := config.Load()
	zl, err := logger.New(cfg.Env)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return err
	}
	defer db.Close()
	if migrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	blobs, err := storage.NewLocalStore(cfg.Storage.Dir)
	if err != nil {
		return err
	}
	signer := storage.NewSigner(cfg.Storage.URLSecret)
	publisher := service.NewPublisher(cfg.Queue.URL, cfg.Queue.Queue, zl)
	defer publisher.Wait()

	store := repository.NewStore(db)
	engine := workflow.New(store, blobs, signer, workflow.Options{
		Logger:      zl,
		Notifier:    publisher,
		FileURLTTL:  cfg.Storage.URLTTL,
		FileBaseURL: cfg.Storage.PublicBase,
	})
	notes := repository.NewNotificationRepo(db)

	rdb := config.NewRedisClient(config.LoadRedisConfig(), zl)
	if rdb != nil {
		defer rdb.Close()
	}
	cacheCfg := config.LoadCacheConfig()
	rl := config.LoadRateLimitConfig()
	purge := func(ctx context.Context) error { return middleware.PurgeCache(ctx, rdb, cacheCfg.Prefix) }

	ready := map[string]handler.Pinger{"mysql": db}
	if rdb != nil {
		ready["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(zl))

	router.Register(e, router.Deps{
		JWTSecret:     cfg.JWTSecret,
		Auth:          handler.NewAuthHandler(cfg, repository.NewUserRepo(db), repository.NewTokenRepo(db), zl),
		Client:        handler.NewClientHandler(engine, notes, zl),
		Admin:         handler.NewAdminHandler(engine, zl),
		Catalog:       handler.NewCatalogHandler(catalog.NewService(store, zl), purge, zl),
		Files:         handler.NewFilesHandler(engine, zl),
		Ready:         handler.Ready(ready),
		AuthLimit:     middleware.NewTokenBucket(rl.Scaled("auth", 10), rdb, zl),
		UploadLimit:   middleware.NewTokenBucket(rl.Scaled("upload", 20), rdb, zl),
		PublicCache:   middleware.NewRedisCache(cacheCfg, rdb, zl),
		MaxUploadBody: maxUpload,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if withWorker {
		consumer := &queue.Consumer{URL: cfg.Queue.URL, Queue: cfg.Queue.Queue, Sink: notes, Log: zl}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zl.Error("notification consumer stopped", zap.Error(err))
			}
		}()
	}

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		zl.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		errCh <- e.Start(addr)
	}()

	select {
	case <-ctx.Done():
		zl.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "down", Usage: "roll back the latest migration instead"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := config.LoadDatabase()
			db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
			if err != nil {
				return err
			}
			defer db.Close()
			if c.Bool("down") {
				return database.Rollback(ctx, db)
			}
			return database.Migrate(ctx, db)
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Load a catalog file, or the built-in catalog when --file is omitted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Usage: "YAML catalog path"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := config.LoadDatabase()
			zl, err := logger.New(cfg.Env)
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
			if err != nil {
				return err
			}
			defer db.Close()

			svc := catalog.NewService(repository.NewStore(db), zl)
			var report catalog.SeedReport
			if path := c.String("file"); path != "" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				report, err = svc.Seed(ctx, f)
				if err != nil {
					return err
				}
			} else if report, err = svc.SeedDefault(ctx); err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Consume the notification queue into the notifications table",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := config.LoadDatabase()
			zl, err := logger.New(cfg.Env)
			if err != nil {
				return err
			}
			defer func() { _ = zl.Sync() }()
			db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			consumer := &queue.Consumer{
				URL:   cfg.Queue.URL,
				Queue: cfg.Queue.Queue,
				Sink:  repository.NewNotificationRepo(db),
				Log:   zl,
			}
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "User administration",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a user with any role, typically the first admin",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", Required: true},
					&cli.StringFlag{Name: "role", Value: string(model.RoleAdmin), Usage: "CLIENT, AGENT or ADMIN"},
					&cli.IntFlag{Name: "bcrypt-cost", Value: 12},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					role, ok := model.ParseRole(c.String("role"))
					if !ok {
						return fmt.Errorf("unknown role %q", c.String("role"))
					}
					if err := utils.CheckPassword(c.String("password")); err != nil {
						return err
					}
					cfg := config.LoadDatabase()
					db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
					if err != nil {
						return err
					}
					defer db.Close()
					id, err := repository.NewUserRepo(db).Create(ctx, c.String("email"), c.String("password"), role, int(c.Int("bcrypt-cost")))
					if err != nil {
						return err
					}
					return printJSON(map[string]any{"id": id, "email": c.String("email"), "role": role})
				},
			},
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
