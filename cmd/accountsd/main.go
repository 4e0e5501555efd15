package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/template/django/v3"
	gconfig "github.com/goliatone/go-config/config"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/metrics"
)

type App struct {
	config *gconfig.Container[*accounts.AppConfig]
	db     *bun.DB
	repo   accounts.RepositoryManager
	srv    router.Server[*fiber.App]
	fiber  *fiber.App
	reg    *prometheus.Registry
	sink   *metrics.Sink
	logger *glog.BaseLogger
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func (a *App) Config() *accounts.AppConfig {
	return a.config.Raw()
}

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("app"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	app := &App{logger: lgr}
	logger := app.GetLogger("accountsd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	if err := WithConfig(ctx, app, *configPath); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if app.Config().Server.Debug {
		fmt.Println("============")
		fmt.Println(print.MaybeHighlightJSON(app.Config().Server))
		fmt.Println("============")
	}

	if err := WithPersistence(ctx, app); err != nil {
		logger.Error("failed to set up persistence", "error", err)
		os.Exit(1)
	}
	defer app.db.Close()

	WithMetrics(app)

	if err := WithHTTPServer(app); err != nil {
		logger.Error("failed to set up http server", "error", err)
		os.Exit(1)
	}

	if err := WithAccountRoutes(app); err != nil {
		logger.Error("failed to set up account routes", "error", err)
		os.Exit(1)
	}

	addr := app.Config().Server.Addr
	go func() {
		logger.Info("listening", "addr", addr)
		app.srv.Serve(addr)
		stop()
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	if err := app.fiber.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// WithConfig seeds the container with the defaults and the optional YAML
// file, the container then layers its own sources on top
func WithConfig(ctx context.Context, app *App, path string) error {
	seed, err := accounts.LoadConfig(path)
	if err != nil {
		return err
	}

	cfg := gconfig.New(seed).
		WithLogger(app.GetLogger("config"))

	if err := cfg.Load(ctx); err != nil {
		return err
	}

	if err := cfg.Raw().Validate(); err != nil {
		return err
	}

	app.config = cfg
	return nil
}

func WithPersistence(ctx context.Context, app *App) error {
	db, err := accounts.OpenDB(ctx, app.Config().Persistence)
	if err != nil {
		return err
	}

	if err := accounts.Migrate(ctx, db); err != nil {
		db.Close()
		return err
	}

	app.db = db
	app.repo = accounts.NewRepositoryManager(db)
	app.repo.MustValidate()

	return nil
}

func WithMetrics(app *App) {
	app.reg = prometheus.NewRegistry()
	app.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.sink = metrics.NewSink(app.reg)
}

func WithHTTPServer(app *App) error {
	views, err := fs.Sub(accounts.GetViewsFS(), "views")
	if err != nil {
		return err
	}

	engine := django.NewFileSystem(http.FS(views), ".html")
	secure := strings.HasPrefix(app.Config().Server.BaseURL, "https://")

	app.srv = router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		app.fiber = router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:          true,
			StrictRouting:         false,
			PassLocalsToViews:     true,
			Views:                 engine,
			DisableStartupMessage: true,
			ReadTimeout:           15 * time.Second,
			WriteTimeout:          15 * time.Second,
		}))

		app.fiber.Use(metrics.NewHTTP(app.reg).Middleware())
		app.fiber.Use(accounts.NewCSRFMiddleware(accounts.CSRFConfig{
			Secure: secure,
			Logger: app.GetLogger("csrf"),
		}))

		app.fiber.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(app.reg, promhttp.HandlerOpts{})))

		return app.fiber
	})

	app.srv.Router().WithLogger(app.GetLogger("router"))
	app.srv.Router().Use(mflash.New(mflash.ConfigDefault))

	app.srv.Router().Get("/healthz", func(c router.Context) error {
		if err := app.db.PingContext(c.Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return nil
}

func WithAccountRoutes(app *App) error {
	cfg := app.Config()

	issuer := accounts.NewVerificationTokenIssuer(
		cfg.Auth.SigningKey,
		cfg.Auth.VerificationTTL,
		accounts.WithTokenIssuerName(cfg.Auth.Issuer),
		accounts.WithTokenLogger(app.GetLogger("tokens")),
	)

	mailer := accounts.NewSMTPMailer(cfg.Mail).WithLogger(app.GetLogger("mailer"))

	register, err := accounts.NewRegisterUserHandler(
		app.repo,
		issuer,
		mailer,
		cfg.Server.BaseURL,
		accounts.WithRegisterLogger(app.GetLogger("register")),
		accounts.WithRegisterActivitySink(app.sink),
	)
	if err != nil {
		return err
	}

	verify := accounts.NewVerifyAccountHandler(
		app.repo,
		issuer,
		accounts.WithVerifyLogger(app.GetLogger("verify")),
		accounts.WithVerifyActivitySink(app.sink),
	)

	profile := accounts.NewUpdateProfileHandler(
		app.repo,
		accounts.WithProfileLogger(app.GetLogger("profile")),
		accounts.WithProfileActivitySink(app.sink),
	)

	provider := accounts.NewUserProvider(app.repo.Users()).
		WithLogger(app.GetLogger("provider"))

	auther := accounts.NewAuthenticator(provider, cfg.Auth).
		WithLogger(app.GetLogger("auth")).
		WithActivitySink(app.sink)

	httpAuth, err := accounts.NewHTTPAuthenticator(auther, cfg.Auth)
	if err != nil {
		return err
	}
	httpAuth.Logger = app.GetLogger("http-auth")
	httpAuth.SecureCookies = strings.HasPrefix(cfg.Server.BaseURL, "https://")

	accounts.RegisterAuthRoutes(app.srv.Router().Group("/"),
		accounts.WithControllerLogger(app.GetLogger("controller")),
		accounts.WithControllerRepository(app.repo),
		accounts.WithControllerAuthenticator(httpAuth),
		accounts.WithRegisterUserHandler(register),
		accounts.WithVerifyAccountHandler(verify),
		accounts.WithUpdateProfileHandler(profile),
		accounts.WithControllerDebug(cfg.Server.Debug),
		accounts.WithControllerHashid(cfg.Auth.UseHashid),
	)

	return nil
}
