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

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	oidcstore "github.com/goliatone/go-oidc-store"
	"github.com/goliatone/go-oidc-store/storage/bunstore"
	"github.com/goliatone/go-oidc-store/storage/redisstore"
	"github.com/goliatone/go-oidc-store/usermanager"
)

// The demo serves a single browser session: one store and one manager
// back every request.

type App struct {
	client  oidcstore.ClientSettings
	logger  *glog.BaseLogger
	manager *usermanager.Manager
	store   *oidcstore.Store
	srv     router.Server[*fiber.App]
	reg     *prometheus.Registry
	rdb     *redis.Client
	closers []func() error
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("app"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	client, err := oidcstore.LoadClientSettingsFromEnv()
	if err != nil {
		panic(err)
	}

	fmt.Println("============")
	fmt.Println(print.MaybePrettyJSON(client))
	fmt.Println("============")

	app := &App{
		client: client,
		logger: lgr,
		reg:    prometheus.NewRegistry(),
	}

	ctx := context.Background()

	if err := WithSessionManager(ctx, app); err != nil {
		panic(err)
	}

	if err := WithStore(ctx, app); err != nil {
		panic(err)
	}

	WithHTTPServer(app)
	Routes(app)

	go ServeMetrics(app, envOr("METRICS_ADDR", ":9572"))

	app.srv.Serve(envOr("HTTP_ADDR", ":8572"))

	WaitExitSignal()

	app.manager.Close()
	app.store.Wait()
	for _, closer := range app.closers {
		_ = closer()
	}
}

// WithSessionManager picks a user cache from the environment and creates
// the protocol client.
func WithSessionManager(ctx context.Context, app *App) error {
	users, err := userStore(ctx, app)
	if err != nil {
		return err
	}

	manager, err := usermanager.New(ctx, app.client,
		usermanager.WithLogger(app.GetLogger("oidc:manager")),
		usermanager.WithUserStore(users),
		usermanager.WithUserInfo(true),
	)
	if err != nil {
		return err
	}

	app.manager = manager
	return nil
}

func userStore(ctx context.Context, app *App) (usermanager.UserStore, error) {
	if url := os.Getenv("REDIS_URL"); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		app.rdb = rdb
		app.closers = append(app.closers, rdb.Close)
		return redisstore.NewUserStore(rdb, redisstore.WithUserTTL(24*time.Hour)), nil
	}

	if dsn := os.Getenv("SQLITE_DSN"); dsn != "" {
		db, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, err
		}
		bunDB := bun.NewDB(db, sqlitedialect.New())
		app.closers = append(app.closers, bunDB.Close)

		store := bunstore.NewUserStore(bunDB)
		if err := store.CreateTable(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}

	return usermanager.NewMemoryUserStore(), nil
}

func WithStore(ctx context.Context, app *App) error {
	metrics, err := oidcstore.NewPrometheusMetrics(app.reg)
	if err != nil {
		return err
	}

	eventsLogger := app.GetLogger("oidc:events")
	opts := []oidcstore.StoreOption{
		oidcstore.WithLogger(app.GetLogger("oidc:store")),
		oidcstore.WithMetrics(metrics),
	}

	if app.rdb != nil {
		target := redisstore.NewEventTarget(app.rdb, "")
		feed, err := target.Subscribe(ctx)
		if err != nil {
			return err
		}
		go func() {
			for ev := range feed {
				eventsLogger.Debug("store event", "name", ev.Name, "payload", print.MaybePrettyJSON(ev.Payload))
			}
		}()
		opts = append(opts,
			oidcstore.WithEventTarget(target),
			oidcstore.WithRedirectStore(redisstore.NewRedirectStore(app.rdb, 15*time.Minute)),
		)
	} else {
		events := oidcstore.NewChannelEventTarget(32)
		feed, _ := events.Subscribe()
		go func() {
			for ev := range feed {
				eventsLogger.Debug("store event", "name", ev.Name)
			}
		}()
		opts = append(opts, oidcstore.WithEventTarget(events))
	}

	opts = append(opts,
		oidcstore.WithStoreSettings(oidcstore.StoreSettings{
			DispatchEventsOnTarget: true,
			PublicRoutePaths:       []string{"/", "/healthz"},
		}),
		oidcstore.WithObserver(oidcstore.ObserverFuncs{
			OnUserLoaded: func(user *oidcstore.User) {
				app.GetLogger("oidc:store").Info("user loaded", "sub", user.Subject())
			},
		}),
	)

	store, err := oidcstore.NewStore(app.manager, app.client, opts...)
	if err != nil {
		return err
	}

	app.store = store
	return nil
}

func WithHTTPServer(app *App) {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: true,
			StrictRouting:     false,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))
	app.srv = srv
}

func Routes(app *App) {
	cfg := oidcstore.GuardConfig{
		Resolve: func(router.Context) (*oidcstore.Store, error) {
			return app.store, nil
		},
	}

	r := app.srv.Router()
	protected := oidcstore.Middleware(cfg)

	r.Get("/", func(ctx router.Context) error {
		return ctx.JSON(router.StatusOK, map[string]any{
			"authenticated": app.store.IsAuthenticated(),
			"profile":       "/me",
		})
	}, protected)

	r.Get("/healthz", func(ctx router.Context) error {
		return ctx.SendString("ok")
	})

	for _, path := range app.store.Routes().CallbackPaths() {
		r.Get(path, oidcstore.CallbackHandler(cfg))
	}

	r.Get("/logout", oidcstore.SignOutHandler(cfg))

	r.Get("/me", func(ctx router.Context) error {
		user, _ := ctx.Locals(oidcstore.UserLocalsKey).(*oidcstore.User)
		if user == nil {
			return ctx.JSON(router.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		exp, _ := app.store.AccessTokenExp()
		return ctx.JSON(router.StatusOK, map[string]any{
			"profile":          user.Profile,
			"scopes":           app.store.Scopes(),
			"access_token_exp": exp,
			"checked":          app.store.AuthenticationIsChecked(),
			"last_error":       app.store.Error(),
		})
	}, protected)
}

func ServeMetrics(app *App, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.reg, promhttp.HandlerOpts{}))

	if err := http.ListenAndServe(addr, mux); err != nil {
		app.GetLogger("metrics").Error("metrics server stopped", "error", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
