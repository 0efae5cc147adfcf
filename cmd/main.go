package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"

	"github.com/ngoyal88/accesslog/pkg/accesslog"
	"github.com/ngoyal88/accesslog/pkg/api"
	"github.com/ngoyal88/accesslog/pkg/applog"
	"github.com/ngoyal88/accesslog/pkg/cache"
	"github.com/ngoyal88/accesslog/pkg/config"
	"github.com/ngoyal88/accesslog/pkg/keymanager"
	"github.com/ngoyal88/accesslog/pkg/middleware"
	"github.com/ngoyal88/accesslog/pkg/proxy"
	"github.com/ngoyal88/accesslog/pkg/session"
	"github.com/ngoyal88/accesslog/pkg/sink"
	"github.com/ngoyal88/accesslog/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ./configs/config.yaml)")
	flag.Parse()

	appLog := applog.Reloadable("info", os.Stdout)
	zlog.Logger = appLog

	// 1. Load Config with hot reload
	cfgStore, err := config.LoadAndWatch(*configPath)
	if err != nil {
		appLog.Fatal().Err(err).Msg("Failed to load config")
	}
	cfg := cfgStore.Get()
	applog.SetLevel(cfg.App.LogLevel)
	cfgStore.OnChange(func(c *config.Config) {
		applog.SetLevel(c.App.LogLevel)
	})

	// 2. Initialize Redis (if enabled)
	var rdb *cache.Client
	if cfg.Redis.Enabled {
		rdb, err = cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLog.Fatal().Err(err).Msg("Could not connect to Redis")
		}
		defer rdb.Close()
		fmt.Println("✅ Connected to Redis successfully!")
	}

	// 3. Access log sinks. Options are fixed for the life of the process.
	path, err := cfg.AccessLogPath()
	if err != nil {
		appLog.Fatal().Err(err).Msg("Failed to resolve access log path")
	}
	accessFile, err := sink.OpenFile(path)
	if err != nil {
		appLog.Fatal().Err(err).Msg("Failed to open access log")
	}
	defer accessFile.Close()

	opts := []accesslog.Option{accesslog.WithErrorLog(appLog)}

	var store storage.Store
	var archive *storage.ArchiveSink
	if cfg.AccessLog.Archive.Enabled {
		if rdb == nil {
			appLog.Fatal().Msg("Access log archive requires Redis to be enabled")
		}
		retention := time.Duration(cfg.AccessLog.Archive.RetentionDays) * 24 * time.Hour
		store = storage.NewRedisStore(rdb, retention)
		archive = storage.NewArchiveSink(store, appLog, cfg.AccessLog.Archive.QueueSize)
		opts = append(opts, accesslog.WithArchive(archive))
		fmt.Printf("✅ Access log archive enabled (retention: %d days)\n", cfg.AccessLog.Archive.RetentionDays)
	}

	logger := accesslog.NewLogger(accesslog.Config{
		Enabled:           cfg.AccessLog.Enabled,
		DuplicateToAppLog: cfg.AccessLog.Log2Play,
		IncludeBody:       cfg.AccessLog.LogPost,
	}, accessFile, sink.NewAppLog(appLog), opts...)
	if cfg.AccessLog.Enabled {
		fmt.Printf("✅ Access log: %s\n", accessFile.Path())
	}

	var sessions session.Lookup
	var km *keymanager.Manager
	if rdb != nil {
		sessions = session.NewRedisLookup(rdb, cfg.Session.Cookie, cfg.Session.KeyPrefix, cfg.Session.LookupTimeout)
		km = keymanager.New(rdb)
	}

	// 4. Application handler
	gw, err := proxy.New(cfg.Proxy.Target)
	if err != nil {
		appLog.Fatal().Err(err).Msg("Failed to create proxy")
	}
	fmt.Printf("✅ Proxy started targeting: %s\n", gw.Target())

	// 5. Chain Middleware (order matters!)
	// Only the proxy counts as dispatched; rejections below it do not.
	var handler http.Handler = middleware.Dispatched(gw)

	if cfg.Auth.Enabled {
		if km == nil {
			appLog.Fatal().Msg("Authentication requires Redis to be enabled")
		}
		handler = middleware.AuthMiddleware(km, true)(handler)
		fmt.Println("✅ API key authentication enabled")
	}

	handler = middleware.NewRateLimiter(rdb, cfgStore)(handler)
	if cfg.RateLimit.Enabled {
		fmt.Printf("✅ Rate limiting: %.1f req/s (burst: %d)\n",
			cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	// 6. Setup HTTP Server
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.Server.StaticDir != "" {
		mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.Server.StaticDir))))
	}

	if cfg.Auth.AdminKey != "" {
		api.NewAdminAPI(km, store, cfg.Auth.AdminKey).RegisterRoutes(mux)
		fmt.Println("✅ Admin API enabled at /admin/*")
	}

	mux.Handle("/", handler)

	// The access log hook is outer-most so every request gets a line.
	root := middleware.AccessLog(logger, middleware.AccessLogOptions{
		Sessions:     sessions,
		MaxBodyBytes: cfg.AccessLog.MaxBodyBytes,
	})(mux)

	// 7. Start Server
	fmt.Println("\n🚀 Features Active:")
	fmt.Println("   - Metrics:         http://localhost" + cfg.Server.Port + "/metrics")
	fmt.Println("   - Health Check:    http://localhost" + cfg.Server.Port + "/health")
	fmt.Println("   - Main Endpoint:   http://localhost" + cfg.Server.Port)
	fmt.Println("\n📊 Log level and rate limits can be hot-reloaded by editing the config file")
	fmt.Printf("\n🎯 Server listening on %s\n", cfg.Server.Port)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			appLog.Error().Err(err).Msg("Server failed")
		}
	case <-ctx.Done():
		appLog.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}

	if archive != nil {
		archive.Close()
	}
}
