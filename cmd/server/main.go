package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"opencr/internal"
	"opencr/pkg/registry"
	"opencr/webhook"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	reg, err := registry.Load(config.AppsFile)
	if err != nil {
		logger.Fatalf("load apps: %v", err)
	}
	logger.Printf("loaded %d apps from %s", reg.Len(), config.AppsFile)

	router, err := internal.NewRouter(config.Routes, logger)
	if err != nil {
		logger.Fatalf("compile routes: %v", err)
	}

	publisher, err := internal.NewPublisher(config.Watermill)
	if err != nil {
		logger.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()

	mux := http.NewServeMux()

	if config.Platforms.GitHub.Enabled {
		handler, err := webhook.NewGitHubHandler(reg, publisher, router, logger, config.Server)
		if err != nil {
			logger.Fatalf("github handler: %v", err)
		}
		registerPlatform(mux, logger, "github", config.Platforms.GitHub.Path, handler)
	}
	if config.Platforms.GitLab.Enabled {
		handler, err := webhook.NewGitLabHandler(reg, publisher, router, logger, config.Server)
		if err != nil {
			logger.Fatalf("gitlab handler: %v", err)
		}
		registerPlatform(mux, logger, "gitlab", config.Platforms.GitLab.Path, handler)
	}
	if config.Platforms.Bitbucket.Enabled {
		handler, err := webhook.NewBitbucketHandler(reg, publisher, router, logger, config.Server)
		if err != nil {
			logger.Fatalf("bitbucket handler: %v", err)
		}
		registerPlatform(mux, logger, "bitbucket", config.Platforms.Bitbucket.Path, handler)
	}

	if config.Server.MetricsEnabled {
		path := config.Server.MetricsPath
		if path == "" {
			path = "/debug/vars"
		}
		mux.Handle("GET "+path, expvar.Handler())
		logger.Printf("metrics on %s", path)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var handler http.Handler = mux
	if config.Server.RateLimitRPS > 0 {
		handler = internal.NewRateLimitHandler(handler, config.Server.RateLimitRPS, config.Server.RateLimitBurst, 10*time.Minute)
	}

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	// SIGHUP reloads the app registry without interrupting traffic.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			if err := reg.Reload(config.AppsFile); err != nil {
				logger.Printf("apps reload failed, keeping previous snapshot: %v", err)
				continue
			}
			logger.Printf("apps reloaded, %d registered", reg.Len())
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}

// registerPlatform mounts a handler at <path>/{app}. The app id segment is
// how deliveries pick their registry record.
func registerPlatform(mux *http.ServeMux, logger interface{ Printf(string, ...interface{}) }, platform, path string, handler http.Handler) {
	path = strings.TrimRight(path, "/")
	if path == "" {
		path = "/webhooks/" + platform
	}
	pattern := "POST " + path + "/{app}"
	mux.Handle(pattern, handler)
	logger.Printf("%s webhook enabled on %s/{app}", platform, path)
}
