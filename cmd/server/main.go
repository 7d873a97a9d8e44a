package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/staffroom/staffroom/internal/api"
	"github.com/staffroom/staffroom/internal/config"
	"github.com/staffroom/staffroom/internal/database"
	"github.com/staffroom/staffroom/internal/identity"
	"github.com/staffroom/staffroom/internal/relay"
	"github.com/staffroom/staffroom/internal/resource"
	"github.com/staffroom/staffroom/internal/stats"
)

var (
	addr           string
	dsn            string
	resourceURL    string
	allowedOrigins string
)

func main() {
	flag.StringVar(&addr, "addr", "", "server address (overrides STAFFROOM_ADDR)")
	flag.StringVar(&dsn, "dsn", "", "database connection string (overrides STAFFROOM_DSN)")
	flag.StringVar(&resourceURL, "resource-url", "", "resource API base URL (overrides STAFFROOM_RESOURCE_URL)")
	flag.StringVar(&allowedOrigins, "allowed-origins", "", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[staffroom] ", log.LstdFlags)

	// flags take precedence over the environment
	if addr != "" {
		os.Setenv("STAFFROOM_ADDR", addr)
	}
	if dsn != "" {
		os.Setenv("STAFFROOM_DSN", dsn)
	}
	if resourceURL != "" {
		os.Setenv("STAFFROOM_RESOURCE_URL", resourceURL)
	}
	if allowedOrigins != "" {
		os.Setenv("STAFFROOM_ALLOWED_ORIGINS", strings.TrimSpace(allowedOrigins))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config: ", err)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		logger.Fatal("create upload dir: ", err)
	}

	dbConn, err := database.NewPgAttachmentRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open: ", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close: ", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate: ", err)
	}

	var verifier identity.Verifier
	if cfg.IdentityURL != "" {
		verifier = identity.NewHTTPVerifier(cfg.IdentityURL, nil)
	} else {
		verifier = identity.NewJWTVerifier(cfg.SigningKey)
	}

	store := resource.NewClient(cfg.ResourceURL, resource.StaticToken(cfg.ServiceToken), nil)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	registry := relay.NewInMemoryRegistry(logger, statsUpdater)
	rl := relay.NewRelay(logger, verifier, store, registry, statsUpdater)

	srv := api.NewStaffroomApp(mux, logger, rl, verifier, dbConn, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go registry.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down connection registry...")
	registry.Shutdown()

	logger.Println("shutdown complete")
}
