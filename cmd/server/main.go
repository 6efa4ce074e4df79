/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the club participation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Build the participation engine with the configured rules
  4. Configure HTTP router and background promotion sweeper
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: participation.db, env DB_PATH)
           Use ":memory:" for an in-memory database

ENVIRONMENT:
  PORT                HTTP server port
  DB_PATH             SQLite database path
  LOG_LEVEL           zerolog level (debug, info, warn, error)
  ANONYMOUS_DIFFICULTY_CEILING
                      Difficulty visible to anonymous visitors (default 1)
  MINIMUM_BALANCE     Debt floor below which joining is blocked (default 0)
  SWEEP_INTERVAL      Promotion sweeper period (default 1m, "0" disables)

  A .env file in the working directory is loaded first; real environment
  variables win over it.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the promotion sweeper
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/club.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/participation-engine/api"
	"github.com/warp/participation-engine/engine"
	"github.com/warp/participation-engine/store/sqlite"
)

func main() {
	// .env is optional; missing files are not an error.
	_ = godotenv.Load()

	logger := newLogger()

	// Flags, with environment fallbacks
	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "participation.db"), "SQLite database path")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal().Err(err).Str("db", *dbPath).Msg("failed to initialize database")
	}
	defer store.Close()

	// Build the engine with the configured rules
	rules := engine.Rules{
		AnonymousDifficultyCeiling: envInt("ANONYMOUS_DIFFICULTY_CEILING", 1),
		MinimumBalance:             envDecimal("MINIMUM_BALANCE", decimal.Zero, logger),
	}
	eng := engine.New(store, nil, rules, logger)

	// Handler and router
	handler := api.NewHandler(store, eng, logger)
	router := api.NewRouter(handler)

	// Background promotion sweeper
	sweeper := api.NewPromotionSweeper(eng, logger)
	if interval := envStr("SWEEP_INTERVAL", ""); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			logger.Fatal().Err(err).Str("value", interval).Msg("invalid SWEEP_INTERVAL")
		}
		if d <= 0 {
			sweeper.Enabled = false
		} else {
			sweeper.CheckInterval = d
		}
	}
	sweeper.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Int("port", *port).Str("db", *dbPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	sweeper.Stop()

	logger.Info().Msg("server stopped")
}

// newLogger builds the process logger: console output, level from
// LOG_LEVEL, info by default.
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if s := os.Getenv("LOG_LEVEL"); s != "" {
		if parsed, err := zerolog.ParseLevel(s); err == nil {
			level = parsed
		}
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDecimal(key string, fallback decimal.Decimal, logger zerolog.Logger) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			logger.Fatal().Str("key", key).Str("value", v).Msg("invalid decimal in environment")
		}
		return d
	}
	return fallback
}
