// toolgate serves tool queries against a slow, rate-limited data
// provider. Responses are cached in Redis with an in-memory fallback,
// identical concurrent queries share a single upstream request, and the
// shared upstream error budget gates all outgoing traffic.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/darven/toolgate/pkg/cache"
	"github.com/darven/toolgate/pkg/client"
	"github.com/darven/toolgate/pkg/logging"
	"github.com/darven/toolgate/pkg/ratelimit"
)

func main() {
	configPath := flag.String("config", os.Getenv("TOOLGATE_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// The resilient store falls back to memory when Redis is
		// unavailable, so startup proceeds.
		logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, serving from memory fallback")
	} else {
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	primary := cache.NewRedis[*client.Result](redisClient, "toolgate:cache:", cfg.Provider.DefaultTTL)
	fallback := cache.NewMemory[*client.Result](cfg.Provider.DefaultTTL)
	store := cache.NewResilient[*client.Result](primary, fallback, logger)

	retryCfg := client.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.Provider.MaxAttempts

	providerClient, err := client.New(client.Config{
		BaseURL:     cfg.Provider.BaseURL,
		UserAgent:   cfg.Provider.UserAgent,
		Store:       store,
		DefaultTTL:  cfg.Provider.DefaultTTL,
		WaitTimeout: cfg.Provider.WaitTimeout,
		HTTPTimeout: cfg.Provider.HTTPTimeout,
		Retry:       retryCfg,
		Limiter:     ratelimit.NewTracker(redisClient, logger),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create provider client")
	}
	defer providerClient.Close(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	mux.HandleFunc("/query/", queryHandler(providerClient, logger))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	go func() {
		logger.Info().
			Int("port", cfg.Server.Port).
			Str("provider", cfg.Provider.BaseURL).
			Msg("Starting toolgate server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	}
	redisClient.Close()
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readyHandler reports readiness. Redis being down degrades but does not
// stop the service, so readiness only fails when the check itself cannot
// run.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			http.Error(w, fmt.Sprintf("redis unavailable: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

// queryHandler proxies tool queries to the provider through the caching
// client. /query/tools/lookup?name=x maps to the provider endpoint
// /tools/lookup with the query string passed through.
func queryHandler(providerClient *client.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpoint := strings.TrimPrefix(r.URL.Path, "/query")
		if endpoint == "" || endpoint == "/" {
			http.Error(w, "missing endpoint path", http.StatusBadRequest)
			return
		}

		params, err := url.ParseQuery(r.URL.RawQuery)
		if err != nil {
			http.Error(w, "invalid query string", http.StatusBadRequest)
			return
		}

		result, err := providerClient.Fetch(r.Context(), endpoint, params)
		if err != nil {
			writeFetchError(w, logger, endpoint, err)
			return
		}

		if ct := result.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.Header().Set("X-Toolgate-Fetched-At", result.FetchedAt.UTC().Format(time.RFC3339))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(result.Data); err != nil {
			logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to write response")
		}
	}
}

func writeFetchError(w http.ResponseWriter, logger zerolog.Logger, endpoint string, err error) {
	logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Query failed")

	var provErr *client.ProviderError
	switch {
	case errors.As(err, &provErr) && provErr.Class == client.ErrorClassClient:
		http.Error(w, err.Error(), provErr.StatusCode)
	case errors.Is(err, client.ErrRequestBlocked):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}
