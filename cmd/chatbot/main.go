package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pandapoll/chatbot/internal/api"
	"github.com/pandapoll/chatbot/internal/artifact"
	"github.com/pandapoll/chatbot/internal/auth"
	"github.com/pandapoll/chatbot/internal/chat"
	"github.com/pandapoll/chatbot/internal/config"
	"github.com/pandapoll/chatbot/internal/history"
	"github.com/pandapoll/chatbot/internal/llm"
	"github.com/pandapoll/chatbot/internal/logging"
	"github.com/pandapoll/chatbot/internal/ratelimit"
	"github.com/pandapoll/chatbot/internal/rewriter"
	"github.com/pandapoll/chatbot/internal/session"
	"github.com/pandapoll/chatbot/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatbot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logging.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer db.Close()

	client, err := newLLM(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	limiter, sweep, closeLimiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	defer closeLimiter()

	budget := history.Budget{Tokens: cfg.HistoryTokenLimit, MaxMessages: cfg.HistoryMaxMessages}

	locks := session.NewManager()
	chatSvc := chat.NewService(db, client, locks, chat.Options{
		Budget:    budget,
		MaxTokens: cfg.LLMMaxTokens,
		SpanMode:  artifact.ParseSpanMode(cfg.ArtifactSpanMode),
	}, log)
	rewriteSvc := rewriter.NewService(db, chatSvc.Artifacts(), client, budget, log)

	// Periodic cleanup of idle per-session locks and expired rate windows
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n := locks.Cleanup(time.Hour)
				if sweep != nil {
					sweep()
				}
				log.Debug("cleanup", zap.Int("locks_removed", n))
			}
		}
	}()

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.NewRouter(api.Deps{
			Chat:     chatSvc,
			Rewriter: rewriteSvc,
			Verifier: auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTAudience),
			Limiter:  limiter,
			Origins:  cfg.AllowedOrigins,
			Log:      log,
		}),
		ReadTimeout: 10 * time.Second,
		// model calls can take well over a minute
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.StoreDriver),
			zap.String("provider", cfg.LLMProvider),
			zap.String("model", cfg.LLMModel),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	chatSvc.Wait()
	log.Info("stopped")
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return store.OpenPostgres(cfg.DatabaseURL)
	case config.DriverSQLite:
		return store.OpenSQLite(filepath.Join(cfg.DataDir, "chatbot.sqlite"))
	default:
		return store.NewBoltStore(filepath.Join(cfg.DataDir, "chatbot.db"))
	}
}

func newLLM(ctx context.Context, cfg *config.Config, log *zap.Logger) (llm.Client, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.LLMModel, log), nil
	case config.ProviderGemini:
		return llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.LLMModel, log)
	default:
		return llm.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.LLMModel, log), nil
	}
}

// newLimiter returns the Redis limiter when REDIS_URL is set. The sweep func
// is nil for Redis, whose keys expire on their own. The close func releases
// the Redis connection pool and is a no-op for the in-memory limiter.
func newLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, func(), func() error, error) {
	if cfg.RedisURL == "" {
		m := ratelimit.NewMemory(cfg.RateLimitPerMinute)
		return m, m.Sweep, func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return ratelimit.NewRedis(rdb, cfg.RateLimitPerMinute), nil, rdb.Close, nil
}
