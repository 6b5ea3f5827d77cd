package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/analytics"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/evaluator"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/handler"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/i18n"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/llm"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/llm/prompts"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/lock"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/metrics"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/profile"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/retry"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/session"
	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/store"
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tracker",
		Short: "Adaptive skill rating and assessment scoring service",
	}

	serve := serveCmd()
	root.AddCommand(serve, reportCmd(), seedCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `tracker --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP assessment server",
		RunE:  runServe,
	}
	def := model.DefaultEngineConfig()
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "tracker.db", "SQLite database path")
	f.StringSlice("seed", nil, "Seed JSON files imported at startup (repeatable)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.StringSlice("models", def.OracleModels, "Model identities consulted for every free-text answer; scores are averaged, so list at least two (repeatable)")
	f.String("generator-model", "", "Model used to generate questions (default: first of --models)")
	f.Bool("llm-check", true, "Fail startup when the LLM endpoint is unreachable")
	f.String("prompt-variant", string(prompts.PromptStandard), "Scoring prompt variant (strict, standard, lenient)")
	f.Duration("oracle-timeout", def.OracleTimeout, "Timeout for a single oracle call")
	f.Int("eval-attempts", def.EvalAttempts, "Scoring attempts per answer before reporting an evaluation failure")
	f.Duration("eval-retry-delay", def.EvalRetryDelay, "Delay between scoring attempts")
	f.Int("pass-threshold", def.PassThreshold, "Session score counted as a win")
	f.Float64("k-factor", def.KFactor, "ELO k-factor")
	f.Float64("skill-smoothing", def.SkillSmoothing, "Weight of the newest score in the skills profile (0-1]")
	f.Int("personalized-length", def.PersonalizedLength, "Questions per personalized session")
	f.Int("adaptive-max-questions", def.AdaptiveMaxQuestion, "Upper bound on questions per adaptive session")
	f.Int("step-up", def.StepUpThreshold, "Adaptive: score at or above raises difficulty")
	f.Int("step-down", def.StepDownThreshold, "Adaptive: score at or below lowers difficulty")
	f.Duration("stale-after", def.StaleAfter, "Idle in-progress sessions older than this count as abandoned")
	f.String("timezone", "UTC", "IANA time zone used for daily streaks")
	f.String("redis-url", "", "Redis URL for cross-instance session locks (default: in-process locks)")
	f.Duration("lock-wait", 45*time.Second, "How long a request waits for a busy session")
	f.StringP("lang", "l", "en", "Default response language (en, ms)")
	f.Duration("shutdown-timeout", 10*time.Second, "Grace period for in-flight requests on shutdown")
	addLogFlags(f)
	return cmd
}

func addLogFlags(f interface {
	String(name, value, usage string) *string
}) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("tracker")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/tracker")
	v.AddConfigPath("/etc/tracker")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// engineConfig reads the assessment tunables from v.
func engineConfig(v *viper.Viper) (model.EngineConfig, error) {
	cfg := model.EngineConfig{
		PassThreshold:       v.GetInt("pass-threshold"),
		KFactor:             v.GetFloat64("k-factor"),
		SkillSmoothing:      v.GetFloat64("skill-smoothing"),
		PersonalizedLength:  v.GetInt("personalized-length"),
		AdaptiveMaxQuestion: v.GetInt("adaptive-max-questions"),
		StepUpThreshold:     v.GetInt("step-up"),
		StepDownThreshold:   v.GetInt("step-down"),
		OracleModels:        v.GetStringSlice("models"),
		OracleTimeout:       v.GetDuration("oracle-timeout"),
		EvalAttempts:        v.GetInt("eval-attempts"),
		EvalRetryDelay:      v.GetDuration("eval-retry-delay"),
		StaleAfter:          v.GetDuration("stale-after"),
	}

	loc, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return cfg, fmt.Errorf("load timezone: %w", err)
	}
	cfg.Location = loc

	switch {
	case len(cfg.OracleModels) == 0:
		return cfg, errors.New("at least one model is required")
	case cfg.SkillSmoothing <= 0 || cfg.SkillSmoothing > 1:
		return cfg, fmt.Errorf("skill-smoothing must be in (0, 1], got %v", cfg.SkillSmoothing)
	case cfg.StepDownThreshold >= cfg.StepUpThreshold:
		return cfg, fmt.Errorf("step-down (%d) must be below step-up (%d)", cfg.StepDownThreshold, cfg.StepUpThreshold)
	case cfg.PersonalizedLength < 1 || cfg.AdaptiveMaxQuestion < 1:
		return cfg, errors.New("session lengths must be positive")
	}
	if len(cfg.OracleModels) == 1 {
		slog.Warn("a single model scores every answer; pass --models more than once to cross-check", "model", cfg.OracleModels[0])
	}
	return cfg, nil
}

// newRedisClient parses url and checks the server answers.
func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	slog.Info("redis connected", "addr", opt.Addr, "db", opt.DB)
	return rdb, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := engineConfig(v)
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := importSeedFiles(ctx, db, v.GetStringSlice("seed")); err != nil {
		return fmt.Errorf("import seed files: %w", err)
	}

	lang := v.GetString("lang")
	bundle, err := i18n.New(lang)
	if err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// Create LLM oracle.
	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}
	promptSet, err := prompts.Load(prompts.PromptVariant(promptVariant))
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	oracle := llm.New(v.GetString("llm-url"), v.GetString("llm-key"))
	if v.GetBool("llm-check") {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.OracleTimeout)
		err := oracle.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "models", cfg.OracleModels)
	}

	m := metrics.NewManager()

	eval, err := evaluator.New(oracle, cfg.OracleModels, promptSet,
		evaluator.WithTimeout(cfg.OracleTimeout),
		evaluator.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("create evaluator: %w", err)
	}

	genModel := v.GetString("generator-model")
	if genModel == "" {
		genModel = cfg.OracleModels[0]
	}
	generator := llm.NewGenerator(oracle, genModel, promptSet, retry.Policy{
		MaxAttempts: cfg.EvalAttempts,
		Delay:       cfg.EvalRetryDelay,
		Backoff:     true,
	})

	var locker lock.Locker = lock.NewMemory(lock.WithWait(v.GetDuration("lock-wait")))
	if url := v.GetString("redis-url"); url != "" {
		rdb, err := newRedisClient(ctx, url)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = lock.NewRedis(rdb, lock.WithWait(v.GetDuration("lock-wait")))
	}

	profiles := profile.New(db, cfg, profile.WithMetrics(m))
	engine := session.New(db, eval, generator, profiles, cfg,
		session.WithLocker(locker),
		session.WithMetrics(m),
	)
	reports := analytics.NewAggregator(db, cfg.StaleAfter)

	h := handler.New(engine, reports, db, bundle,
		handler.WithMetrics(m),
		handler.WithHealthCheck("store", db.Ping),
	)

	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", srv.Addr,
			"llm_url", v.GetString("llm-url"),
			"models", cfg.OracleModels,
			"generator_model", genModel,
			"prompt_variant", promptVariant,
			"lang", lang,
			"redis", v.GetString("redis-url") != "",
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	stop()

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}
