package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"intake-chatbot/internal/core"
	"intake-chatbot/internal/db"
	"intake-chatbot/internal/draft"
	httpserver "intake-chatbot/internal/http"
	"intake-chatbot/internal/llm"
	"intake-chatbot/internal/todo"

	_ "github.com/lib/pq"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intake-chatbot",
		Short: "Conversational symptom-intake service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
	flags := cmd.Flags()
	flags.String("config", "", "path to config file (yaml)")
	flags.String("port", "8080", "listen port")
	flags.String("store", "postgres", "store driver: postgres or bolt")
	flags.Bool("debug", false, "enable debug logging")
	_ = viper.BindPFlag("server.port", flags.Lookup("port"))
	_ = viper.BindPFlag("store.driver", flags.Lookup("store"))
	_ = viper.BindPFlag("log.debug", flags.Lookup("debug"))

	cobra.OnInitialize(func() {
		if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				fmt.Fprintln(os.Stderr, "config:", err)
				os.Exit(1)
			}
		}
		viper.SetEnvPrefix("intake")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()
		// Conventional names still work without the prefix.
		_ = viper.BindEnv("database.url", "INTAKE_DATABASE_URL", "DATABASE_URL")
		_ = viper.BindEnv("openai.api_key", "INTAKE_OPENAI_API_KEY", "OPENAI_API_KEY")
	})
	return cmd
}

func run(ctx context.Context) error {
	logger, err := newLogger(viper.GetBool("log.debug"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, notifier, err := openStore(ctx, logger)
	if err != nil {
		return err
	}

	generator := llm.NewOpenAIClient(llm.Config{
		APIKey:         viper.GetString("openai.api_key"),
		Model:          viper.GetString("openai.model"),
		BaseURL:        viper.GetString("openai.base_url"),
		RequestTimeout: viper.GetDuration("openai.request_timeout"),
	})

	limits := core.Limits{
		MaxIterations:         viper.GetInt("orchestrator.max_iterations"),
		MaxValidationAttempts: viper.GetInt("orchestrator.max_validation_attempts"),
		BackoffBase:           viper.GetDuration("orchestrator.backoff_base"),
		BackoffCap:            viper.GetDuration("orchestrator.backoff_cap"),
		HistoryWindow:         viper.GetInt("orchestrator.history_window"),
	}

	todos := todo.NewQueue(store)
	drafts := draft.NewStore(store)
	linker := core.NewLinker(viper.GetFloat64("linker.confidence_hint"))
	dispatcher := core.NewDispatcher(store, todos, logger)
	orch := core.NewOrchestrator(generator, dispatcher, linker, limits, logger)
	session := core.NewSession(orch, store, drafts, todos, linker, logger)
	if notifier != nil {
		session.OnCommit = func(ctx context.Context, recordID string) {
			if err := notifier.Notify(ctx, recordID); err != nil {
				logger.Warn("commit notification failed", zap.Error(err))
			}
		}
	}

	// Offer resume of an unexpired draft on startup.
	if resumed, err := session.Resume(ctx); err != nil {
		logger.Warn("draft resume failed", zap.Error(err))
	} else if resumed {
		logger.Info("in-flight conversation restored from draft")
	}

	srv := httpserver.NewServer(session, store, todos, notifier, logger)
	addr := ":" + viper.GetString("server.port")
	logger.Info("listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, srv)
}

func openStore(ctx context.Context, logger *zap.Logger) (db.Store, *db.Notifier, error) {
	switch driver := viper.GetString("store.driver"); driver {
	case "postgres":
		dbURL := viper.GetString("database.url")
		if dbURL == "" {
			return nil, nil, fmt.Errorf("database.url must be set for the postgres store")
		}
		conn, err := sql.Open("postgres", dbURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := conn.PingContext(pingCtx); err != nil {
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		if err := db.Migrate(ctx, conn); err != nil {
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		channel := viper.GetString("database.notify_channel")
		if channel == "" {
			channel = "record_commits"
		}
		logger.Info("using postgres store")
		return db.NewPostgres(conn), db.NewNotifier(conn, dbURL, channel), nil
	case "bolt":
		path := viper.GetString("store.bolt_path")
		if path == "" {
			path = "intake.bolt"
		}
		store, err := db.OpenBolt(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt store: %w", err)
		}
		logger.Info("using bolt store", zap.String("path", path))
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q (expected postgres or bolt)", driver)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}
