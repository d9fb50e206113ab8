package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/IMBotPlatform/IMBotGuard/pkg/ai"
	"github.com/IMBotPlatform/IMBotGuard/pkg/audit"
	"github.com/IMBotPlatform/IMBotGuard/pkg/auth"
	"github.com/IMBotPlatform/IMBotGuard/pkg/command"
	"github.com/IMBotPlatform/IMBotGuard/pkg/config"
	"github.com/IMBotPlatform/IMBotGuard/pkg/platform/guard"
	"github.com/IMBotPlatform/IMBotGuard/pkg/platform/web"
	"github.com/IMBotPlatform/IMBotGuard/pkg/proxy"
	"github.com/IMBotPlatform/IMBotGuard/pkg/session"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "imbotguard",
	Short:         "Policy-guarded LLM chat proxy",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP proxy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var reportsCmd = &cobra.Command{
	Use:   "reports <user>",
	Short: "Print a user's audited interactions as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openAuditLog(cfg.Audit)
		if err != nil {
			return err
		}
		defer log.Close()

		records, err := log.Fetch(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("fetch records: %w", err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "imbotguard.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, reportsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if lc.Level != "" {
		level, err := zap.ParseAtomicLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zc.Build()
}

func openAuditLog(ac config.AuditConfig) (audit.Log, error) {
	opts := []audit.Option{
		audit.WithDir(ac.Dir),
		audit.WithSQLitePath(ac.SQLitePath),
		audit.WithKeyPrefix(ac.KeyPrefix),
		audit.WithLogger(logger.Named("audit")),
	}
	driver := audit.Driver(strings.ToLower(ac.Driver))
	if driver == audit.DriverRedis {
		opts = append(opts, audit.WithRedisClient(redis.NewClient(&redis.Options{
			Addr: ac.RedisAddr,
			DB:   ac.RedisDB,
		})))
	}
	return audit.Open(driver, opts...)
}

func serve(ctx context.Context) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// 1) 审核平台客户端与令牌校验。
	platform := guard.NewClient(cfg.Upstream.BaseURL,
		guard.WithTimeout(cfg.GetUpstreamTimeout()),
		guard.WithLogger(logger.Named("guard")),
	)
	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTAlgorithm)
	if err != nil {
		return err
	}

	// 2) 会话、模型解析与审计日志。
	sessions := session.NewMemoryStore()
	factory := ai.NewFactory(
		ai.WithBaseURL(ai.EngineOpenAI, cfg.Engines.OpenAIBaseURL),
		ai.WithBaseURL(ai.EngineAnthropic, cfg.Engines.AnthropicBaseURL),
	)
	resolver := ai.NewResolver(platform, platform,
		ai.WithProviderFactory(factory),
		ai.WithResolveTimeout(2*cfg.GetUpstreamTimeout()),
		ai.WithLogger(logger.Named("resolver")),
	)
	log, err := openAuditLog(cfg.Audit)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer log.Close()

	// 3) 编排器、账户与门户命令。
	orch := proxy.New(sessions, resolver, platform, log,
		proxy.WithLogger(logger.Named("proxy")),
		proxy.WithCompletionTimeout(cfg.GetCompletionTimeout()),
		proxy.WithModerationTimeout(cfg.GetModerationTimeout()),
		proxy.WithResponseModeration(cfg.Moderation.ModerateResponses),
	)
	accounts := proxy.NewAccounts(sessions, platform, verifier, logger.Named("accounts"))
	commands := command.NewManager(proxy.NewCommandFactory(accounts, log),
		command.WithLogger(logger.Named("command")),
	)

	// 4) HTTP 服务。
	handlers := web.NewHandlers(accounts, orch, commands, log, cfg.Server.CookieName, logger.Named("http"))
	server := web.NewServer(cfg.Server.Listen, web.NewRouter(handlers, cfg.Server.CORSOrigins), logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// 等待后台审核与审计写完，再关闭审计日志。
	orch.Wait()
	logger.Info("shutdown complete")
	return nil
}
