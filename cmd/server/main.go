package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/meetrelay/internal/app"
	"github.com/vovakirdan/meetrelay/internal/auth"
	"github.com/vovakirdan/meetrelay/internal/config"
	"github.com/vovakirdan/meetrelay/internal/log"
)

var version = "dev"

type rootFlags struct {
	configPath string
	addr       string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:          "meetrelay",
		Short:        "WebRTC signaling relay for live classrooms",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&flags.addr, "addr", "", "HTTP listen address")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format (console, json)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the signaling server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), flags)
			},
		},
		newConfigCmd(flags),
		newTokenCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func loadConfig(flags *rootFlags) (config.Config, string, error) {
	bootLogger := log.NewWithWriter(os.Stderr, "info", "console")
	cfg, path, err := config.Load(bootLogger, flags.configPath)
	if err != nil {
		return cfg, path, err
	}
	cfg.UpdateFrom(config.Config{
		Addr:      flags.addr,
		LogLevel:  flags.logLevel,
		LogFormat: flags.logFormat,
	})
	return cfg, path, nil
}

func serve(ctx context.Context, flags *rootFlags) error {
	cfg, path, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.New(cfg.LogLevel, cfg.LogFormat)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize application")
		return err
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Str("config", path).
		Bool("auth", cfg.JWTSecret != "").
		Strs("origins", cfg.AllowedOrigins).
		Msg("starting meeting relay")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newConfigCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(flags)
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newTokenCmd(flags *rootFlags) *cobra.Command {
	var (
		userID int64
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development token signed with the configured secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("jwt_secret is not configured")
			}
			token, err := auth.GenerateToken(&auth.JWTConfig{
				Secret:   []byte(cfg.JWTSecret),
				Issuer:   cfg.JWTIssuer,
				Audience: cfg.JWTAudience,
				TTL:      ttl,
			}, userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id to embed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
