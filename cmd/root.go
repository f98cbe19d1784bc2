// Package cmd defines the CLI commands for the sipeto executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sipeto/internal/app"
	"github.com/JakeFAU/sipeto/internal/config"
	"github.com/JakeFAU/sipeto/internal/media"
)

type flags struct {
	configFile    string
	botConfigFile string
	envFile       string
}

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the application.
type App interface {
	Run(ctx context.Context) error
	Resolve(ctx context.Context, text string, download bool) (media.Result, error)
	RegisterWebhook(ctx context.Context) (bool, error)
	Close(ctx context.Context) error
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, opts app.Options) (App, error) {
	return app.Build(ctx, opts)
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "sipeto",
		Short: "Telegram bot that resolves and saves Instagram, Twitter and TikTok media.",
		Long: `sipeto receives Telegram webhook updates, finds Instagram, Twitter/X and
TikTok links in messages, resolves their media attributes through each
platform's API and stores the media file.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := loadOptions(f)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&f.configFile, "config", "", "service config file (YAML); env SIPETO_* overrides")
	cmd.PersistentFlags().StringVar(&f.botConfigFile, "bot-config", "", "bot JSON config (default bot.config_file)")
	cmd.PersistentFlags().StringVar(&f.envFile, "env-file", "", "dotenv file loaded before config (default .env when present)")

	cmd.AddCommand(newServeCmd(), newResolveCmd(), newWebhookCmd())
	return cmd
}

func loadOptions(f flags) (app.Options, error) {
	if err := config.LoadEnv(f.envFile); err != nil {
		return app.Options{}, err
	}
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return app.Options{}, fmt.Errorf("load config: %w", err)
	}
	botPath := f.botConfigFile
	if botPath == "" {
		botPath = cfg.Bot.ConfigFile
	}
	bot, err := config.LoadBotConfig(botPath)
	if err != nil {
		return app.Options{}, fmt.Errorf("load bot config: %w", err)
	}
	return app.Options{Config: cfg, BotConfig: bot}, nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// closeApp releases the app for commands that do not run the server.
func closeApp(ctx context.Context, a App) {
	if err := a.Close(ctx); err != nil {
		zap.L().Warn("failed to close application", zap.Error(err))
	}
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
