package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spyton/buybot"
	"github.com/spyton/buybot/bot"
	"github.com/spyton/buybot/core"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// Command line flags
var (
	configFile string
	dbPath     string
)

func main() {
	// Create root command
	rootCmd := &cobra.Command{
		Use:     "buybot",
		Short:   "DEX buy watcher with Telegram alerts",
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path (e.g. ./buybot.yml)")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "", "Database file path")

	// Add commands
	rootCmd.AddCommand(buildRunCmd())

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start watching tracked pairs and serving Telegram commands",
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, _ []string) error {
	// .env is optional; real deployments use environment variables
	_ = godotenv.Load()

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instance, err := bot.NewBot(settings, buybot.DefaultLog)
	if err != nil {
		return err
	}

	if err := instance.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	buybot.DefaultLog.Info("shutting down")
	return nil
}

// loadSettings merges the defaults with the config file and environment.
// Environment variables use the BUYBOT_ prefix with underscores, for
// example BUYBOT_TELEGRAM_TOKEN.
func loadSettings() (*core.Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("buybot")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	settings := core.DefaultSettings()

	settings.Telegram.Token = pick(v, "telegram.token", "telegram_token")
	settings.Telegram.Enabled = settings.Telegram.Token != ""
	if admins := v.GetIntSlice("telegram.admins"); len(admins) > 0 {
		settings.Telegram.Admins = make([]int64, 0, len(admins))
		for _, id := range admins {
			settings.Telegram.Admins = append(settings.Telegram.Admins, int64(id))
		}
	}

	if err := overrideDuration(v, "poll.interval", &settings.Poll.Interval); err != nil {
		return nil, err
	}
	if err := overrideDuration(v, "poll.timeout", &settings.Poll.Timeout); err != nil {
		return nil, err
	}
	if workers := v.GetInt("poll.workers"); workers > 0 {
		settings.Poll.Workers = workers
	}

	if err := overrideDuration(v, "dedup.ttl", &settings.Dedup.TTL); err != nil {
		return nil, err
	}
	if err := overrideDuration(v, "burst.window", &settings.Burst.Window); err != nil {
		return nil, err
	}
	if err := overrideDuration(v, "market.price_ttl", &settings.Market.PriceTTL); err != nil {
		return nil, err
	}

	if u := v.GetString("sources.ston.base_url"); u != "" {
		settings.Sources.Ston.BaseURL = u
	}
	if u := v.GetString("sources.dedust.base_url"); u != "" {
		settings.Sources.DeDust.BaseURL = u
	}

	if path := pick(v, "storage.path", "storage_path"); path != "" {
		settings.Storage.Path = path
	}
	if dbPath != "" {
		settings.Storage.Path = dbPath
	}

	return &settings, nil
}

// pick returns the first non-empty value among config keys. The second key
// form matches flat environment variables.
func pick(v *viper.Viper, keys ...string) string {
	for _, key := range keys {
		if value := v.GetString(key); value != "" {
			return value
		}
	}
	return ""
}

// overrideDuration parses human-friendly durations such as "1m30s" or "2h".
func overrideDuration(v *viper.Viper, key string, target *time.Duration) error {
	raw := v.GetString(key)
	if raw == "" {
		return nil
	}

	parsed, err := str2duration.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", key, err)
	}

	*target = parsed
	return nil
}
