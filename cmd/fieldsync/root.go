package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperengineering/fieldsync"
	"github.com/hyperengineering/fieldsync/internal/authority"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Configuration keys. With the FIELDSYNC_ prefix they double as the
// environment variable names.
const (
	keyDBPath        = "db_path"
	keyCollection    = "collection"
	keyRemoteURL     = "remote_url"
	keyAPIKey        = "api_key"
	keyProbeInterval = "probe_interval"
	keyDebug         = "debug"
	keyLog           = "log"
)

const (
	probeTimeout    = 5 * time.Second
	identityTimeout = 15 * time.Second
)

var (
	cfgFile    string
	outputJSON bool

	settings = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "fieldsync - offline-first field job records",
	Long: `fieldsync keeps field job records in a local SQLite store and syncs
them with a remote authority whenever it is reachable.

Every change is written locally first and queued; queued changes are
replayed when the client is online, and remote changes made by other
clients are applied to the local store as they arrive.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return readConfigFile()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default: ~/.fieldsync/config.yaml)")
	flags.String("db-path", "", "Path to local database (default: ~/.fieldsync/stores/<collection>/fieldsync.db)")
	flags.String("collection", "", "Collection name (default: jobs)")
	flags.String("remote-url", "", "URL of the remote authority; empty runs offline")
	flags.String("api-key", "", "API key for the remote authority")
	flags.Duration("probe-interval", 15*time.Second, "Connectivity probe interval while watching")
	flags.Bool("debug", false, "Enable debug logging")
	flags.String("log", "", "Write logs to this file instead of stderr")
	flags.BoolVar(&outputJSON, "json", false, "Output as JSON")

	bindFlag(keyDBPath, "db-path")
	bindFlag(keyCollection, "collection")
	bindFlag(keyRemoteURL, "remote-url")
	bindFlag(keyAPIKey, "api-key")
	bindFlag(keyProbeInterval, "probe-interval")
	bindFlag(keyDebug, "debug")
	bindFlag(keyLog, "log")

	settings.SetEnvPrefix("FIELDSYNC")
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
}

func bindFlag(key, flag string) {
	if err := settings.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

// readConfigFile loads the optional YAML config. Flags and environment
// variables take precedence over its values.
func readConfigFile() error {
	if cfgFile != "" {
		settings.SetConfigFile(cfgFile)
		return settings.ReadInConfig()
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	settings.SetConfigFile(filepath.Join(home, ".fieldsync", "config.yaml"))
	if err := settings.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// loadConfig builds the client configuration from flags, environment and
// config file, in that order of precedence.
func loadConfig() fieldsync.Config {
	return fieldsync.Config{
		LocalPath:     settings.GetString(keyDBPath),
		Collection:    settings.GetString(keyCollection),
		RemoteURL:     settings.GetString(keyRemoteURL),
		APIKey:        settings.GetString(keyAPIKey),
		ProbeInterval: settings.GetDuration(keyProbeInterval),
		Debug:         settings.GetBool(keyDebug),
		LogPath:       settings.GetString(keyLog),
	}
}

// openClient creates a client for the configured collection, backed by
// the HTTP authority when a remote URL is set.
func openClient(opts ...fieldsync.Option) (*fieldsync.Client, fieldsync.Config, error) {
	cfg := loadConfig().WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, cfg, err
	}

	logger := fieldsync.NewLogger(cfg.Debug, cfg.LogPath)
	if !cfg.Debug && cfg.LogPath == "" {
		logger.SetLevel(log.WarnLevel)
	}
	opts = append([]fieldsync.Option{fieldsync.WithLogger(logger)}, opts...)
	var remote *authority.HTTPClient
	if !cfg.IsOffline() {
		remote = authority.NewHTTPClient(cfg.RemoteURL, cfg.APIKey).WithLogger(logger)
		opts = append(opts, fieldsync.WithAuthority(remote))
	}

	client, err := fieldsync.New(cfg, opts...)
	if err != nil {
		return nil, cfg, err
	}
	if remote != nil {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		if err := remote.HealthCheck(ctx); err != nil {
			logger.WithField("err", err).Debug("remote authority unreachable, working offline")
			client.SetOnline(false)
		}
	}
	return client, cfg, nil
}
