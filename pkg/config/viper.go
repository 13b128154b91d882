// Package config is responsible for initializing the application's configuration.
// It uses the Viper library to read settings from a config file, a .env file,
// environment variables, and command-line flags, providing a unified
// configuration system.
package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	appconfig "github.com/JakeFAU/pubsearch/internal/config"
	"github.com/JakeFAU/pubsearch/internal/logging"
)

// InitConfig initializes the global Viper instance. path, when set, names the
// config file explicitly; otherwise config.{yaml,toml,json} is searched for.
// It is designed to be called once at application startup.
func InitConfig(path string) {
	// --- .env ---
	// Values already in the environment win over the file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.L.Warn("Error reading .env file", zap.Error(err))
	}

	// --- Set Search Paths ---
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")                // Current working directory
		viper.AddConfigPath("/etc/pubsearch/")  // System-wide configuration
		viper.AddConfigPath("$HOME/.pubsearch") // User-specific configuration
	}

	// --- Set Defaults ---
	appconfig.SetDefaults(viper.GetViper())

	// --- Environment Variables ---
	// e.g. PUBSEARCH_CRAWLER_WORKERS=5, or DATA_DIR=/srv/pubs
	if err := appconfig.BindEnv(viper.GetViper()); err != nil {
		logging.L.Error("Error binding environment variables", zap.Error(err))
	}

	// --- Read Config File ---
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Defaults and environment variables are enough to run.
			logging.L.Debug("Config file not found; using defaults and environment variables.")
		} else {
			logging.L.Error("Error reading config file", zap.Error(err))
		}
	} else {
		logging.L.Info("Using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}
