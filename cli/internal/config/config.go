// Package config loads CLI configuration from files and environment.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

var AppFs = afero.NewOsFs()

// Config holds the application configuration
type Config struct {
	DatabaseURL         string
	Provider            string
	Environment         string
	AdminKey            string
	RequireConfirmation bool
	Actor               string
	MigrationsDir       string
	Debug               bool
}

// LoadConfig loads configuration from config files, .env files and
// environment variables, in increasing order of priority.
func LoadConfig() (*Config, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}

	viper.SetConfigName(".schemaguard")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(home)
	viper.AddConfigPath(filepath.Join(home, ".config", "schemaguard"))

	viper.SetEnvPrefix("SCHEMAGUARD")
	viper.AutomaticEnv()

	viper.SetDefault("environment", "development")
	viper.SetDefault("provider", "postgres")
	viper.SetDefault("require_confirmation", true)
	viper.SetDefault("migrations_dir", "./migrations")
	viper.SetDefault("debug", false)

	// Config file is optional.
	_ = viper.ReadInConfig()

	// Load .env if it exists
	if _, err := AppFs.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	// .env.local overrides .env
	if _, err := AppFs.Stat(".env.local"); err == nil {
		_ = godotenv.Overload(".env.local")
	}

	cfg := &Config{
		DatabaseURL:         firstNonEmpty(os.Getenv("DATABASE_URL"), viper.GetString("database_url")),
		Provider:            viper.GetString("provider"),
		Environment:         viper.GetString("environment"),
		AdminKey:            firstNonEmpty(os.Getenv("SCHEMAGUARD_ADMIN_KEY"), viper.GetString("admin_key")),
		RequireConfirmation: viper.GetBool("require_confirmation"),
		Actor:               viper.GetString("actor"),
		MigrationsDir:       viper.GetString("migrations_dir"),
		Debug:               viper.GetBool("debug"),
	}

	if cfg.Actor == "" {
		cfg.Actor = osActor()
	}

	return cfg, nil
}

// Validate checks the fields every database-touching command needs.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	switch c.Provider {
	case "postgres", "postgresql", "mysql", "sqlite", "sqlite3":
		return nil
	default:
		return fmt.Errorf("unsupported provider: %s", c.Provider)
	}
}

// DriverName maps the provider to its database/sql driver.
func (c *Config) DriverName() string {
	switch c.Provider {
	case "postgres", "postgresql":
		return "postgres"
	case "mysql":
		return "mysql"
	default:
		return "sqlite3"
	}
}

// CurrentActor satisfies the engine's identity provider.
func (c *Config) CurrentActor() string {
	return c.Actor
}

func osActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(os.Getenv("USER"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
