// Package config provides configuration resolution for a diagnostic run.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nbot-dev/nbot-diagnose/internal/models"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Parser resolves the run configuration from flags, an optional YAML
// file, and documented defaults. Explicit flags win over file values,
// file values win over defaults.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser with all defaults
// registered.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("port", models.DefaultPort)
	v.SetDefault("user", models.DefaultUser)
	v.SetDefault("password-env", models.DefaultPasswordEnv)
	v.SetDefault("nbot-dir", models.DefaultNbotDir)
	v.SetDefault("remote-path", models.DefaultRemotePath)
	v.SetDefault("connect-timeout", int(models.DefaultConnectTimeout/time.Second))
	v.SetDefault("command-timeout", int(models.DefaultCommandTimeout/time.Second))

	return &Parser{v: v}
}

// BindFlags registers a cobra flag set so that explicitly set flags
// take precedence over file values and defaults.
func (p *Parser) BindFlags(fs *pflag.FlagSet) error {
	return p.v.BindPFlags(fs)
}

// Load resolves the configuration without a config file.
func (p *Parser) Load() (*models.DiagnoseConfig, error) {
	return p.parse()
}

// LoadFile resolves the configuration with values from a YAML file.
func (p *Parser) LoadFile(path string) (*models.DiagnoseConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader resolves the configuration from YAML content (useful for
// testing).
func (p *Parser) LoadReader(content string) (*models.DiagnoseConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

func (p *Parser) parse() (*models.DiagnoseConfig, error) {
	cfg := &models.DiagnoseConfig{
		Host:           p.v.GetString("host"),
		Port:           p.v.GetInt("port"),
		User:           p.v.GetString("user"),
		Password:       p.v.GetString("password"),
		PasswordEnv:    p.v.GetString("password-env"),
		KeyPath:        p.expandEnv(p.v.GetString("key")),
		NbotDir:        p.v.GetString("nbot-dir"),
		RemotePath:     p.v.GetString("remote-path"),
		KnownHostsPath: p.expandEnv(p.v.GetString("known-hosts")),
		ConnectTimeout: time.Duration(p.v.GetInt("connect-timeout")) * time.Second,
		CommandTimeout: time.Duration(p.v.GetInt("command-timeout")) * time.Second,
	}

	if cfg.Port <= 0 {
		cfg.Port = models.DefaultPort
	}
	if cfg.User == "" {
		cfg.User = models.DefaultUser
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = models.DefaultConnectTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = models.DefaultCommandTimeout
	}

	// Password resolution order: explicit value, then the named
	// environment variable, then absent.
	if cfg.Password == "" && cfg.PasswordEnv != "" {
		cfg.Password = os.Getenv(cfg.PasswordEnv)
	}

	cfg.KeyPassphrase = os.Getenv(models.KeyPassphraseEnv)

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate checks the local preconditions of a run. A validation
// failure means no network I/O may be attempted.
func Validate(cfg *models.DiagnoseConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Host == "" {
		return fmt.Errorf("host is required")
	}

	if !cfg.HasCredential() {
		return fmt.Errorf(
			"no auth provided: pass --key /path/to/id_rsa, set %s=..., or pass --password ...",
			cfg.PasswordEnv,
		)
	}

	return nil
}
