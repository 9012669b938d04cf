package main

import (
	"fmt"

	"github.com/nbot-dev/nbot-diagnose/internal/config"
	"github.com/nbot-dev/nbot-diagnose/internal/models"
	"github.com/nbot-dev/nbot-diagnose/internal/payload"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration and local payload without connecting",
	Long:  `Resolve flags, config file, and credentials, and check that the local diagnose.sh exists. No network I/O is performed.`,
	RunE:  validateRun,
}

func validateRun(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve configuration")
		return &exitError{code: models.ExitPrecondition, err: err}
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return &exitError{code: models.ExitPrecondition, err: err}
	}

	loader, err := payload.New()
	if err != nil {
		log.Error().Err(err).Msg("failed to locate payload")
		return &exitError{code: models.ExitPrecondition, err: err}
	}

	script, err := loader.Load()
	if err != nil {
		log.Error().Err(err).Msg("payload check failed")
		return &exitError{code: models.ExitPrecondition, err: err}
	}

	auth := "password"
	if cfg.KeyPath != "" {
		auth = "private key: " + cfg.KeyPath
	}

	hostKeys := "accept unknown hosts"
	if cfg.KnownHostsPath != "" {
		hostKeys = "known_hosts: " + cfg.KnownHostsPath
	}

	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Host: %s:%d\n", cfg.Host, cfg.Port)
	fmt.Printf("  User: %s\n", cfg.User)
	fmt.Printf("  Auth: %s\n", auth)
	fmt.Printf("  Host key policy: %s\n", hostKeys)
	fmt.Printf("  Remote path: %s\n", cfg.RemotePath)
	fmt.Printf("  NBOT_DIR: %s\n", cfg.NbotDir)
	fmt.Printf("  Connect timeout: %s\n", cfg.ConnectTimeout)
	fmt.Printf("  Command timeout: %s\n", cfg.CommandTimeout)
	fmt.Printf("  Local script: %s (%d bytes)\n", loader.Path(), len(script))

	return nil
}
