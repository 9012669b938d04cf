// Package runner orchestrates the diagnostic workflow.
package runner

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/nbot-dev/nbot-diagnose/internal/config"
	"github.com/nbot-dev/nbot-diagnose/internal/models"
	"github.com/nbot-dev/nbot-diagnose/internal/payload"
	"github.com/nbot-dev/nbot-diagnose/internal/services/ssh"
	"github.com/rs/zerolog"
)

// Service defines the interface for the diagnostic runner.
type Service interface {
	Run(ctx context.Context, cfg models.DiagnoseConfig) (int, error)
}

// PayloadLoader loads the local diagnostic script.
type PayloadLoader interface {
	Path() string
	Load() ([]byte, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	sshSvc ssh.Service
	loader PayloadLoader
	logger zerolog.Logger
	stdout io.Writer
	stderr io.Writer
}

// New creates a new runner service reading the script from the
// binary's own directory and relaying to the process streams.
func New(logger zerolog.Logger) (*Impl, error) {
	loader, err := payload.New()
	if err != nil {
		return nil, err
	}

	return &Impl{
		sshSvc: ssh.New(logger),
		loader: loader,
		logger: logger,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}, nil
}

// NewWithServices creates a new runner service with custom
// dependencies (for testing).
func NewWithServices(
	logger zerolog.Logger,
	sshSvc ssh.Service,
	loader PayloadLoader,
	stdout io.Writer,
	stderr io.Writer,
) *Impl {
	return &Impl{
		sshSvc: sshSvc,
		loader: loader,
		logger: logger,
		stdout: stdout,
		stderr: stderr,
	}
}

// Run executes the complete workflow: local precondition checks, one
// remote session, output relay. It returns the process exit code and
// the failure, if any. Both local precondition checks happen before
// any network I/O.
func (s *Impl) Run(ctx context.Context, cfg models.DiagnoseConfig) (int, error) {
	startTime := time.Now()

	if err := config.Validate(&cfg); err != nil {
		return models.ExitPrecondition, err
	}

	script, err := s.loader.Load()
	if err != nil {
		return models.ExitPrecondition, err
	}

	s.logger.Info().
		Str("host", cfg.Host).
		Str("script", s.loader.Path()).
		Str("remote_path", cfg.RemotePath).
		Msg("starting diagnostic run")

	result, err := s.sshSvc.Diagnose(ctx, cfg, script)
	if err != nil {
		return models.ExitRemoteFailed, err
	}
	if result.Error != nil {
		return models.ExitRemoteFailed, result.Error
	}

	// Relay the captured streams, preserving separation: remote stdout
	// to our stdout, remote stderr to our stderr.
	if result.Stdout != "" {
		if _, err := io.WriteString(s.stdout, result.Stdout); err != nil {
			return models.ExitRemoteFailed, err
		}
	}
	if result.Stderr != "" {
		if _, err := io.WriteString(s.stderr, result.Stderr); err != nil {
			return models.ExitRemoteFailed, err
		}
	}

	s.logger.Info().
		Int("exit_code", result.ExitCode).
		Dur("duration", time.Since(startTime)).
		Msg("diagnostic run completed")

	return result.ExitCode, nil
}
