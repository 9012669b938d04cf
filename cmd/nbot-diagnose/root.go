package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nbot-dev/nbot-diagnose/internal/config"
	"github.com/nbot-dev/nbot-diagnose/internal/models"
	"github.com/nbot-dev/nbot-diagnose/internal/services/runner"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

// exitError carries the process exit code out of cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:   "nbot-diagnose",
	Short: "SSH into a server and run nBot docker diagnostics (non-interactive)",
	Long: `nbot-diagnose uploads the diagnose.sh script shipped next to the binary
to a remote host over SSH, runs it with NBOT_DIR pointing at the nBot
install directory, relays its stdout and stderr, and exits with the
script's own exit status.

Exit codes:
  0   remote script ran and exited 0
  N   remote script exited N
  1   connect, auth, transfer, or remote execution failure
  2   local precondition failure (missing credentials or diagnose.sh)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE:          runDiagnose,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "optional YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	fs := rootCmd.PersistentFlags()
	fs.String("host", "", "SSH host/IP (required)")
	fs.Int("port", models.DefaultPort, "SSH port")
	fs.String("user", models.DefaultUser, "SSH username")
	fs.String("password", "", "SSH password (NOT recommended; prefer env var or key)")
	fs.String("password-env", models.DefaultPasswordEnv, "env var name to read the SSH password from")
	fs.String("key", "", "SSH private key path (recommended)")
	fs.String("nbot-dir", models.DefaultNbotDir, "nBot install dir on remote host")
	fs.String("remote-path", models.DefaultRemotePath, "remote temp path to upload the script")
	fs.Int("connect-timeout", int(models.DefaultConnectTimeout/time.Second), "SSH connect timeout in seconds")
	fs.Int("command-timeout", int(models.DefaultCommandTimeout/time.Second), "remote command timeout in seconds")
	fs.String("known-hosts", "", "known_hosts file for strict host key verification (default: accept unknown hosts)")

	rootCmd.AddCommand(validateCmd)
}

// setupLogging pins all log output to stderr: stdout is reserved for
// the relayed remote stdout.
func setupLogging() {
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
}

// resolveConfig builds the run configuration from flags, the optional
// config file, and defaults.
func resolveConfig(cmd *cobra.Command) (*models.DiagnoseConfig, error) {
	parser := config.NewParser()
	if err := parser.BindFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	if configFile != "" {
		return parser.LoadFile(configFile)
	}
	return parser.Load()
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve configuration")
		return &exitError{code: models.ExitPrecondition, err: err}
	}

	// Set up context with signal handling.
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runnerSvc, err := runner.New(log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize runner")
		return &exitError{code: models.ExitPrecondition, err: err}
	}

	code, err := runnerSvc.Run(ctx, *cfg)
	if err != nil {
		log.Error().Err(err).Msg("diagnostic run failed")
	}
	if code != models.ExitSuccess {
		return &exitError{code: code, err: err}
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
