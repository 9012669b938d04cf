// Package models contains the data structures used throughout nbot-diagnose.
package models

import "time"

// Defaults for the diagnostic run configuration.
const (
	DefaultPort           = 22
	DefaultUser           = "root"
	DefaultPasswordEnv    = "NBOT_SSH_PASSWORD"
	DefaultNbotDir        = "/opt/nbot"
	DefaultRemotePath     = "/tmp/nbot-diagnose.sh"
	DefaultConnectTimeout = 15 * time.Second
	DefaultCommandTimeout = 180 * time.Second

	// KeyPassphraseEnv names the environment variable holding the
	// passphrase for an encrypted private key, if one is needed.
	KeyPassphraseEnv = "NBOT_SSH_KEY_PASSPHRASE"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitRemoteFailed = 1
	ExitPrecondition = 2
)

// DiagnoseConfig holds the complete configuration for one diagnostic
// run. It is constructed once by the config parser and not mutated
// afterwards.
type DiagnoseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string // resolved: explicit flag or $PasswordEnv
	PasswordEnv    string
	KeyPath        string
	KeyPassphrase  string // resolved from $NBOT_SSH_KEY_PASSPHRASE
	NbotDir        string
	RemotePath     string
	KnownHostsPath string // empty = auto-accept unknown host keys
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// HasCredential reports whether at least one credential source
// resolved to a usable value.
func (c DiagnoseConfig) HasCredential() bool {
	return c.Password != "" || c.KeyPath != ""
}
