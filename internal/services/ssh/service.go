// Package ssh manages the remote diagnostic session: one authenticated
// connection, one script upload, one execution, one exit status.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nbot-dev/nbot-diagnose/internal/models"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Service defines the interface for the remote diagnostic run.
type Service interface {
	Diagnose(ctx context.Context, cfg models.DiagnoseConfig, script []byte) (*models.ExecutionResult, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	OpenTransfer() (FileTransfer, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking. Run executes one remote
// command with stdout and stderr kept separate.
type SSHSession interface {
	Run(cmd string, stdout, stderr io.Writer) error
	Close() error
}

// FileTransfer wraps the SFTP channel for mocking.
type FileTransfer interface {
	WriteFile(path string, data []byte) error
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) OpenTransfer() (FileTransfer, error) {
	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, err
	}
	return &defaultFileTransfer{client: client}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) Run(cmd string, stdout, stderr io.Writer) error {
	s.session.Stdout = stdout
	s.session.Stderr = stderr
	return s.session.Run(cmd)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

type defaultFileTransfer struct {
	client *sftp.Client
}

// WriteFile writes data to path, overwriting any existing file.
func (t *defaultFileTransfer) WriteFile(path string, data []byte) error {
	f, err := t.client.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (t *defaultFileTransfer) Close() error {
	return t.client.Close()
}

// syncBuffer is a goroutine-safe output buffer. A timed-out or
// canceled command leaves its Run goroutine behind, which may still be
// writing when the caller reads the captured output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Impl implements the SSH Service interface.
type Impl struct {
	clientFactory ClientFactory
	logger        zerolog.Logger
}

// New creates a new SSH service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		logger:        logger,
	}
}

// NewWithClientFactory creates a new SSH service with a custom client
// factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		logger:        logger,
	}
}

func (s *Impl) buildClientConfig(cfg models.DiagnoseConfig) (*ssh.ClientConfig, error) {
	var auth ssh.AuthMethod

	switch {
	case cfg.KeyPath != "":
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.KeyPath, err)
		}

		var signer ssh.Signer
		if cfg.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(cfg.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = ssh.PublicKeys(signer)
	case cfg.Password != "":
		auth = ssh.Password(cfg.Password)
	default:
		return nil, fmt.Errorf("no credential provided")
	}

	hostKeyCallback, err := hostKeyVerifier(cfg.KnownHostsPath)
	if err != nil {
		return nil, err
	}

	// Exactly one auth method: the declared credential is the sole
	// auth path, with no agent or key-search fallback.
	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.ConnectTimeout,
	}, nil
}

// Diagnose uploads the script, marks it executable, runs it with the
// NBOT_DIR override, and captures its output and exit status. The
// connection is closed exactly once on every exit path.
func (s *Impl) Diagnose(ctx context.Context, cfg models.DiagnoseConfig, script []byte) (*models.ExecutionResult, error) {
	result := &models.ExecutionResult{}

	sshConfig, err := s.buildClientConfig(cfg)
	if err != nil {
		result.Error = err
		return result, nil
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	s.logger.Info().
		Str("addr", addr).
		Str("user", cfg.User).
		Msg("connecting")

	client, err := s.dial(ctx, addr, sshConfig)
	if err != nil {
		result.Error = fmt.Errorf("SSH connect failed: %w", err)
		return result, nil
	}
	defer client.Close()

	if err := s.upload(client, cfg.RemotePath, script); err != nil {
		result.Error = fmt.Errorf("remote exec failed: %w", err)
		return result, nil
	}

	// Ensure executable.
	chmodCmd := fmt.Sprintf("chmod +x %s", cfg.RemotePath)
	if err := s.runCommand(ctx, client, chmodCmd, cfg.CommandTimeout, io.Discard, io.Discard); err != nil {
		result.Error = fmt.Errorf("remote exec failed: %w", err)
		return result, nil
	}

	// Run it with the NBOT_DIR override scoped to this one command.
	cmd := fmt.Sprintf("NBOT_DIR='%s' bash %s", cfg.NbotDir, cfg.RemotePath)

	s.logger.Debug().Str("command", cmd).Msg("executing diagnostic script")

	var stdout, stderr syncBuffer
	runErr := s.runCommand(ctx, client, cmd, cfg.CommandTimeout, &stdout, &stderr)

	// Invalid byte sequences become replacement characters rather
	// than failing the run.
	result.Stdout = strings.ToValidUTF8(stdout.String(), "�")
	result.Stderr = strings.ToValidUTF8(stderr.String(), "�")

	if runErr != nil {
		var exitErr interface{ ExitStatus() int }
		if errors.As(runErr, &exitErr) {
			// The script ran and reported its own status.
			result.CommandRun = true
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		result.Error = fmt.Errorf("remote exec failed: %w", runErr)
		return result, nil
	}

	result.CommandRun = true
	result.ExitCode = 0

	s.logger.Info().
		Int("exit_code", result.ExitCode).
		Msg("diagnostic script completed")

	return result, nil
}

func (s *Impl) dial(ctx context.Context, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	type dialResult struct {
		client SSHClient
		err    error
	}

	// Unbuffered: once the select below has given up, the send can
	// never complete and a late client gets closed instead of leaking.
	ch := make(chan dialResult)
	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, config)
		select {
		case ch <- dialResult{client, err}:
		case <-ctx.Done():
			if client != nil {
				_ = client.Close()
			}
		}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.client, res.err
	}
}

func (s *Impl) upload(client SSHClient, remotePath string, script []byte) error {
	transfer, err := client.OpenTransfer()
	if err != nil {
		return fmt.Errorf("failed to open transfer channel: %w", err)
	}

	s.logger.Debug().
		Str("remote_path", remotePath).
		Int("bytes", len(script)).
		Msg("uploading diagnostic script")

	if err := transfer.WriteFile(remotePath, script); err != nil {
		_ = transfer.Close()
		return fmt.Errorf("failed to upload script to %s: %w", remotePath, err)
	}

	if err := transfer.Close(); err != nil {
		return fmt.Errorf("failed to close transfer channel: %w", err)
	}

	return nil
}

// runCommand executes one remote command bounded by timeout. The
// session is closed on timeout so the call never hangs on a stuck
// remote.
func (s *Impl) runCommand(ctx context.Context, client SSHClient, cmd string, timeout time.Duration, stdout, stderr io.Writer) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd, stdout, stderr)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		_ = session.Close()
		return err
	case <-timer.C:
		_ = session.Close()
		return fmt.Errorf("command timed out after %s: %s", timeout, cmd)
	case <-ctx.Done():
		_ = session.Close()
		return ctx.Err()
	}
}
