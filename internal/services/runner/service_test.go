package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/nbot-dev/nbot-diagnose/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations.
type mockSSHService struct {
	diagnoseFunc func(ctx context.Context, cfg models.DiagnoseConfig, script []byte) (*models.ExecutionResult, error)
	calls        int
}

func (m *mockSSHService) Diagnose(ctx context.Context, cfg models.DiagnoseConfig, script []byte) (*models.ExecutionResult, error) {
	m.calls++
	if m.diagnoseFunc != nil {
		return m.diagnoseFunc(ctx, cfg, script)
	}
	return &models.ExecutionResult{CommandRun: true}, nil
}

type mockLoader struct {
	path     string
	loadFunc func() ([]byte, error)
}

func (m *mockLoader) Path() string {
	return m.path
}

func (m *mockLoader) Load() ([]byte, error) {
	if m.loadFunc != nil {
		return m.loadFunc()
	}
	return []byte("#!/bin/sh\n"), nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.DiagnoseConfig {
	return models.DiagnoseConfig{
		Host:           "192.168.1.50",
		Port:           22,
		User:           "root",
		Password:       "secret",
		PasswordEnv:    models.DefaultPasswordEnv,
		NbotDir:        models.DefaultNbotDir,
		RemotePath:     models.DefaultRemotePath,
		ConnectTimeout: models.DefaultConnectTimeout,
		CommandTimeout: models.DefaultCommandTimeout,
	}
}

func newTestRunner(sshSvc *mockSSHService, loader *mockLoader) (*Impl, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	svc := NewWithServices(testLogger(), sshSvc, loader, &stdout, &stderr)
	return svc, &stdout, &stderr
}

func TestRun_MissingCredential_Exit2(t *testing.T) {
	sshSvc := &mockSSHService{}
	svc, _, _ := newTestRunner(sshSvc, &mockLoader{path: "/opt/tools/diagnose.sh"})

	cfg := testConfig()
	cfg.Password = ""
	cfg.KeyPath = ""

	code, err := svc.Run(context.Background(), cfg)

	assert.Equal(t, models.ExitPrecondition, code)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no auth provided")
	assert.Equal(t, 0, sshSvc.calls, "no connection may be attempted")
}

func TestRun_MissingPayload_Exit2(t *testing.T) {
	sshSvc := &mockSSHService{}
	loader := &mockLoader{
		path: "/opt/tools/diagnose.sh",
		loadFunc: func() ([]byte, error) {
			return nil, errors.New("missing local script: /opt/tools/diagnose.sh")
		},
	}
	svc, _, _ := newTestRunner(sshSvc, loader)

	code, err := svc.Run(context.Background(), testConfig())

	assert.Equal(t, models.ExitPrecondition, code)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/opt/tools/diagnose.sh")
	assert.Equal(t, 0, sshSvc.calls, "payload failure must be detected before connecting")
}

func TestRun_ConnectFailure_Exit1(t *testing.T) {
	sshSvc := &mockSSHService{
		diagnoseFunc: func(ctx context.Context, cfg models.DiagnoseConfig, script []byte) (*models.ExecutionResult, error) {
			return &models.ExecutionResult{Error: errors.New("SSH connect failed: connection refused")}, nil
		},
	}
	svc, stdout, _ := newTestRunner(sshSvc, &mockLoader{path: "/opt/tools/diagnose.sh"})

	code, err := svc.Run(context.Background(), testConfig())

	assert.Equal(t, models.ExitRemoteFailed, code)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect")
	assert.Empty(t, stdout.String())
}

func TestRun_PassesScriptBytes(t *testing.T) {
	script := []byte("#!/bin/sh\necho hi\n")

	var captured []byte
	sshSvc := &mockSSHService{
		diagnoseFunc: func(ctx context.Context, cfg models.DiagnoseConfig, s []byte) (*models.ExecutionResult, error) {
			captured = s
			return &models.ExecutionResult{CommandRun: true}, nil
		},
	}
	loader := &mockLoader{
		path: "/opt/tools/diagnose.sh",
		loadFunc: func() ([]byte, error) {
			return script, nil
		},
	}
	svc, _, _ := newTestRunner(sshSvc, loader)

	code, err := svc.Run(context.Background(), testConfig())

	require.NoError(t, err)
	assert.Equal(t, models.ExitSuccess, code)
	assert.Equal(t, script, captured)
}

func TestRun_RelaysStdoutAndExitZero(t *testing.T) {
	sshSvc := &mockSSHService{
		diagnoseFunc: func(ctx context.Context, cfg models.DiagnoseConfig, script []byte) (*models.ExecutionResult, error) {
			return &models.ExecutionResult{
				CommandRun: true,
				Stdout:     "OK\n",
				ExitCode:   0,
			}, nil
		},
	}
	svc, stdout, stderr := newTestRunner(sshSvc, &mockLoader{path: "/opt/tools/diagnose.sh"})

	code, err := svc.Run(context.Background(), testConfig())

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "OK\n", stdout.String())
	assert.Empty(t, stderr.String())
}

func TestRun_StreamSeparationPreserved(t *testing.T) {
	sshSvc := &mockSSHService{
		diagnoseFunc: func(ctx context.Context, cfg models.DiagnoseConfig, script []byte) (*models.ExecutionResult, error) {
			return &models.ExecutionResult{
				CommandRun: true,
				Stdout:     "report\n",
				Stderr:     "warning: low disk\n",
				ExitCode:   0,
			}, nil
		},
	}
	svc, stdout, stderr := newTestRunner(sshSvc, &mockLoader{path: "/opt/tools/diagnose.sh"})

	code, err := svc.Run(context.Background(), testConfig())

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "report\n", stdout.String())
	assert.Equal(t, "warning: low disk\n", stderr.String())
}

func TestRun_PropagatesRemoteExitStatus(t *testing.T) {
	sshSvc := &mockSSHService{
		diagnoseFunc: func(ctx context.Context, cfg models.DiagnoseConfig, script []byte) (*models.ExecutionResult, error) {
			return &models.ExecutionResult{
				CommandRun: true,
				Stderr:     "containers unhealthy\n",
				ExitCode:   3,
			}, nil
		},
	}
	svc, stdout, stderr := newTestRunner(sshSvc, &mockLoader{path: "/opt/tools/diagnose.sh"})

	code, err := svc.Run(context.Background(), testConfig())

	require.NoError(t, err, "a non-zero script exit is not a run failure")
	assert.Equal(t, 3, code)
	assert.Empty(t, stdout.String())
	assert.Equal(t, "containers unhealthy\n", stderr.String())
}
