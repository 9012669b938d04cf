package main

import (
	"testing"
	"time"

	"github.com/nbot-dev/nbot-diagnose/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagDefaultsMatchModels(t *testing.T) {
	fs := rootCmd.PersistentFlags()

	connectTimeout, err := fs.GetInt("connect-timeout")
	require.NoError(t, err)
	commandTimeout, err := fs.GetInt("command-timeout")
	require.NoError(t, err)

	assert.Equal(t, int(models.DefaultConnectTimeout/time.Second), connectTimeout)
	assert.Equal(t, int(models.DefaultCommandTimeout/time.Second), commandTimeout)

	port, err := fs.GetInt("port")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPort, port)

	user, err := fs.GetString("user")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultUser, user)
}
