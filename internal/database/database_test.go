package database_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cpboard/cpboard/internal/database"
	"github.com/cpboard/cpboard/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// closedPort returns a local port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	return port
}

func TestNewConnectionUnreachable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := database.NewConnection(ctx, &config.PostgreSQL{
		Host:         "127.0.0.1",
		Port:         closedPort(t),
		User:         "cpboard",
		DBName:       "cpboard",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, zaptest.NewLogger(t))

	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "failed to reach database")
}

func TestOpenDoesNotConnect(t *testing.T) {
	t.Parallel()

	db := database.Open(&config.PostgreSQL{
		Host: "127.0.0.1",
		Port: closedPort(t),
	}, zaptest.NewLogger(t))
	defer db.Close()

	assert.Zero(t, db.Stats().OpenConnections)
}
