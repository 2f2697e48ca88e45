//go:build integration

package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/wtsi-hgi/irobot/pkg/precache/model"
)

// TestPostgresBackend_SharedBudget exercises the Postgres-backed Tracking
// Index the same way multiple irobotd instances would, sharing one
// upstream-rate budget across the cluster.
func TestPostgresBackend_SharedBudget(t *testing.T) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("irobot"),
		tcpostgres.WithUsername("irobot"),
		tcpostgres.WithPassword("irobot"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	idx, err := New(Config{
		Type: BackendPostgres,
		Postgres: PostgresConfig{
			Host:     host,
			Port:     port.Int(),
			Database: "irobot",
			User:     "irobot",
			Password: "irobot",
			SSLMode:  "disable",
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	_, err = idx.UpsertEntity(ctx, "/seq/1/shared.bam", "ab/cd/1")
	require.NoError(t, err)
	require.NoError(t, idx.LogStatus(ctx, "/seq/1/shared.bam", model.DatatypeData, model.StatusStarted))

	status, err := idx.CurrentStatus(ctx, "/seq/1/shared.bam", model.DatatypeData)
	require.NoError(t, err)
	require.Equal(t, model.StatusStarted, status)
}
