package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-oms/internal/database"
	"mini-oms/internal/database/databasetest"
)

func TestSeed(t *testing.T) {
	db := databasetest.Postgres(t)
	ctx := context.Background()
	opts := database.SeedOptions{
		AdminEmail:    "admin@example.com",
		AdminPassword: "admin123",
		Products:      database.DemoProducts,
	}

	require.NoError(t, database.Seed(ctx, db, opts))
	require.NoError(t, database.Seed(ctx, db, opts))

	var admins, products int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE role = 'admin'`).Scan(&admins))
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM products`).Scan(&products))
	assert.Equal(t, 1, admins)
	assert.Equal(t, len(database.DemoProducts), products)
}

func TestHealth(t *testing.T) {
	db := databasetest.Postgres(t)

	stats := database.Wrap(db, "mini_oms").Health(context.Background())
	assert.Equal(t, "up", stats["status"])
	assert.Contains(t, stats, "open_connections")
}
