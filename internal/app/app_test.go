package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartrust/internal/repo"
)

func TestOpenSeedsCatalogOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	conn, dialect, err := Open(ctx, dir, nil)
	require.NoError(t, err)
	r := repo.Repo{DB: conn, Dialect: dialect}
	n, err := r.CountRefTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultCatalog()), n)

	again, err := SeedCatalog(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, n, again)
	require.NoError(t, conn.Close())

	conn, _, err = Open(ctx, dir, nil)
	require.NoError(t, err)
	defer conn.Close()
	tasks, err := repo.Repo{DB: conn, Dialect: dialect}.ListRefTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, n)
	assert.Equal(t, "Identify a partner", tasks[0].Name)
}
