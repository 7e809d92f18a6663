package repository

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/portal/internal/client/domain"
	"github.com/smallbiznis/portal/internal/migration"
	"github.com/smallbiznis/portal/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindByEmailIgnoresCase(t *testing.T) {
	ctx := context.Background()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.ApplySQLite(conn))

	r := Provide()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, r.Insert(ctx, conn, &domain.Client{ID: 11, Email: "Bob@Example.COM", Name: "Bob", CreatedAt: now, UpdatedAt: now}))

	found, err := r.FindByEmail(ctx, conn, " bob@example.com ")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Bob", found.Name)

	byID, err := r.FindByID(ctx, conn, 11)
	require.NoError(t, err)
	require.NotNil(t, byID)

	missing, err := r.FindByEmail(ctx, conn, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
