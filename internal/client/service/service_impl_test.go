package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/portal/internal/client/domain"
	"github.com/smallbiznis/portal/internal/client/repository"
	"github.com/smallbiznis/portal/internal/migration"
	"github.com/smallbiznis/portal/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.ApplySQLite(conn))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return New(Params{DB: conn, Log: zap.NewNop(), GenID: node, Repo: repository.Provide()})
}

func TestCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	created, err := svc.Create(ctx, domain.CreateClientRequest{Email: " Ada@Example.com ", Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", created.Email)

	byID, err := svc.GetByID(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "Ada", byID.Name)

	byEmail, err := svc.GetByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Create(ctx, domain.CreateClientRequest{Email: "a@example.com"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.CreateClientRequest{Email: "A@example.com"})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestLookupErrors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.GetByID(ctx, "not-a-number")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
	_, err = svc.GetByID(ctx, "0")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
	_, err = svc.GetByID(ctx, "12345")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Create(ctx, domain.CreateClientRequest{Email: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)
}
