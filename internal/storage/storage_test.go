package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smallbiznis/portal/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInvoicePath(t *testing.T) {
	path, err := InvoicePath("1234", "5678")
	require.NoError(t, err)
	assert.Equal(t, "invoices/1234/invoice_5678.pdf", path)

	path, err = InvoicePath("../Client A", "9")
	require.NoError(t, err)
	assert.Equal(t, "invoices/client-a/invoice_9.pdf", path)

	_, err = InvoicePath("", "9")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestPreviewPathIsUnique(t *testing.T) {
	a, err := PreviewPath("42")
	require.NoError(t, err)
	b, err := PreviewPath("42")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a, "previews/42/"))
	assert.True(t, strings.HasSuffix(a, ".pdf"))
	assert.NotEqual(t, a, b)

	anon, err := PreviewPath("")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(anon, "previews/anonymous/"))
}

func TestLocalStoreUpload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "http://files.test/")
	require.NoError(t, err)

	require.NoError(t, store.Upload(ctx, "invoices/1/invoice_2.pdf", []byte("one"), ContentTypePDF, true))
	require.NoError(t, store.Upload(ctx, "invoices/1/invoice_2.pdf", []byte("two"), ContentTypePDF, true))
	data, err := os.ReadFile(filepath.Join(dir, "invoices", "1", "invoice_2.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	err = store.Upload(ctx, "invoices/1/invoice_2.pdf", []byte("three"), ContentTypePDF, false)
	assert.ErrorIs(t, err, ErrObjectExists)

	assert.ErrorIs(t, store.Upload(ctx, "../escape.pdf", nil, ContentTypePDF, true), ErrInvalidPath)
	assert.Equal(t, "http://files.test/invoices/1/invoice_2.pdf", store.PublicURL("/invoices/1/invoice_2.pdf"))
}

func TestNewSelectsDriver(t *testing.T) {
	cfg := config.Config{Storage: config.StorageConfig{Driver: "local", LocalDir: t.TempDir(), PublicBaseURL: "http://x"}}
	store, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)

	cfg.Storage.Driver = "ftp"
	_, err = New(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), config.StorageConfig{Region: "us-east-1"})
	assert.Error(t, err)
}
