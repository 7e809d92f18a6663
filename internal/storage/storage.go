// Package storage writes rendered documents to object storage and builds
// their public URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
)

const ContentTypePDF = "application/pdf"

var (
	ErrObjectExists = errors.New("object_exists")
	ErrInvalidPath  = errors.New("invalid_object_path")
)

type Store interface {
	// Upload writes data at path. With upsert false an existing object is
	// left untouched and ErrObjectExists is returned.
	Upload(ctx context.Context, path string, data []byte, contentType string, upsert bool) error
	PublicURL(path string) string
}

// InvoicePath is the stable location of an invoice's rendered PDF.
func InvoicePath(clientID, invoiceID string) (string, error) {
	client := segment(clientID)
	invoice := segment(invoiceID)
	if client == "" || invoice == "" {
		return "", ErrInvalidPath
	}
	return fmt.Sprintf("invoices/%s/invoice_%s.pdf", client, invoice), nil
}

// PreviewPath returns a fresh location for an ephemeral preview.
func PreviewPath(clientID string) (string, error) {
	client := segment(clientID)
	if client == "" {
		client = "anonymous"
	}
	return fmt.Sprintf("previews/%s/%s.pdf", client, strings.ToLower(ulid.Make().String())), nil
}

func segment(value string) string {
	return slug.Make(strings.TrimSpace(value))
}

func cleanPath(path string) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", ErrInvalidPath
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." || part == ".." {
			return "", ErrInvalidPath
		}
	}
	return path, nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + path
}
