package repository

import (
	"context"

	"github.com/smallbiznis/portal/pkg/db/option"
)

// Repository is a generic GORM store keyed by struct filters.
type Repository[T any] interface {
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
}
