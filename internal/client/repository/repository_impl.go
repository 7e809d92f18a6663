package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/portal/internal/client/domain"
	"github.com/smallbiznis/portal/pkg/db/option"
	"github.com/smallbiznis/portal/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) store(db *gorm.DB) repository.Repository[domain.Client] {
	return repository.ProvideStore[domain.Client](db)
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, client *domain.Client) error {
	return r.store(db).Create(ctx, client)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Client, error) {
	return r.store(db).FindOne(ctx, &domain.Client{ID: id})
}

// FindByEmail matches case-insensitively.
func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Client, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.store(db).FindOne(ctx, nil, option.Where("lower(email)", option.Equal, email))
}
