package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidID    = errors.New("invalid_client_id")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrNotFound     = errors.New("client_not_found")
	ErrEmailTaken   = errors.New("client_email_taken")
)

type CreateClientRequest struct {
	Email string
	Name  string
}

type Service interface {
	Create(ctx context.Context, req CreateClientRequest) (Client, error)
	GetByID(ctx context.Context, id string) (Client, error)
	GetByEmail(ctx context.Context, email string) (Client, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, client *Client) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Client, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Client, error)
}
