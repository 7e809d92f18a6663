package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Client is a portal account that invoices are issued to.
type Client struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Email     string       `gorm:"not null" json:"email"`
	Name      string       `gorm:"not null" json:"name"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TableName sets the database table name.
func (Client) TableName() string { return "clients" }
