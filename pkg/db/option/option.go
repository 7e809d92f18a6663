// Package option carries composable query modifiers for pkg/repository.
package option

import (
	"fmt"

	"gorm.io/gorm"
)

type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type Operator string

const Equal Operator = "="

// Condition is a single column comparison. Column names come from code,
// never from request input.
type Condition struct {
	Column   string
	Operator Operator
	Value    any
}

func (c Condition) Apply(db *gorm.DB) *gorm.DB {
	return db.Where(fmt.Sprintf("%s %s ?", c.Column, c.Operator), c.Value)
}

func Where(column string, op Operator, value any) QueryOption {
	return Condition{Column: column, Operator: op, Value: value}
}
