// Package repository persists tasks and attachment metadata with ent's SQL
// builder. All side effects are explicit method calls; nothing happens in hooks.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/sqlgraph"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrLimitExceeded     = errors.New("attachment limit exceeded")
	ErrDuplicateKey      = errors.New("storage key already recorded")
	ErrInvalidAttachment = errors.New("invalid attachment")
)

// Task is the owning entity of attachments
type Task struct {
	ID        int       `json:"id"`
	OwnerID   int       `json:"owner_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attachment is the metadata row describing one stored blob
type Attachment struct {
	ID               int       `json:"id"`
	TaskID           int       `json:"task_id"`
	OriginalFilename string    `json:"original_filename"`
	StorageKey       string    `json:"storage_key"`
	ByteSize         int64     `json:"byte_size"`
	ContentType      string    `json:"content_type"`
	CreatedAt        time.Time `json:"created_at"`
}

var attachmentColumns = []string{
	"id", "task_id", "original_filename", "storage_key", "byte_size", "content_type", "created_at",
}

var taskColumns = []string{"id", "owner_id", "title", "created_at", "updated_at"}

func builder() *entsql.DialectBuilder {
	return entsql.Dialect(dialect.SQLite)
}

// inTx runs fn inside a transaction and commits when it returns nil
func inTx(ctx context.Context, drv dialect.Driver, fn func(tx dialect.Tx) error) error {
	tx, err := drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return sqlgraph.IsUniqueConstraintError(err)
}
