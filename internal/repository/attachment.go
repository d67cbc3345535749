package repository

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"time"

	"taskattach/internal/database"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

// Limits are the business rules the store enforces at insert time
type Limits struct {
	MaxPerTask int
	MaxBytes   int64
}

type AttachmentStore struct {
	drv    dialect.Driver
	limits Limits
	now    func() time.Time
}

func NewAttachmentStore(drv dialect.Driver, limits Limits) *AttachmentStore {
	return &AttachmentStore{drv: drv, limits: limits, now: time.Now}
}

// CountForTask returns how many attachments a task currently holds
func (s *AttachmentStore) CountForTask(ctx context.Context, taskID int) (int, error) {
	return countForTask(ctx, s.drv, taskID)
}

func countForTask(ctx context.Context, q dialect.ExecQuerier, taskID int) (int, error) {
	query, args := builder().Select(entsql.Count("*")).
		From(entsql.Table(database.AttachmentsTableName)).
		Where(entsql.EQ("task_id", taskID)).
		Query()

	var rows entsql.Rows
	if err := q.Query(ctx, query, args, &rows); err != nil {
		return 0, fmt.Errorf("count attachments for task %d: %w", taskID, err)
	}
	defer rows.Close()

	count, err := entsql.ScanInt(rows)
	if err != nil {
		return 0, fmt.Errorf("count attachments for task %d: %w", taskID, err)
	}
	return count, nil
}

// Create inserts the metadata row. The task row is touched first so that
// concurrent inserts for the same task serialize on its lock, then the count
// is re-checked inside the same transaction.
func (s *AttachmentStore) Create(ctx context.Context, a *Attachment) (*Attachment, error) {
	if err := s.check(a); err != nil {
		return nil, err
	}

	created := *a
	if created.CreatedAt.IsZero() {
		created.CreatedAt = s.now().UTC()
	}

	err := inTx(ctx, s.drv, func(tx dialect.Tx) error {
		query, args := builder().Update(database.TasksTableName).
			Set("updated_at", s.now().UTC()).
			Where(entsql.EQ("id", a.TaskID)).
			Query()

		var res stdsql.Result
		if err := tx.Exec(ctx, query, args, &res); err != nil {
			return fmt.Errorf("lock task %d: %w", a.TaskID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("lock task %d: %w", a.TaskID, err)
		} else if n == 0 {
			return ErrNotFound
		}

		count, err := countForTask(ctx, tx, a.TaskID)
		if err != nil {
			return err
		}
		if count >= s.limits.MaxPerTask {
			return ErrLimitExceeded
		}

		query, args = builder().Insert(database.AttachmentsTableName).
			Columns(attachmentColumns[1:]...).
			Values(created.TaskID, created.OriginalFilename, created.StorageKey,
				created.ByteSize, created.ContentType, created.CreatedAt).
			Query()

		if err := tx.Exec(ctx, query, args, &res); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("insert attachment: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
		created.ID = int(id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &created, nil
}

func (s *AttachmentStore) check(a *Attachment) error {
	switch {
	case a == nil:
		return fmt.Errorf("%w: nil attachment", ErrInvalidAttachment)
	case a.TaskID <= 0:
		return fmt.Errorf("%w: missing task", ErrInvalidAttachment)
	case a.OriginalFilename == "" || a.StorageKey == "" || a.ContentType == "":
		return fmt.Errorf("%w: filename, storage key and content type are required", ErrInvalidAttachment)
	case a.ByteSize <= 0:
		return fmt.Errorf("%w: size must be positive", ErrInvalidAttachment)
	case s.limits.MaxBytes > 0 && a.ByteSize > s.limits.MaxBytes:
		return fmt.Errorf("%w: size %d exceeds %d", ErrInvalidAttachment, a.ByteSize, s.limits.MaxBytes)
	}
	return nil
}

// Get loads one attachment by id
func (s *AttachmentStore) Get(ctx context.Context, id int) (*Attachment, error) {
	list, err := s.selectWhere(ctx, entsql.EQ("id", id))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

// ListForTask returns the task's attachments, newest first
func (s *AttachmentStore) ListForTask(ctx context.Context, taskID int) ([]*Attachment, error) {
	return s.selectWhere(ctx, entsql.EQ("task_id", taskID))
}

// ListAll returns every attachment row; used by the orphan sweeper
func (s *AttachmentStore) ListAll(ctx context.Context) ([]*Attachment, error) {
	return s.selectWhere(ctx, nil)
}

func (s *AttachmentStore) selectWhere(ctx context.Context, p *entsql.Predicate) ([]*Attachment, error) {
	sel := builder().Select(attachmentColumns...).
		From(entsql.Table(database.AttachmentsTableName)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	if p != nil {
		sel = sel.Where(p)
	}
	query, args := sel.Query()

	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	var list []*Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.TaskID, &a.OriginalFilename, &a.StorageKey,
			&a.ByteSize, &a.ContentType, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		list = append(list, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return list, nil
}

// Delete removes the metadata row
func (s *AttachmentStore) Delete(ctx context.Context, id int) error {
	query, args := builder().Delete(database.AttachmentsTableName).
		Where(entsql.EQ("id", id)).
		Query()

	var res stdsql.Result
	if err := s.drv.Exec(ctx, query, args, &res); err != nil {
		return fmt.Errorf("delete attachment %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete attachment %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
