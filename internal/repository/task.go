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

type TaskStore struct {
	drv dialect.Driver
	now func() time.Time
}

func NewTaskStore(drv dialect.Driver) *TaskStore {
	return &TaskStore{drv: drv, now: time.Now}
}

// Create inserts a task owned by ownerID
func (s *TaskStore) Create(ctx context.Context, ownerID int, title string) (*Task, error) {
	if ownerID <= 0 || title == "" {
		return nil, fmt.Errorf("create task: owner and title are required")
	}

	now := s.now().UTC()
	query, args := builder().Insert(database.TasksTableName).
		Columns("owner_id", "title", "created_at", "updated_at").
		Values(ownerID, title, now, now).
		Query()

	var res stdsql.Result
	if err := s.drv.Exec(ctx, query, args, &res); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	return &Task{ID: int(id), OwnerID: ownerID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// Get loads a task by id
func (s *TaskStore) Get(ctx context.Context, id int) (*Task, error) {
	query, args := builder().Select(taskColumns...).
		From(entsql.Table(database.TasksTableName)).
		Where(entsql.EQ("id", id)).
		Limit(1).
		Query()

	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get task %d: %w", id, err)
		}
		return nil, ErrNotFound
	}

	var t Task
	if err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan task %d: %w", id, err)
	}
	return &t, nil
}

// Delete removes the task row. Attachment rows go with it through the
// ON DELETE CASCADE foreign key.
func (s *TaskStore) Delete(ctx context.Context, id int) error {
	query, args := builder().Delete(database.TasksTableName).
		Where(entsql.EQ("id", id)).
		Query()

	var res stdsql.Result
	if err := s.drv.Exec(ctx, query, args, &res); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
