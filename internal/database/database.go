// Package database opens the SQLite store and migrates the attachment tables.
//
// The table definitions are derived from the ent schemas in taskattach/ent/schema
// so that column names, sizes and unique constraints live in one place.
package database

import (
	"context"
	"fmt"
	"strings"

	"taskattach/ent/schema"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	sqlschema "entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
	_ "github.com/lib-x/entsqlite"
)

const (
	TasksTableName       = "tasks"
	AttachmentsTableName = "attachments"
)

var (
	TasksTable       = buildTable(TasksTableName, schema.Task{}.Fields(), schema.Task{}.Indexes())
	AttachmentsTable = buildTable(AttachmentsTableName, schema.Attachment{}.Fields(), schema.Attachment{}.Indexes())

	// Tables holds all tables in creation order
	Tables = []*sqlschema.Table{TasksTable, AttachmentsTable}
)

func init() {
	taskID := AttachmentsTable.Columns[columnIndex(AttachmentsTable, "task_id")]
	AttachmentsTable.ForeignKeys = []*sqlschema.ForeignKey{
		{
			Symbol:     "attachments_tasks_attachments",
			Columns:    []*sqlschema.Column{taskID},
			RefColumns: []*sqlschema.Column{TasksTable.PrimaryKey[0]},
			RefTable:   TasksTable,
			OnDelete:   sqlschema.Cascade,
		},
	}
}

// buildTable turns ent field and index descriptors into a migration table with
// an auto-increment integer primary key
func buildTable(name string, fields []ent.Field, indexes []ent.Index) *sqlschema.Table {
	id := &sqlschema.Column{Name: "id", Type: field.TypeInt, Increment: true}
	columns := []*sqlschema.Column{id}

	for _, f := range fields {
		d := f.Descriptor()
		columns = append(columns, &sqlschema.Column{
			Name:     d.Name,
			Type:     d.Info.Type,
			Size:     int64(d.Size),
			Unique:   d.Unique,
			Nullable: d.Optional,
		})
	}

	table := &sqlschema.Table{
		Name:       name,
		Columns:    columns,
		PrimaryKey: []*sqlschema.Column{id},
	}

	for _, idx := range indexes {
		d := idx.Descriptor()
		var cols []*sqlschema.Column
		for _, fieldName := range d.Fields {
			cols = append(cols, columns[columnIndex(table, fieldName)])
		}
		table.Indexes = append(table.Indexes, &sqlschema.Index{
			Name:    name + "_" + strings.Join(d.Fields, "_"),
			Unique:  d.Unique,
			Columns: cols,
		})
	}

	return table
}

func columnIndex(t *sqlschema.Table, name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	panic(fmt.Sprintf("database: table %s has no column %s", t.Name, name))
}

// Open connects to SQLite through the entsqlite driver and verifies the connection
func Open(ctx context.Context, dsn string) (*entsql.Driver, error) {
	drv, err := entsql.Open(dialect.SQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := drv.DB().PingContext(ctx); err != nil {
		drv.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return drv, nil
}

// Migrate creates or upgrades the tasks and attachments tables
func Migrate(ctx context.Context, drv dialect.Driver) error {
	m, err := sqlschema.NewMigrate(drv)
	if err != nil {
		return fmt.Errorf("prepare migration: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
