package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Attachment holds the schema definition for the Attachment entity.
// Rows are immutable once written.
type Attachment struct {
	ent.Schema
}

// Fields of the Attachment.
func (Attachment) Fields() []ent.Field {
	return []ent.Field{
		field.Int("task_id").
			Immutable(),
		field.String("original_filename").
			NotEmpty().
			MaxLen(255).
			Immutable(),
		field.String("storage_key").
			NotEmpty().
			MaxLen(255).
			Unique().
			Immutable(),
		field.Int64("byte_size").
			Positive().
			Immutable(),
		field.String("content_type").
			NotEmpty().
			MaxLen(100).
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the Attachment.
func (Attachment) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("attachments").
			Field("task_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Attachment.
func (Attachment) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "created_at"),
	}
}
