package database

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"schoolchat/pkg/types"
)

// Models lists every table owned or read by the service, in creation order.
func Models() []interface{} {
	return []interface{}{
		&types.User{},
		&types.GradeLevel{},
		&types.Section{},
		&types.SectionMember{},
		&types.DirectMessage{},
		&types.SectionMessage{},
		&types.GradeLevelMessage{},
		&types.Notification{},
	}
}

// SchemaValidator checks that the live schema matches the models.
type SchemaValidator struct {
	db *gorm.DB
}

func NewSchemaValidator(db *gorm.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that every model table and the migration
// ledger exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	m := v.db.Migrator()
	for _, model := range Models() {
		if !m.HasTable(model) {
			return errors.Errorf("required table for %T does not exist", model)
		}
	}
	if !m.HasTable(&SchemaMigration{}) {
		return errors.New("required table schema_migrations does not exist")
	}
	return nil
}

// ValidateIndexes verifies the indexes used by history and unread queries.
func (v *SchemaValidator) ValidateIndexes() error {
	required := []struct {
		model interface{}
		name  string
	}{
		{&types.DirectMessage{}, "idx_direct_pair"},
		{&types.DirectMessage{}, "idx_direct_messages_created_at"},
		{&types.SectionMessage{}, "idx_section_messages_section_id"},
		{&types.GradeLevelMessage{}, "idx_grade_level_messages_grade_level_id"},
		{&types.Notification{}, "idx_notifications_user_read"},
	}
	m := v.db.Migrator()
	for _, idx := range required {
		if !m.HasIndex(idx.model, idx.name) {
			return errors.Errorf("required index %s does not exist", idx.name)
		}
	}
	return nil
}

// ValidateColumns verifies the columns the router writes.
func (v *SchemaValidator) ValidateColumns() error {
	required := map[interface{}][]string{
		&types.User{}:              {"id", "first_name", "curse_count"},
		&types.DirectMessage{}:     {"id", "content", "sender_id", "receiver_id", "images", "seen"},
		&types.SectionMessage{}:    {"id", "content", "sender_id", "section_id", "images", "seen"},
		&types.GradeLevelMessage{}: {"id", "content", "sender_id", "grade_level_id", "images", "seen"},
		&types.Notification{}:      {"id", "user_id", "topic", "message", "read"},
	}
	m := v.db.Migrator()
	for model, cols := range required {
		for _, col := range cols {
			if !m.HasColumn(model, col) {
				return errors.Errorf("column %s missing on %T", col, model)
			}
		}
	}
	return nil
}

// Validate runs every check.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateColumns(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}
