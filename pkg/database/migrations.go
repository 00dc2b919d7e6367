package database

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// SchemaMigration is one applied migration.
type SchemaMigration struct {
	Version   string    `gorm:"primaryKey;size:32"`
	AppliedAt time.Time `gorm:"not null"`
}

func (SchemaMigration) TableName() string { return "schema_migrations" }

// Migration is an ordered schema step applied inside a transaction.
type Migration struct {
	Version     string
	Description string
	Apply       func(tx *gorm.DB) error
}

// DefaultMigrations returns the built-in schema history.
func DefaultMigrations() []Migration {
	return []Migration{
		{
			Version:     "001",
			Description: "initial schema",
			Apply: func(tx *gorm.DB) error {
				return tx.AutoMigrate(Models()...)
			},
		},
		{
			Version:     "002",
			Description: "notification unread lookup index",
			Apply: func(tx *gorm.DB) error {
				return tx.Exec("CREATE INDEX IF NOT EXISTS idx_notifications_user_read ON notifications (user_id, read)").Error
			},
		},
	}
}

// MigrationManager applies pending migrations and records them.
type MigrationManager struct {
	db         *gorm.DB
	migrations []Migration
}

func NewMigrationManager(db *gorm.DB, migrations []Migration) *MigrationManager {
	if migrations == nil {
		migrations = DefaultMigrations()
	}
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &MigrationManager{db: db, migrations: sorted}
}

// ApplyMigrations applies every migration not yet in schema_migrations.
// Each migration commits on its own so a failure leaves earlier ones applied.
func (m *MigrationManager) ApplyMigrations(ctx context.Context) error {
	db := m.db.WithContext(ctx)
	if err := db.AutoMigrate(&SchemaMigration{}); err != nil {
		return errors.Wrap(err, "failed to create migration table")
	}

	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get applied migrations")
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, mig := range m.migrations {
		if done[mig.Version] {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := mig.Apply(tx); err != nil {
				return err
			}
			return tx.Create(&SchemaMigration{Version: mig.Version, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return errors.Wrapf(err, "failed to apply migration %s (%s)", mig.Version, mig.Description)
		}
	}
	return nil
}

// AppliedVersions returns applied migration versions in order.
func (m *MigrationManager) AppliedVersions(ctx context.Context) ([]string, error) {
	var versions []string
	err := m.db.WithContext(ctx).Model(&SchemaMigration{}).Order("version").Pluck("version", &versions).Error
	return versions, err
}
