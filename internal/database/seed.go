package database

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"schoolchat/pkg/types"
)

// SeedFile is the YAML layout of directory fixtures used in development.
type SeedFile struct {
	GradeLevels []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"gradeLevels"`
	Sections []struct {
		ID           string   `yaml:"id"`
		Name         string   `yaml:"name"`
		GradeLevelID string   `yaml:"gradeLevelId"`
		Members      []string `yaml:"members"`
	} `yaml:"sections"`
	Users []struct {
		ID        string `yaml:"id"`
		FirstName string `yaml:"firstName"`
		LastName  string `yaml:"lastName"`
		Email     string `yaml:"email"`
		Role      string `yaml:"role"`
	} `yaml:"users"`
}

// LoadSeedFile reads and parses a seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read seed")
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, errors.Wrap(err, "parse seed")
	}
	return &seed, nil
}

// Seed upserts directory records. Running it twice leaves one copy of each
// row; curse counts of existing users are preserved.
func (m *Manager) Seed(ctx context.Context, seed *SeedFile) error {
	return m.executeWrite(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			for _, u := range seed.Users {
				user := types.User{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email, Role: u.Role}
				err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "id"}},
					DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "email", "role", "updated_at"}),
				}).Create(&user).Error
				if err != nil {
					return errors.Wrapf(err, "seed user %s", u.ID)
				}
			}
			for _, g := range seed.GradeLevels {
				grade := types.GradeLevel{ID: g.ID, Name: g.Name}
				err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "id"}},
					DoUpdates: clause.AssignmentColumns([]string{"name"}),
				}).Create(&grade).Error
				if err != nil {
					return errors.Wrapf(err, "seed grade level %s", g.ID)
				}
			}
			for _, s := range seed.Sections {
				section := types.Section{ID: s.ID, Name: s.Name, GradeLevelID: s.GradeLevelID}
				err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "id"}},
					DoUpdates: clause.AssignmentColumns([]string{"name", "grade_level_id"}),
				}).Create(&section).Error
				if err != nil {
					return errors.Wrapf(err, "seed section %s", s.ID)
				}
				for _, userID := range s.Members {
					member := types.SectionMember{SectionID: s.ID, UserID: userID}
					if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error; err != nil {
						return errors.Wrapf(err, "seed member %s of %s", userID, s.ID)
					}
				}
			}
			return nil
		})
	})
}
