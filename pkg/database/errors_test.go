package database

import (
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	unique := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}
	pk := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}
	notNull := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}

	assert.False(t, IsUniqueViolation(nil))
	assert.True(t, IsUniqueViolation(errors.Wrap(unique, "insert")))
	assert.True(t, IsUniqueViolation(pk))
	assert.True(t, IsUniqueViolation(errors.Wrap(gorm.ErrDuplicatedKey, "insert")))
	assert.False(t, IsUniqueViolation(notNull))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(errors.Wrap(sqlite3.Error{Code: sqlite3.ErrBusy}, "write")))
	assert.True(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrLocked}))
	assert.False(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, IsBusy(nil))
}
