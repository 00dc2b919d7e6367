package database

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	dbconfig "schoolchat/pkg/database"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
	ErrDuplicateID   = errors.New("record with this id already exists")
)

const writeQueueTimeout = 30 * time.Second

// Manager implements interfaces.Store on top of gorm.
// With SQLite every write goes through one goroutine; Postgres writes run inline.
type Manager struct {
	db           *gorm.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	serialize    bool
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(*gorm.DB) error
	result    chan error
}

var _ interfaces.Store = (*Manager)(nil)

// NewManager opens the database described by config.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := dbconfig.Open(config, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	m := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With("component", "store"),
		serialize:    config.IsSQLite(),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}
	if m.serialize {
		m.wg.Add(1)
		go m.writeLoop()
	}
	return m, nil
}

// Migrate applies pending schema migrations.
func (m *Manager) Migrate(ctx context.Context) error {
	return dbconfig.NewMigrationManager(m.db, nil).ApplyMigrations(ctx)
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWrite(op.ctx, op.operation)
		case <-m.shutdown:
			return
		}
	}
}

// executeWrite runs operation on the writer goroutine and waits for it.
func (m *Manager) executeWrite(ctx context.Context, operation func(*gorm.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	if !m.serialize {
		return m.runWrite(ctx, operation)
	}

	result := make(chan error, 1)
	timer := time.NewTimer(writeQueueTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}
	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// runWrite retries once when SQLite reports the file locked past the busy
// timeout, and maps key conflicts to ErrDuplicateID.
func (m *Manager) runWrite(ctx context.Context, operation func(*gorm.DB) error) error {
	err := operation(m.db.WithContext(ctx))
	if dbconfig.IsBusy(err) {
		m.logger.Warn("store_busy_retry", "error", err)
		err = operation(m.db.WithContext(ctx))
	}
	if err == nil {
		return nil
	}
	m.logger.Debug("store_write_failed", "error", err)
	if dbconfig.IsUniqueViolation(err) {
		return errors.Wrap(ErrDuplicateID, err.Error())
	}
	return err
}

func (m *Manager) read(ctx context.Context) *gorm.DB {
	return m.db.WithContext(ctx)
}

func findByID[T any](db *gorm.DB, id, what string) (*T, error) {
	var out T
	if err := db.First(&out, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(interfaces.ErrNotFound, "%s %s", what, id)
		}
		return nil, errors.Wrapf(err, "failed to query %s", what)
	}
	return &out, nil
}

func deleteByID[T any](db *gorm.DB, id, what string) error {
	res := db.Delete(new(T), "id = ?", id)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to delete %s", what)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(interfaces.ErrNotFound, "%s %s", what, id)
	}
	return nil
}

func affectedOrNotFound(res *gorm.DB, what, id string) error {
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to update %s", what)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(interfaces.ErrNotFound, "%s %s", what, id)
	}
	return nil
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.New().String()
	}
}

// Directory

func (m *Manager) GetUser(ctx context.Context, userID string) (*types.User, error) {
	return findByID[types.User](m.read(ctx), userID, "user")
}

func (m *Manager) GetSection(ctx context.Context, sectionID string) (*types.Section, error) {
	return findByID[types.Section](m.read(ctx), sectionID, "section")
}

func (m *Manager) GetGradeLevel(ctx context.Context, gradeLevelID string) (*types.GradeLevel, error) {
	return findByID[types.GradeLevel](m.read(ctx), gradeLevelID, "grade level")
}

func (m *Manager) ListSectionMemberIDs(ctx context.Context, sectionID string) ([]string, error) {
	var ids []string
	err := m.read(ctx).Model(&types.SectionMember{}).
		Where("section_id = ?", sectionID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list section members")
	}
	return ids, nil
}

func (m *Manager) ListGradeLevelMembers(ctx context.Context, gradeLevelID string) ([]*types.User, error) {
	db := m.read(ctx)
	members := db.Model(&types.SectionMember{}).
		Select("section_members.user_id").
		Joins("JOIN sections ON sections.id = section_members.section_id").
		Where("sections.grade_level_id = ?", gradeLevelID)

	var users []*types.User
	if err := db.Where("id IN (?)", members).Order("id").Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list grade level members")
	}
	return users, nil
}

func (m *Manager) IncrementCurseCount(ctx context.Context, userID string) error {
	return m.executeWrite(ctx, func(db *gorm.DB) error {
		res := db.Model(&types.User{}).
			Where("id = ?", userID).
			UpdateColumn("curse_count", gorm.Expr("curse_count + ?", 1))
		return affectedOrNotFound(res, "user", userID)
	})
}

// Direct messages

func (m *Manager) CreateDirectMessage(ctx context.Context, msg *types.DirectMessage) error {
	ensureID(&msg.ID)
	if msg.Images == nil {
		msg.Images = types.Images(nil)
	}
	return m.executeWrite(ctx, func(db *gorm.DB) error {
		return errors.Wrap(db.Create(msg).Error, "failed to insert direct message")
	})
}

func (m *Manager) GetDirectMessage(ctx context.Context, id string) (*types.DirectMessage, error) {
	return findByID[types.DirectMessage](m.read(ctx), id, "direct message")
}

func (m *Manager) ListConversation(ctx context.Context, a, b string) ([]*types.DirectMessage, error) {
	var msgs []*types.DirectMessage
	err := m.read(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query conversation")
	}
	return msgs, nil
}

func (m *Manager) ListUnreadDirectMessages(ctx context.Context, receiverID string) ([]*types.DirectMessage, error) {
	var msgs []*types.DirectMessage
	err := m.read(ctx).
		Where("receiver_id = ? AND seen = ?", receiverID, false).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query unread messages")
	}
	return msgs, nil
}

func (m *Manager) MarkDirectMessageSeen(ctx context.Context, id string) (*types.DirectMessage, error) {
	err := m.executeWrite(ctx, func(db *gorm.DB) error {
		res := db.Model(&types.DirectMessage{}).Where("id = ?", id).Update("seen", true)
		return affectedOrNotFound(res, "direct message", id)
	})
	if err != nil {
		return nil, err
	}
	return m.GetDirectMessage(ctx, id)
}

func (m *Manager) MarkConversationSeen(ctx context.Context, readerID, otherID string) error {
	return m.executeWrite(ctx, func(db *gorm.DB) error {
		err := db.Model(&types.DirectMessage{}).
			Where("sender_id = ? AND receiver_id = ? AND seen = ?", otherID, readerID, false).
			Update("seen", true).Error
		return errors.Wrap(err, "failed to mark conversation seen")
	})
}

func (m *Manager) DeleteDirectMessage(ctx context.Context, id string) error {
	return m.executeWrite(ctx, func(db *gorm.DB) error {
		return deleteByID[types.DirectMessage](db, id, "direct message")
	})
}

// Section messages

func (m *Manager) CreateSectionMessage(ctx context.Context, msg *types.SectionMessage) error {
	ensureID(&msg.ID)
	if msg.Images == nil {
		msg.Images = types.Images(nil)
	}
	return m.executeWrite(ctx, func(db *gorm.DB) error {
		return errors.Wrap(db.Create(msg).Error, "failed to insert section message")
	})
}

func (m *Manager) GetSectionMessage(ctx context.Context, id string) (*types.SectionMessage, error) {
	return findByID[types.SectionMessage](m.read(ctx), id, "section message")
}

func (m *Manager) ListSectionMessages(ctx context.Context, sectionID string) ([]*types.SectionMessage, error) {
	var msgs []*types.SectionMessage
	err := m.read(ctx).Where("section_id = ?", sectionID).Order("created_at ASC, id ASC").Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query section messages")
	}
	return msgs, nil
}

func (m *Manager) UpdateSectionMessage(ctx context.Context, msg *types.SectionMessage) error {
	return m.executeWrite(ctx, func(db *gorm.DB) error {
		res := db.Model(&types.SectionMessage{}).Where("id = ?", msg.ID).Updates(map[string]interface{}{
			"content":    msg.Content,
			"images":     types.Images(msg.Images),
			"updated_at": time.Now().UTC(),
		})
		return affectedOrNotFound(res, "section message", msg.ID)
	})
}

func (m *Manager) DeleteSectionMessage(ctx context.Context, id string) error {
	return m.executeWrite(ctx, func(db *gorm.DB) error {
		return deleteByID[types.SectionMessage](db, id, "section message")
	})
}

// Grade-level messages

func (m *Manager) CreateGradeLevelMessage(ctx context.Context, msg *types.GradeLevelMessage) error {
	ensureID(&msg.ID)
	if msg.Images == nil {
		msg.Images = types.Images(nil)
	}
	return m.executeWrite(ctx, func(db *gorm.DB) error {
		return errors.Wrap(db.Create(msg).Error, "failed to insert grade level message")
	})
}

func (m *Manager) GetGradeLevelMessage(ctx context.Context, id string) (*types.GradeLevelMessage, error) {
	return findByID[types.GradeLevelMessage](m.read(ctx), id, "grade level message")
}

func (m *Manager) ListGradeLevelMessages(ctx context.Context, gradeLevelID string) ([]*types.GradeLevelMessage, error) {
	var msgs []*types.GradeLevelMessage
	err := m.read(ctx).Where("grade_level_id = ?", gradeLevelID).Order("created_at ASC, id ASC").Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query grade level messages")
	}
	return msgs, nil
}

func (m *Manager) UpdateGradeLevelMessage(ctx context.Context, msg *types.GradeLevelMessage) error {
	return m.executeWrite(ctx, func(db *gorm.DB) error {
		res := db.Model(&types.GradeLevelMessage{}).Where("id = ?", msg.ID).Updates(map[string]interface{}{
			"content":    msg.Content,
			"images":     types.Images(msg.Images),
			"updated_at": time.Now().UTC(),
		})
		return affectedOrNotFound(res, "grade level message", msg.ID)
	})
}

func (m *Manager) DeleteGradeLevelMessage(ctx context.Context, id string) error {
	return m.executeWrite(ctx, func(db *gorm.DB) error {
		return deleteByID[types.GradeLevelMessage](db, id, "grade level message")
	})
}

// Notifications

func (m *Manager) CreateNotification(ctx context.Context, n *types.Notification) error {
	ensureID(&n.ID)
	return m.executeWrite(ctx, func(db *gorm.DB) error {
		return errors.Wrap(db.Create(n).Error, "failed to insert notification")
	})
}

func (m *Manager) ListNotifications(ctx context.Context, userID string, limit int) ([]*types.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*types.Notification
	err := m.read(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query notifications")
	}
	return out, nil
}

func (m *Manager) MarkNotificationRead(ctx context.Context, id, userID string) error {
	return m.executeWrite(ctx, func(db *gorm.DB) error {
		res := db.Model(&types.Notification{}).Where("id = ? AND user_id = ?", id, userID).Update("read", true)
		return affectedOrNotFound(res, "notification", id)
	})
}

func (m *Manager) PurgeReadNotifications(ctx context.Context, olderThan time.Time) (int64, error) {
	var purged int64
	err := m.executeWrite(ctx, func(db *gorm.DB) error {
		res := db.Where("read = ? AND created_at < ?", true, olderThan).Delete(&types.Notification{})
		purged = res.RowsAffected
		return errors.Wrap(res.Error, "failed to purge notifications")
	})
	return purged, err
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql db")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.Wrap(err, "database ping failed")
	}
	var n int64
	if err := m.read(ctx).Model(&types.User{}).Limit(1).Count(&n).Error; err != nil {
		return errors.Wrap(err, "database read test failed")
	}
	return nil
}

// GetDB returns the underlying gorm handle.
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// Close stops the writer and closes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	sqlDB, err := m.db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql db")
	}
	return errors.Wrap(sqlDB.Close(), "failed to close database")
}
