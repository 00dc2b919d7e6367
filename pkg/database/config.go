package database

import (
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds database configuration.
type Config struct {
	Driver          string        `yaml:"driver" env:"DRIVER" env-default:"sqlite"`
	DSN             string        `yaml:"dsn" env:"DSN" env-default:"./data/schoolchat.db"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS" env-default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME" env-default:"1h"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME" env-default:"10m"`
	SlowQuery       time.Duration `yaml:"slow_query" env:"SLOW_QUERY" env-default:"500ms"`
}

// DefaultConfig returns the local sqlite configuration.
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverSQLite,
		DSN:             "./data/schoolchat.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		SlowQuery:       500 * time.Millisecond,
	}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return errors.Errorf("unsupported database driver %q", c.Driver)
	}
	if c.DSN == "" {
		return errors.New("database dsn cannot be empty")
	}
	if c.MaxOpenConns <= 0 {
		return errors.New("max open connections must be greater than 0")
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max idle connections must be between 0 and max open connections")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	return nil
}

// IsSQLite reports whether writes must be serialized.
func (c *Config) IsSQLite() bool { return c.Driver == DriverSQLite }

// Open connects with the configured driver and applies pool settings.
func Open(cfg *Config, logger *slog.Logger) (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid database config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	gormLog := gormlogger.New(
		slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             cfg.SlowQuery,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		dialector = sqlite.New(sqlite.Config{DriverName: "sqlite3", DSN: sqliteDSN(cfg.DSN)})
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLog,
		TranslateError: cfg.Driver == DriverPostgres,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql db")
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if cfg.IsSQLite() {
		if err := applySQLiteOptimizations(db); err != nil {
			_ = sqlDB.Close()
			return nil, errors.Wrap(err, "apply sqlite pragmas")
		}
	}
	return db, nil
}

// sqliteDSN adds per-connection pragmas understood by go-sqlite3.
func sqliteDSN(dsn string) string {
	params := "_busy_timeout=5000&_foreign_keys=on&_synchronous=NORMAL"
	if !strings.Contains(dsn, ":memory:") {
		params = "_journal_mode=WAL&" + params
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

// Database-wide pragmas; per-connection ones ride on the DSN.
var sqliteOptimizations = []string{
	"PRAGMA cache_size = -64000",
	"PRAGMA temp_store = MEMORY",
}

func applySQLiteOptimizations(db *gorm.DB) error {
	for _, stmt := range sqliteOptimizations {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
