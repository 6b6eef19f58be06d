package db

import (
	"fmt"

	"github.com/zulandar/visitline/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MySQLDSN builds a MySQL DSN with parseTime enabled.
func MySQLDSN(c config.DatabaseConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// PostgresDSN builds a key/value Postgres DSN.
func PostgresDSN(c config.DatabaseConfig) string {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=disable TimeZone=UTC", c.Host, c.Port, c.Name)
	if c.User != "" {
		dsn += " user=" + c.User
	}
	if c.Password != "" {
		dsn += " password=" + c.Password
	}
	return dsn
}

// Dialector picks the gorm driver for the configured backend.
func Dialector(c config.DatabaseConfig) (gorm.Dialector, error) {
	switch c.Driver {
	case "sqlite", "":
		dsn := c.DSN
		if dsn == "" {
			dsn = c.Path + "?_foreign_keys=off&_busy_timeout=5000"
		}
		return sqlite.Open(dsn), nil
	case "mysql":
		dsn := c.DSN
		if dsn == "" {
			dsn = MySQLDSN(c)
		}
		return mysql.Open(dsn), nil
	case "postgres":
		dsn := c.DSN
		if dsn == "" {
			dsn = PostgresDSN(c)
		}
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", c.Driver)
	}
}

// Connect opens a GORM connection for the configured backend.
func Connect(c config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(c)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		return nil, fmt.Errorf("db: connect %s/%s: %w", c.Driver, c.Name, err)
	}
	if c.Driver == "sqlite" || c.Driver == "" {
		// SQLite allows one writer; serialize through a single connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite database with every table migrated.
func OpenMemory() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("db: open memory: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: memory handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// CreateDatabase creates the configured database if it doesn't already
// exist. SQLite files are created on first connect, so it is a no-op there.
func CreateDatabase(c config.DatabaseConfig) error {
	if c.DSN != "" {
		return nil
	}
	var (
		admin *gorm.DB
		err   error
		stmt  string
	)
	switch c.Driver {
	case "mysql":
		adminCfg := c
		adminCfg.Name = ""
		admin, err = gorm.Open(mysql.Open(MySQLDSN(adminCfg)), gormConfig())
		stmt = fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", c.Name)
	case "postgres":
		adminCfg := c
		adminCfg.Name = "postgres"
		admin, err = gorm.Open(postgres.Open(PostgresDSN(adminCfg)), gormConfig())
		if err == nil {
			var count int64
			if err := admin.Raw("SELECT count(*) FROM pg_database WHERE datname = ?", c.Name).Scan(&count).Error; err != nil {
				return fmt.Errorf("db: check database %s: %w", c.Name, err)
			}
			if count > 0 {
				return nil
			}
		}
		stmt = fmt.Sprintf(`CREATE DATABASE "%s"`, c.Name)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("db: admin connect to %s:%d: %w", c.Host, c.Port, err)
	}
	if err := admin.Exec(stmt).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", c.Name, err)
	}
	return nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	}
}
