package data

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ConnectMySQL opens a gorm DB with sane defaults.
func ConnectMySQL(dsn string) (*gorm.DB, error) {
	dsn = ensureParam(dsn, "parseTime", "true")
	if !strings.Contains(dsn, "charset=") {
		dsn = ensureParam(dsn, "charset", "utf8mb4")
		dsn = ensureParam(dsn, "collation", "utf8mb4_unicode_ci")
	}
	return gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLogger()})
}

// ConnectSQLite opens an embedded database. An empty path gives a private
// in-memory database.
func ConnectSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		path = "file::memory:"
	}
	db, err := gorm.Open(sqlite.Open(ensureParam(path, "_pragma", "busy_timeout(5000)")), &gorm.Config{Logger: gormLogger()})
	if err != nil {
		return nil, err
	}
	if strings.Contains(path, ":memory:") {
		// every pooled connection would otherwise see its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Connect opens the database for the given driver name.
func Connect(driver, dsn string) (*gorm.DB, error) {
	switch strings.ToLower(driver) {
	case "", "mysql":
		return ConnectMySQL(dsn)
	case "sqlite":
		return ConnectSQLite(dsn)
	}
	return nil, fmt.Errorf("unsupported db driver %q", driver)
}

func gormLogger() logger.Interface {
	return logger.New(
		log.New(logrus.StandardLogger().WriterLevel(logrus.WarnLevel), "\r\n", log.LstdFlags),
		logger.Config{SlowThreshold: time.Second, LogLevel: logger.Warn, IgnoreRecordNotFoundError: true, Colorful: false},
	)
}

func ensureParam(dsn, key, val string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + val
}
