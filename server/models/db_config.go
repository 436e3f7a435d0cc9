package models

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqliteEncrypt "github.com/Daskott/gorm-sqlite-cipher"
	"github.com/Daskott/safeline/server/auth"
	"github.com/Daskott/safeline/server/logger"
	"github.com/Daskott/safeline/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const DB_NAME = "safeline.db"

var (
	logg = logger.NewLogger()
	db   *gorm.DB

	// DefaultCountryCode is used to canonicalize phone numbers without an
	// international prefix
	DefaultCountryCode = "1"
)

// AutoMigrate opens the db in dbRootDir, migrates the schema and inserts seed data
func AutoMigrate(passPhrase string, dbRootDir string) error {
	dbFilePath, err := DbFilePath(dbRootDir)
	if err != nil {
		return fmt.Errorf("failed to set sqlite DSN: %v", err)
	}

	err = openDB(dbDSN(fmt.Sprintf("file:%v", dbFilePath), passPhrase))
	if err != nil {
		return err
	}

	return migrate()
}

// InitializeTestDb points the package at a fresh in-memory db
func InitializeTestDb() {
	auth.BcryptCost = bcrypt.MinCost

	name := fmt.Sprintf("file:safeline-test-%v?mode=memory&cache=shared", uuid.NewString())
	err := openDB(dbDSN(name, "test-pass-phrase"))
	if err != nil {
		log.Panic(err)
	}

	err = migrate()
	if err != nil {
		log.Panic(err)
	}
}

// DbFilePath returns the path of the sqlite file in dbRootDir, creating the
// "db" folder if needed
func DbFilePath(dbRootDir string) (string, error) {
	dbDir := filepath.Join(dbRootDir, "db")

	err := utils.CreateDirIfNotExist(dbDir)
	if err != nil {
		return "", err
	}

	return filepath.Join(dbDir, DB_NAME), nil
}

// CloseDB closes the underlying sql connection pool
func CloseDB() error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CheckpointDB flushes the write-ahead log into the db file, so a copy of the
// file holds every committed transaction
func CheckpointDB() error {
	return db.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func openDB(dsn string) error {
	var err error

	db, err = gorm.Open(sqliteEncrypt.Open(dsn), &gorm.Config{
		NowFunc: now,
		Logger: gormLogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormLogger.Config{
				LogLevel:                  gormLogger.Silent,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to connect database: %v", err)
	}

	// sqlite allows a single writer, so all access goes through one connection.
	// Code running inside a transaction must only use the 'tx' handle.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	return nil
}

func migrate() error {
	err := db.AutoMigrate(
		&JobStatus{}, &Job{}, &Role{}, &User{},
		&EmergencyContact{}, &Invitation{}, &LiveLocation{},
		&SosAlert{}, &SosNotification{}, &FakeCallSetting{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %v", err)
	}

	return populateDBWithSeedData()
}

func populateDBWithSeedData() error {
	if err := db.First(&JobStatus{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		logg.Info("Inserting seed data into 'JobStatus'")
		err = db.Create(&[]JobStatus{
			{Name: ENQUEUED_JOB}, {Name: IN_PROGRESS_JOB}, {Name: SUCCESSFUL_JOB}, {Name: DEAD_JOB}, {Name: SCHEDULED_JOB},
		}).Error
		if err != nil {
			return err
		}
	}

	if err := db.First(&Role{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		logg.Info("Inserting seed data into 'Role'")
		err = db.Create(&[]Role{{Name: ADMIN_USER_ROLE}, {Name: BASIC_USER_ROLE}}).Error
		if err != nil {
			return err
		}
	}

	return nil
}

func dbDSN(name, passPhrase string) string {
	separator := "?"
	if strings.Contains(name, "?") {
		separator = "&"
	}

	return fmt.Sprintf(
		"%v%v_pragma_key=%s&_pragma_cipher_page_size=4096&_journal_mode=WAL&_busy_timeout=5000",
		name,
		separator,
		passPhrase,
	)
}

// now is used for every timestamp so stored times compare lexically
func now() time.Time {
	return time.Now().UTC()
}
