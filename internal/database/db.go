package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"olive-backend/internal/config"
	"olive-backend/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init(cfg *config.Config) {
	var err error

	DB, err = Open(cfg.DatabaseDSN, cfg.IsProduction())
	if err != nil {
		logrus.Fatalf("could not connect to database: %v", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		logrus.Fatalf("could not get database handle: %v", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(55 * time.Minute)

	if err := Migrate(DB); err != nil {
		logrus.Fatalf("AutoMigrate failed: %v", err)
	}

	seeded, err := SeedFactoryPool(DB, cfg.BoxPoolSize)
	if err != nil {
		logrus.Fatalf("factory box pool seeding failed: %v", err)
	}
	if seeded > 0 {
		logrus.WithField("boxes", seeded).Info("factory box pool seeded")
	}

	logrus.Info("database connected, migration completed")
}

// Open connects to Postgres, retrying while the server comes up.
func Open(dsn string, production bool) (*gorm.DB, error) {
	logLevel := gormlogger.Warn
	if !production {
		logLevel = gormlogger.Info
	}

	var lastErr error
	for attempt := 1; attempt <= 8; attempt++ {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger:         gormlogger.Default.LogMode(logLevel),
			TranslateError: true,
		})
		if err == nil {
			return db, nil
		}
		lastErr = err
		logrus.WithField("attempt", attempt).Warnf("database connect failed: %v", err)
		time.Sleep(time.Duration(attempt*attempt) * 300 * time.Millisecond)
	}
	return nil, fmt.Errorf("database connect failed after retries: %w", lastErr)
}

// Models lists every table owned by the service, in dependency order.
func Models() []any {
	return []any{
		&models.User{},
		&models.Farmer{},
		&models.Box{},
		&models.SessionCounter{},
		&models.ProcessingSession{},
		&models.SessionBox{},
		&models.PaymentTransaction{},
		&models.Transaction{},
		&models.OilSafe{},
		&models.OlivePurchase{},
		&models.AuditLog{},
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// SeedFactoryPool creates boxes "1".."size" that do not exist yet and returns how many
// were inserted. Existing rows are never touched.
func SeedFactoryPool(db *gorm.DB, size int) (int64, error) {
	boxes := make([]models.Box, 0, size)
	for i := 1; i <= size; i++ {
		boxes = append(boxes, models.Box{
			ID:     strconv.Itoa(i),
			Pool:   models.BoxPoolFactory,
			Type:   models.BoxTypeNormal,
			Status: models.BoxStatusAvailable,
		})
	}

	res := db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&boxes, 200)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// Ping runs a trivial statement to verify the connection.
func Ping(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Exec("SELECT 1").Error
}
