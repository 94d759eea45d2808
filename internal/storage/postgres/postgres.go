// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/solana-tradecore/internal/storage"
	"github.com/rovshanmuradov/solana-tradecore/internal/storage/models"
)

// gormLogger bridges GORM's logger.Interface onto zap.
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.zapLogger.Error("query", append(fields, zap.Error(err))...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Info("query", fields...)
	}
}

type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStorage connects to Postgres and returns a Storage backed by it.
func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStorage{db: db, logger: zapLogger}, nil
}

// RunMigrations auto-migrates under an advisory lock so concurrent
// instances cannot race the schema.
func (p *postgresStorage) RunMigrations() error {
	var lockObtained bool
	if err := p.db.Raw("SELECT pg_try_advisory_lock(101)").Scan(&lockObtained).Error; err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer p.db.Exec("SELECT pg_advisory_unlock(101)")

	if err := p.db.AutoMigrate(&models.Execution{}, &models.Rejection{}); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (p *postgresStorage) SaveExecution(ctx context.Context, exec *models.Execution) error {
	return p.db.WithContext(ctx).Create(exec).Error
}

func (p *postgresStorage) GetExecution(ctx context.Context, signature string) (*models.Execution, error) {
	var exec models.Execution
	err := p.db.WithContext(ctx).Where("signature = ?", signature).First(&exec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

func (p *postgresStorage) ListExecutions(ctx context.Context, walletRef string, limit, offset int) ([]*models.Execution, error) {
	var execs []*models.Execution
	err := p.db.WithContext(ctx).
		Where("wallet_ref = ?", walletRef).
		Order("submitted_at desc").
		Limit(limit).
		Offset(offset).
		Find(&execs).Error
	return execs, err
}

func (p *postgresStorage) SaveRejection(ctx context.Context, rejection *models.Rejection) error {
	return p.db.WithContext(ctx).Create(rejection).Error
}

func (p *postgresStorage) ListRejections(ctx context.Context, tokenID string, limit, offset int) ([]*models.Rejection, error) {
	var rejections []*models.Rejection
	err := p.db.WithContext(ctx).
		Where("token_id = ?", tokenID).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&rejections).Error
	return rejections, err
}

func (p *postgresStorage) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
