// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/rovshanmuradov/solana-tradecore/internal/storage/models"
)

// Storage persists terminal executions and validation rejections.
type Storage interface {
	SaveExecution(ctx context.Context, exec *models.Execution) error
	GetExecution(ctx context.Context, signature string) (*models.Execution, error)
	ListExecutions(ctx context.Context, walletRef string, limit, offset int) ([]*models.Execution, error)

	SaveRejection(ctx context.Context, rejection *models.Rejection) error
	ListRejections(ctx context.Context, tokenID string, limit, offset int) ([]*models.Rejection, error)

	RunMigrations() error
	Close() error
}

// NoOp satisfies Storage without persisting anything; used when no
// database is configured.
type NoOp struct{}

func (NoOp) SaveExecution(context.Context, *models.Execution) error { return nil }
func (NoOp) GetExecution(context.Context, string) (*models.Execution, error) {
	return nil, ErrNotFound
}
func (NoOp) ListExecutions(context.Context, string, int, int) ([]*models.Execution, error) {
	return nil, nil
}
func (NoOp) SaveRejection(context.Context, *models.Rejection) error { return nil }
func (NoOp) ListRejections(context.Context, string, int, int) ([]*models.Rejection, error) {
	return nil, nil
}
func (NoOp) RunMigrations() error { return nil }
func (NoOp) Close() error         { return nil }
