package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"pghere/internal/util"
)

// BunDB wraps a Bun database instance for type-safe queries.
type BunDB struct {
	*bun.DB
}

// NewBunDB wraps an existing *sql.DB with Bun's type-safe query builder.
func NewBunDB(sqlDB *sql.DB) *BunDB {
	return &BunDB{DB: bun.NewDB(sqlDB, sqlitedialect.New())}
}

// GetSchemaInfo retrieves a schema info value by key.
func (db *BunDB) GetSchemaInfo(ctx context.Context, key string) (string, error) {
	var info SchemaInfoModel
	err := db.NewSelect().
		Model(&info).
		Where("key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.Value, nil
}

// InsertOperation inserts an operation row and returns its ID.
// Retries on "database is locked", which two concurrent invocations against
// the same project can hit during a WAL checkpoint.
func (db *BunDB) InsertOperation(ctx context.Context, m *OperationModel) (int64, error) {
	return util.RetryWithResult(ctx,
		func() (int64, error) {
			m.ID = 0
			_, err := db.NewInsert().
				Model(m).
				Returning("id").
				Exec(ctx)
			if err != nil {
				return 0, err
			}
			return m.ID, nil
		},
		util.DatabaseRetryOptions(ctx)...,
	)
}

// ListOperations returns up to limit rows, newest first. limit <= 0 means all.
func (db *BunDB) ListOperations(ctx context.Context, limit int) ([]OperationModel, error) {
	var models []OperationModel
	q := db.NewSelect().
		Model(&models).
		Order("started_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return models, nil
}

// CountOperations returns the number of rows with the given status, or all
// rows when status is empty.
func (db *BunDB) CountOperations(ctx context.Context, status string) (int, error) {
	q := db.NewSelect().Model((*OperationModel)(nil))
	if status != "" {
		q = q.Where("status = ?", status)
	}
	return q.Count(ctx)
}
