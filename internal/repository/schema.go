package repository

import (
	"context"
	"database/sql"
	_ "embed"

	"dryer-alarm/internal/models"
)

// Schema 建表语句（幂等）
//
//go:embed schema.sql
var Schema string

// EnsureSchema 创建表与索引（已存在时跳过）
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return models.NewDataStoreError("ensure schema", err)
	}
	return nil
}
