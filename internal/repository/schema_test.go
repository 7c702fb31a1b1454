package repository

import (
	"context"
	"errors"
	"testing"

	"dryer-alarm/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_ContainsActiveDedupIndex(t *testing.T) {
	assert.Contains(t, Schema, "CREATE UNIQUE INDEX IF NOT EXISTS uq_alerts_active_dryer_type")
	assert.Contains(t, Schema, "WHERE status = 'active'")
	assert.Contains(t, Schema, "CREATE TABLE IF NOT EXISTS sensor_readings")
}

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS dryers").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, EnsureSchema(context.Background(), db))

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS dryers").WillReturnError(errors.New("permission denied"))
	err = EnsureSchema(context.Background(), db)
	require.Error(t, err)
	assert.True(t, models.IsDataStore(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}
