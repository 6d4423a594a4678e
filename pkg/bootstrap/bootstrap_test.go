package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterbar/internal/config"
	"waterbar/internal/logger"
)

func TestShutdownRunsInReverse(t *testing.T) {
	b := NewBase(&config.Config{}, logger.NopLogger())

	var order []string
	b.OnShutdownClose("first", func() error {
		order = append(order, "first")
		return nil
	})
	b.OnShutdown("second", func(context.Context) error {
		order = append(order, "second")
		return errors.New("stuck")
	})

	err := b.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second close error")
	assert.Equal(t, []string{"second", "first"}, order)

	// closers run once
	require.NoError(t, b.Shutdown(context.Background()))
	assert.Len(t, order, 2)
}

func TestInitSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	cfg := &config.Config{Database: config.DatabaseConfig{SQLite: config.SQLiteConfig{Path: path}}}
	dc := NewDatabaseConnector(cfg, logger.NopLogger())

	db, err := dc.InitSQLite(context.Background())
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestInitSQLiteRequiresPath(t *testing.T) {
	dc := NewDatabaseConnector(&config.Config{}, logger.NopLogger())
	_, err := dc.InitSQLite(context.Background())
	assert.Error(t, err)
}

func TestInitMongoDBOptional(t *testing.T) {
	dc := NewDatabaseConnector(&config.Config{}, logger.NopLogger())
	db, err := dc.InitMongoDB(context.Background())
	require.NoError(t, err)
	assert.Nil(t, db)
}
