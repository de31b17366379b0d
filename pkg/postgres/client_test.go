package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forward-index/pkg/config"
)

// Runs against a live server named by TEST_POSTGRES_HOST. One connection
// keeps the temp table visible to every statement.
func TestInTxAgainstPostgres(t *testing.T) {
	host := os.Getenv("TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("TEST_POSTGRES_HOST not set")
	}
	ctx := context.Background()
	c, err := New(ctx, config.PostgresConfig{
		Host: host, Port: 5432, Database: "forwardindex_test",
		User: "forwardindex", Password: "localdev", SSLMode: "disable",
		MaxOpenConns: 1, MaxIdleConns: 1, ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Ping(ctx))

	_, err = c.DB.ExecContext(ctx, `CREATE TEMP TABLE tx_probe (n INT)`)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = c.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tx_probe VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, c.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO tx_probe VALUES (2)`)
		return err
	}))

	var sum int
	require.NoError(t, c.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(n), 0) FROM tx_probe`).Scan(&sum))
	assert.Equal(t, 2, sum)
}

func TestNewGivesUpWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := New(ctx, config.PostgresConfig{
		Host: "127.0.0.1", Port: 1, Database: "forwardindex",
		User: "forwardindex", Password: "localdev", SSLMode: "disable",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}
