package database

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPoolOptions(t *testing.T) {
	config, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/coursehub")
	require.NoError(t, err)
	defaults := *config

	applyPoolOptions(config, PoolOptions{})
	assert.Equal(t, defaults.MaxConns, config.MaxConns)
	assert.Equal(t, defaults.MaxConnLifetime, config.MaxConnLifetime)

	applyPoolOptions(config, PoolOptions{MaxConns: 20, MinConns: 2, MaxConnLifetime: 10 * time.Minute})
	assert.EqualValues(t, 20, config.MaxConns)
	assert.EqualValues(t, 2, config.MinConns)
	assert.Equal(t, 10*time.Minute, config.MaxConnLifetime)

	applyPoolOptions(config, PoolOptions{MinConns: 50})
	assert.EqualValues(t, 2, config.MinConns)
}
