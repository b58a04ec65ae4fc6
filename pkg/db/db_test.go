package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/savethedate/payments/internal/config"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: transactions.request_id")))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}

func TestDialect(t *testing.T) {
	for _, typ := range []string{"postgres", "mysql", "sqlite"} {
		d, err := Dialect(config.DBConfig{Type: typ, Name: "savethedate"})
		assert.NoError(t, err, typ)
		assert.NotNil(t, d, typ)
	}
	_, err := Dialect(config.DBConfig{Type: "oracle"})
	assert.Error(t, err)
}

func TestMigrationURL(t *testing.T) {
	cfg := config.DBConfig{User: "app", Password: "pw", Host: "db", Port: "5432", Name: "savethedate", SSLMode: "disable"}
	assert.Equal(t, "postgres://app:pw@db:5432/savethedate?sslmode=disable", MigrationURL(cfg))
}
