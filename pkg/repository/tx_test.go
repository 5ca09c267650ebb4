package repository_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := repository.OpenDatabase(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		AutoMigrate: true,
	}, zap.NewNop())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestWithTx_Commit(t *testing.T) {
	db := openSQLite(t)
	ctx := t.Context()

	id, err := repository.WithTx(ctx, db, func(tx *gorm.DB) (string, error) {
		tag := models.Tag{ID: "t1", Name: "summer"}
		return tag.ID, tx.Create(&tag).Error
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", id)

	var count int64
	require.NoError(t, db.Model(&models.Tag{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db := openSQLite(t)
	ctx := t.Context()

	boom := errors.New("boom")
	_, err := repository.WithTx(ctx, db, func(tx *gorm.DB) (struct{}, error) {
		if err := tx.Create(&models.Tag{ID: "t2", Name: "winter"}).Error; err != nil {
			return struct{}{}, err
		}
		return struct{}{}, boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.Tag{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWithTx_Nested(t *testing.T) {
	db := openSQLite(t)
	ctx := t.Context()

	_, err := repository.WithTx(ctx, db, func(tx *gorm.DB) (int, error) {
		return repository.WithTx(ctx, tx, func(inner *gorm.DB) (int, error) {
			return 0, inner.Create(&models.Tag{ID: "t3", Name: "autumn"}).Error
		})
	})
	require.NoError(t, err)

	var tag models.Tag
	require.NoError(t, db.First(&tag, "id = ?", "t3").Error)
	assert.Equal(t, "autumn", tag.Name)
}

func TestIsDuplicateKey(t *testing.T) {
	db := openSQLite(t)

	require.NoError(t, db.Create(&models.Tag{ID: "a", Name: "dup"}).Error)
	err := db.Create(&models.Tag{ID: "b", Name: "dup"}).Error
	require.Error(t, err)
	assert.True(t, repository.IsDuplicateKey(err))
	assert.False(t, repository.IsDuplicateKey(errors.New("other")))
}
