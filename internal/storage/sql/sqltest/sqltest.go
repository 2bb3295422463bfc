// Package sqltest 提供基于内存 SQLite 的测试存储。
package sqltest

import (
	"testing"

	"github.com/stretchr/testify/require"

	sqlstore "tourney/backend/internal/storage/sql"
)

// NewStore 打开一个迁移完成的 :memory: 存储，测试结束时自动关闭。
func NewStore(t testing.TB) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.NewStore("sqlite", ":memory:", sqlstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
