package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite" // SQLite driver

	"tourney/backend/internal/domain"
	"tourney/backend/internal/storage"
)

var _ storage.Store = (*Store)(nil)

func init() {
	// modernc 注册的驱动名为 sqlite，sqlx 默认表中只有 sqlite3
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Store SQL 数据库存储实现（支持 SQLite、MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db         *sqlx.DB
	driverName string // "sqlite", "mysql" or "postgres"
	now        func() time.Time
}

// Options 连接池参数
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore 创建SQL数据库存储并执行迁移
func NewStore(driverName, dsn string, opts Options) (*Store, error) {
	switch driverName {
	case "sqlite", "mysql", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, mysql, postgres)", driverName)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driverName == "sqlite" {
		// SQLite 只允许一个写连接，:memory: 数据库也必须共用同一连接
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
		if dsn != ":memory:" {
			if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
			}
		}
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{
		db:         db,
		driverName: driverName,
		now:        func() time.Time { return time.Now().UTC() },
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.PingContext(ctx)
}

// DB 返回底层连接，供迁移工具使用
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

// notFound 把 sql.ErrNoRows 转为 domain.ErrNotFound
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	}
	return err
}

// isUniqueViolation 判断是否违反唯一约束
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
