// Package factory 按配置选择存储后端。
package factory

import (
	"fmt"

	"go.uber.org/zap"

	"tourney/backend/internal/config"
	"tourney/backend/internal/storage"
	"tourney/backend/internal/storage/postgres"
	sqlstore "tourney/backend/internal/storage/sql"
)

const (
	DriverSQLX = "sqlx"
	DriverGORM = "gorm"
)

// Open 打开主存储并执行迁移。
//
// sqlite 固定走 sqlx；mysql 与 postgres 由 database.driver 决定走 sqlx 还是 gorm，
// gorm + postgres 使用 pgx 连接池。
func Open(cfg config.DatabaseConfig, log *zap.Logger) (storage.Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	driver := cfg.Driver
	if driver == "" || cfg.Type == "sqlite" {
		driver = DriverSQLX
	}

	switch driver {
	case DriverSQLX:
		store, err := sqlstore.NewStore(cfg.Type, cfg.DSN, sqlstore.Options{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		log.Info("storage opened", zap.String("type", cfg.Type), zap.String("driver", driver))
		return store, nil

	case DriverGORM:
		var (
			store *postgres.Store
			err   error
		)
		switch cfg.Type {
		case "postgres":
			client, cerr := postgres.New(&cfg, log)
			if cerr != nil {
				return nil, cerr
			}
			if store, err = postgres.NewStore(client); err != nil {
				client.Close()
			}
		case "mysql":
			store, err = postgres.NewMySQLStore(cfg.DSN)
		default:
			return nil, fmt.Errorf("driver gorm does not support database type %q", cfg.Type)
		}
		if err != nil {
			return nil, err
		}
		log.Info("storage opened", zap.String("type", cfg.Type), zap.String("driver", driver))
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported database.driver %q (supported: sqlx, gorm)", driver)
	}
}
