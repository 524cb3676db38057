package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLConfig 描述从 MySQL 加载目录所需的连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// LoadMySQL 从 MySQL 读取目录定义。表不存在时自动建表并返回空目录，
// 便于运营侧通过外部工具灌入条目。
func LoadMySQL(ctx context.Context, cfg MySQLConfig) (*Catalog, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, name, description, price_unit, capabilities,
        category, owner, rating, total_uses, avg_latency_sec, success_rate
        FROM provider_catalog ORDER BY position ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("查询目录失败: %w", err)
	}
	defer rows.Close()

	var providers []Provider
	for rows.Next() {
		var p Provider
		var capabilities string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.PriceUnit, &capabilities,
			&p.Category, &p.Owner, &p.Rating, &p.TotalUses, &p.AvgLatencySec, &p.SuccessRate); err != nil {
			return nil, fmt.Errorf("读取目录行失败: %w", err)
		}
		if capabilities != "" {
			if err := json.Unmarshal([]byte(capabilities), &p.Capabilities); err != nil {
				return nil, fmt.Errorf("解析能力列表失败 (%s): %w", p.ID, err)
			}
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历目录失败: %w", err)
	}
	return New(providers), nil
}

func openDatabase(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS provider_catalog (
        id VARCHAR(64) NOT NULL PRIMARY KEY,
        name VARCHAR(128) NOT NULL,
        description TEXT,
        price_unit DOUBLE NOT NULL DEFAULT 0,
        capabilities TEXT,
        category VARCHAR(64) NOT NULL DEFAULT '',
        owner VARCHAR(64) NOT NULL DEFAULT '',
        rating DOUBLE NOT NULL DEFAULT 0,
        total_uses INT NOT NULL DEFAULT 0,
        avg_latency_sec DOUBLE NOT NULL DEFAULT 0,
        success_rate DOUBLE NOT NULL DEFAULT 0,
        position INT NOT NULL DEFAULT 0
)`)
	if err != nil {
		return fmt.Errorf("创建 provider_catalog 表失败: %w", err)
	}
	return nil
}
