/**
 * internal/models/db.go
 * 数据库连接模块
 *
 * 功能：
 * - PostgreSQL 连接池管理
 * - 账户相关数据表初始化（users / roles / user_roles / account_logs）
 * - 索引创建
 * - 连接健康检查
 * - 优雅关闭
 *
 * 依赖：
 * - github.com/jackc/pgx/v5: PostgreSQL 驱动
 * - Config: 数据库配置
 */

package models

import (
	"context"
	"errors"
	"fmt"
	"hiblogs-account/internal/utils"
	"sync"
	"time"

	"hiblogs-account/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ====================  错误定义 ====================

var (
	// ErrDBNotInitialized 数据库未初始化
	ErrDBNotInitialized = errors.New("DB_NOT_INITIALIZED")
	// ErrDBNilConfig 配置为空
	ErrDBNilConfig = errors.New("DB_NIL_CONFIG")
	// ErrDBEmptyURL 数据库 URL 为空
	ErrDBEmptyURL = errors.New("DB_EMPTY_URL")
	// ErrDBConnectionFailed 连接失败
	ErrDBConnectionFailed = errors.New("DB_CONNECTION_FAILED")
	// ErrDBPingFailed Ping 失败
	ErrDBPingFailed = errors.New("DB_PING_FAILED")
	// ErrDBTableInitFailed 表初始化失败
	ErrDBTableInitFailed = errors.New("DB_TABLE_INIT_FAILED")
)

// ====================  常量定义 ====================

const (
	// defaultMinConns 默认最小连接数
	defaultMinConns = 2

	// defaultMaxConnLifetime 默认连接最大生命周期
	defaultMaxConnLifetime = 30 * time.Minute

	// defaultMaxConnIdleTime 默认连接最大空闲时间
	defaultMaxConnIdleTime = 5 * time.Minute

	// defaultHealthCheckPeriod 默认健康检查周期
	defaultHealthCheckPeriod = 1 * time.Minute

	// pingTimeout Ping 超时时间
	pingTimeout = 5 * time.Second
)

// ====================  全局变量 ====================

var (
	// pool 数据库连接池
	pool *pgxpool.Pool

	// poolMu 连接池互斥锁
	poolMu sync.RWMutex
)

// ====================  公开函数 ====================

// InitDB 初始化数据库连接
// 参数：
//   - cfg: 应用配置
//
// 返回：
//   - error: 初始化失败时返回错误
func InitDB(cfg *config.Config) error {
	poolMu.Lock()
	defer poolMu.Unlock()

	// 参数验证
	if cfg == nil {
		utils.LogPrintf("[DATABASE] ERROR: Config is nil")
		return ErrDBNilConfig
	}

	if cfg.DatabaseURL == "" {
		utils.LogPrintf("[DATABASE] ERROR: Database URL is empty")
		return ErrDBEmptyURL
	}

	// 如果已经初始化，先关闭旧连接
	if pool != nil {
		utils.LogPrintf("[DATABASE] Closing existing connection pool")
		pool.Close()
		pool = nil
	}

	ctx := context.Background()

	// 解析连接配置
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		utils.LogPrintf("[DATABASE] ERROR: Failed to parse database URL: %v", err)
		return fmt.Errorf("parse database URL: %w", err)
	}

	// 配置连接池参数
	configurePool(poolConfig, cfg)

	// 创建连接池
	newPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		utils.LogPrintf("[DATABASE] ERROR: Failed to create connection pool: %v", err)
		return fmt.Errorf("%w: %v", ErrDBConnectionFailed, err)
	}

	// 测试连接
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := newPool.Ping(pingCtx); err != nil {
		newPool.Close()
		utils.LogPrintf("[DATABASE] ERROR: Failed to ping database: %v", err)
		return fmt.Errorf("%w: %v", ErrDBPingFailed, err)
	}

	// 设置全局连接池
	pool = newPool

	utils.LogPrintf("[DATABASE] PostgreSQL connected successfully (maxConns=%d, minConns=%d)",
		poolConfig.MaxConns, poolConfig.MinConns)

	// 初始化表
	if err := initTables(ctx); err != nil {
		utils.LogPrintf("[DATABASE] ERROR: Failed to initialize tables: %v", err)
		return fmt.Errorf("%w: %v", ErrDBTableInitFailed, err)
	}

	return nil
}

// GetPool 获取数据库连接池
// 返回：
//   - *pgxpool.Pool: 连接池实例，未初始化时返回 nil
func GetPool() *pgxpool.Pool {
	poolMu.RLock()
	defer poolMu.RUnlock()
	return pool
}

// CloseDB 关闭数据库连接
// 安全地关闭连接池，可重复调用
func CloseDB() {
	poolMu.Lock()
	defer poolMu.Unlock()

	if pool != nil {
		pool.Close()
		pool = nil
		utils.LogPrintf("[DATABASE] PostgreSQL connection pool closed")
	}
}

// HealthCheck 数据库健康检查
// 参数：
//   - ctx: 上下文（额外附加 5 秒超时）
//
// 返回：
//   - error: 健康检查失败时返回错误
func HealthCheck(ctx context.Context) error {
	poolMu.RLock()
	p := pool
	poolMu.RUnlock()

	if p == nil {
		return ErrDBNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		utils.LogPrintf("[DATABASE] WARN: Health check failed: %v", err)
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

// Stats 获取连接池统计信息
// 返回：
//   - *pgxpool.Stat: 统计信息，未初始化时返回 nil
func Stats() *pgxpool.Stat {
	poolMu.RLock()
	defer poolMu.RUnlock()

	if pool == nil {
		return nil
	}

	return pool.Stat()
}

// ====================  私有函数 ====================

// configurePool 配置连接池参数
// 参数：
//   - poolConfig: 连接池配置
//   - cfg: 应用配置
func configurePool(poolConfig *pgxpool.Config, cfg *config.Config) {
	// 设置最大连接数
	if cfg.DBMaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxConns)
	} else {
		poolConfig.MaxConns = 10 // 默认值
		utils.LogPrintf("[DATABASE] WARN: DBMaxConns not set, using default 10")
	}

	// 设置最小连接数
	poolConfig.MinConns = defaultMinConns

	// 设置连接生命周期
	poolConfig.MaxConnLifetime = defaultMaxConnLifetime

	// 设置连接空闲时间
	poolConfig.MaxConnIdleTime = defaultMaxConnIdleTime

	// 设置健康检查周期
	poolConfig.HealthCheckPeriod = defaultHealthCheckPeriod
}

// initTables 初始化数据库表
// 所有语句均为 IF NOT EXISTS，可重复执行
func initTables(ctx context.Context) error {
	tables := []struct {
		name string
		sql  string
	}{
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				id BIGSERIAL PRIMARY KEY,
				username VARCHAR(64) NOT NULL,
				email VARCHAR(255) NOT NULL,
				password VARCHAR(255) NOT NULL,
				nickname VARCHAR(64) NOT NULL DEFAULT '',
				avatar_url TEXT NOT NULL DEFAULT '',
				open_id VARCHAR(128),
				oauth_provider VARCHAR(16),
				security_stamp VARCHAR(64) NOT NULL,
				last_login_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT users_username_key UNIQUE (username),
				CONSTRAINT users_email_key UNIQUE (email),
				CONSTRAINT users_open_id_key UNIQUE (oauth_provider, open_id)
			)`},
		{"roles", `
			CREATE TABLE IF NOT EXISTS roles (
				id SERIAL PRIMARY KEY,
				name VARCHAR(32) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT roles_name_key UNIQUE (name)
			)`},
		{"user_roles", `
			CREATE TABLE IF NOT EXISTS user_roles (
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
				PRIMARY KEY (user_id, role_id)
			)`},
		{"account_logs", `
			CREATE TABLE IF NOT EXISTS account_logs (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				action VARCHAR(32) NOT NULL,
				details JSONB,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`},
	}

	for _, t := range tables {
		if _, err := pool.Exec(ctx, t.sql); err != nil {
			utils.LogPrintf("[DATABASE] ERROR: Failed to create %s table: %v", t.name, err)
			return fmt.Errorf("create %s table: %w", t.name, err)
		}
	}

	if err := createIndexes(ctx); err != nil {
		// 索引创建失败不是致命错误，只记录警告
		utils.LogPrintf("[DATABASE] WARN: Some indexes may not have been created: %v", err)
	}

	utils.LogPrintf("[DATABASE] Tables initialized successfully")
	return nil
}

// createIndexes 创建索引
// 唯一约束已自带索引，这里只补充查询用索引
func createIndexes(ctx context.Context) error {
	indexes := []struct {
		name string
		sql  string
	}{
		{"idx_user_roles_role_id", "CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id)"},
		{"idx_account_logs_user_id", "CREATE INDEX IF NOT EXISTS idx_account_logs_user_id ON account_logs(user_id)"},
		{"idx_account_logs_created_at", "CREATE INDEX IF NOT EXISTS idx_account_logs_created_at ON account_logs(created_at DESC)"},
	}

	var lastErr error
	successCount := 0

	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx.sql); err != nil {
			utils.LogPrintf("[DATABASE] WARN: Failed to create index %s: %v", idx.name, err)
			lastErr = err
		} else {
			successCount++
		}
	}

	utils.LogPrintf("[DATABASE] Indexes created: %d/%d", successCount, len(indexes))

	return lastErr
}
