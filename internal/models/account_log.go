/**
 * internal/models/account_log.go
 * 账户操作日志模型和数据访问层
 *
 * 功能：
 * - 激活、登录、第三方登录、退出等账户操作记录
 * - JSON 灵活存储详情
 * - 过期日志清理
 *
 * 依赖：
 * - PostgreSQL 数据库连接池
 */

package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hiblogs-account/internal/utils"
	"time"
)

// ====================  错误定义 ====================

var (
	// ErrAccountLogInvalidData 无效的日志数据
	ErrAccountLogInvalidData = errors.New("INVALID_ACCOUNT_LOG")
)

// ====================  常量定义 ====================

const (
	// AccountActionActivate 邮件激活完成注册
	AccountActionActivate = "activate"
	// AccountActionLogin 用户名密码登录
	AccountActionLogin = "login"
	// AccountActionOAuthLogin 第三方登录
	AccountActionOAuthLogin = "oauth_login"
	// AccountActionLogoff 退出登录
	AccountActionLogoff = "logoff"
	// AccountActionSeed 初始化数据创建的账户
	AccountActionSeed = "seed"
)

// accountLogRetention 日志保留时长
const accountLogRetention = "6 months"

// ====================  数据结构 ====================

// AccountLog 账户操作日志
type AccountLog struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"userId"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// LoginDetails 登录详情
type LoginDetails struct {
	Persistent bool   `json:"persistent"`
	Provider   string `json:"provider,omitempty"`
	Created    bool   `json:"created,omitempty"`
}

// AccountLogRepository 账户日志仓库
type AccountLogRepository struct{}

// NewAccountLogRepository 创建账户日志仓库
func NewAccountLogRepository() *AccountLogRepository {
	return &AccountLogRepository{}
}

// ====================  写入方法 ====================

// Record 写入一条账户日志
//
// 参数：
//   - ctx: 上下文
//   - userID: 用户 ID
//   - action: 操作类型（AccountAction* 常量）
//   - details: 详情，可为 nil，非 nil 时序列化为 JSONB
func (r *AccountLogRepository) Record(ctx context.Context, userID int64, action string, details interface{}) error {
	if userID <= 0 || action == "" {
		return ErrAccountLogInvalidData
	}
	if GetPool() == nil {
		return ErrDBNotInitialized
	}

	var raw []byte
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal details failed: %w", err)
		}
		raw = b
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO account_logs (user_id, action, details)
		VALUES ($1, $2, $3)
	`, userID, action, raw)
	if err != nil {
		utils.LogPrintf("[ACCOUNT_LOG] ERROR: Failed to record log: user_id=%d, action=%s, error=%v", userID, action, err)
		return fmt.Errorf("record account log failed: %w", err)
	}
	return nil
}

// ====================  查询方法 ====================

// FindByUserID 查询用户最近的操作日志
func (r *AccountLogRepository) FindByUserID(ctx context.Context, userID int64, limit int) ([]*AccountLog, error) {
	if GetPool() == nil {
		return nil, ErrDBNotInitialized
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := pool.Query(ctx, `
		SELECT id, user_id, action, details, created_at
		FROM account_logs
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query account logs failed: %w", err)
	}
	defer rows.Close()

	logs := make([]*AccountLog, 0, limit)
	for rows.Next() {
		l := &AccountLog{}
		if err := rows.Scan(&l.ID, &l.UserID, &l.Action, &l.Details, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account log failed: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// DeleteExpired 删除超过保留期的日志，由后台任务每天调用
func (r *AccountLogRepository) DeleteExpired(ctx context.Context) (int64, error) {
	if GetPool() == nil {
		return 0, ErrDBNotInitialized
	}

	tag, err := pool.Exec(ctx,
		"DELETE FROM account_logs WHERE created_at < NOW() - INTERVAL '"+accountLogRetention+"'")
	if err != nil {
		utils.LogPrintf("[ACCOUNT_LOG] ERROR: Failed to delete expired logs: %v", err)
		return 0, fmt.Errorf("delete expired logs failed: %w", err)
	}

	if n := tag.RowsAffected(); n > 0 {
		utils.LogPrintf("[ACCOUNT_LOG] Expired logs deleted: count=%d", n)
	}
	return tag.RowsAffected(), nil
}
