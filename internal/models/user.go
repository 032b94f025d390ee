/**
 * internal/models/user.go
 * 用户模型和数据访问层
 *
 * 功能：
 * - 用户数据结构定义
 * - 用户查询（按 ID、邮箱、用户名、第三方 OpenID）
 * - 用户创建（同一事务内绑定角色）
 * - 登录时间、头像、安全戳更新
 * - 唯一约束冲突到业务错误的映射
 *
 * 依赖：
 * - github.com/jackc/pgx/v5: PostgreSQL 驱动
 */

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hiblogs-account/internal/utils"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ====================  错误定义 ====================

var (
	// ErrUserNotFound 用户未找到
	ErrUserNotFound = errors.New("USER_NOT_FOUND")
	// ErrEmailExists 邮箱已存在
	ErrEmailExists = errors.New("EMAIL_EXISTS")
	// ErrUsernameExists 用户名已存在
	ErrUsernameExists = errors.New("USERNAME_EXISTS")
	// ErrOpenIDExists 第三方账号已绑定
	ErrOpenIDExists = errors.New("OPEN_ID_EXISTS")
	// ErrInvalidUserData 无效的用户数据
	ErrInvalidUserData = errors.New("INVALID_USER_DATA")
	// ErrUserRepoDBNotReady 数据库未就绪
	ErrUserRepoDBNotReady = errors.New("DB_NOT_READY")
	// ErrUserRepoEmptyIdentifier 空的查询标识符
	ErrUserRepoEmptyIdentifier = errors.New("EMPTY_IDENTIFIER")
)

// 唯一约束名称，与 initTables 中的 CONSTRAINT 保持一致
const (
	constraintUsername = "users_username_key"
	constraintEmail    = "users_email_key"
	constraintOpenID   = "users_open_id_key"

	// pgUniqueViolation PostgreSQL 唯一约束冲突错误码
	pgUniqueViolation = "23505"
)

// userColumns 查询列，顺序与 scanUser 一致
const userColumns = `id, username, email, password, nickname, avatar_url,
	open_id, oauth_provider, security_stamp, last_login_at, created_at, updated_at`

// ====================  数据结构 ====================

// User 用户模型
type User struct {
	ID            int64          `json:"id"`
	Username      string         `json:"userName"`
	Email         string         `json:"email"`
	Password      string         `json:"-"`
	Nickname      string         `json:"nickName"`
	AvatarURL     string         `json:"avatarUrl"`
	OpenID        sql.NullString `json:"-"`
	OAuthProvider sql.NullString `json:"-"`
	SecurityStamp string         `json:"-"`
	LastLoginAt   sql.NullTime   `json:"-"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// DisplayName 返回展示名称，昵称为空时回退到用户名
func (u *User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.Username
}

// Validate 验证创建用户时的必填字段
func (u *User) Validate() error {
	if u.Username == "" || u.Email == "" || u.Password == "" || u.SecurityStamp == "" {
		return ErrInvalidUserData
	}
	return nil
}

// UserRepository 用户仓库
type UserRepository struct{}

// NewUserRepository 创建用户仓库实例
func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

// ====================  查询 ====================

// FindByID 根据 ID 查找用户
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	if id <= 0 {
		return nil, ErrUserRepoEmptyIdentifier
	}
	return r.findOne(ctx, "FindByID", id, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByEmail 根据邮箱查找用户（邮箱已在入口统一小写）
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	if email == "" {
		return nil, ErrUserRepoEmptyIdentifier
	}
	return r.findOne(ctx, "FindByEmail", email, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// FindByUsername 根据用户名查找用户
// 用户名区分大小写，Alice 与 alice 是两个用户
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	if username == "" {
		return nil, ErrUserRepoEmptyIdentifier
	}
	return r.findOne(ctx, "FindByUsername", username, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// FindByOpenID 根据第三方平台和 OpenID 查找用户
//
// 参数：
//   - provider: 平台标识（qq / sina）
//   - openID: 平台返回的用户唯一标识
func (r *UserRepository) FindByOpenID(ctx context.Context, provider, openID string) (*User, error) {
	if provider == "" || openID == "" {
		return nil, ErrUserRepoEmptyIdentifier
	}
	return r.findOne(ctx, "FindByOpenID", provider+":"+openID,
		`SELECT `+userColumns+` FROM users WHERE oauth_provider = $1 AND open_id = $2`, provider, openID)
}

// UsernameExists 检查用户名是否已被占用
func (r *UserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	if err := r.checkDB(); err != nil {
		return false, err
	}

	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, r.handleQueryError(err, "UsernameExists", username)
	}
	return exists, nil
}

// Count 返回用户总数（InitData 用于判断是否为空库）
func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	if err := r.checkDB(); err != nil {
		return 0, err
	}

	var n int64
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, r.handleQueryError(err, "Count", "-")
	}
	return n, nil
}

// ====================  写入 ====================

// CreateWithRole 创建用户并绑定角色
// 用户插入与角色绑定在同一事务中完成，角色不存在时整体回滚
//
// 参数：
//   - ctx: 上下文
//   - user: 待创建用户（ID、时间戳由数据库回填）
//   - roleName: 角色名称
//
// 返回：
//   - error: ErrUsernameExists / ErrEmailExists / ErrOpenIDExists / ErrRoleNotFound 或数据库错误
func (r *UserRepository) CreateWithRole(ctx context.Context, user *User, roleName string) error {
	if user == nil {
		return ErrInvalidUserData
	}
	if err := user.Validate(); err != nil {
		return err
	}
	if err := r.checkDB(); err != nil {
		return err
	}

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO users (username, email, password, nickname, avatar_url, open_id, oauth_provider, security_stamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at, updated_at
		`, user.Username, user.Email, user.Password, user.Nickname, user.AvatarURL,
			user.OpenID, user.OAuthProvider, user.SecurityStamp,
		).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_id)
			SELECT $1, id FROM roles WHERE name = $2
		`, user.ID, roleName)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrRoleNotFound, roleName)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			utils.LogPrintf("[USER] ERROR: CreateWithRole failed, role missing: %s", roleName)
			return err
		}
		return r.handleWriteError(err, "CreateWithRole", user.Username)
	}

	utils.LogPrintf("[USER] User created: id=%d, username=%s, role=%s", user.ID, user.Username, roleName)
	return nil
}

// TouchLogin 更新最后登录时间
func (r *UserRepository) TouchLogin(ctx context.Context, id int64) error {
	return r.exec(ctx, "TouchLogin", id, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, id)
}

// UpdateAvatar 更新头像地址
func (r *UserRepository) UpdateAvatar(ctx context.Context, id int64, avatarURL string) error {
	return r.exec(ctx, "UpdateAvatar", id,
		`UPDATE users SET avatar_url = $2, updated_at = NOW() WHERE id = $1`, id, avatarURL)
}

// UpdateSecurityStamp 更换安全戳，已签发的会话随之失效
func (r *UserRepository) UpdateSecurityStamp(ctx context.Context, id int64, stamp string) error {
	return r.exec(ctx, "UpdateSecurityStamp", id,
		`UPDATE users SET security_stamp = $2, updated_at = NOW() WHERE id = $1`, id, stamp)
}

// ====================  私有方法 ====================

// findOne 执行单行查询并扫描为 User
func (r *UserRepository) findOne(ctx context.Context, operation string, identifier interface{}, query string, args ...interface{}) (*User, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}

	user := &User{}
	err := pool.QueryRow(ctx, query, args...).Scan(
		&user.ID, &user.Username, &user.Email, &user.Password, &user.Nickname, &user.AvatarURL,
		&user.OpenID, &user.OAuthProvider, &user.SecurityStamp, &user.LastLoginAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, r.handleQueryError(err, operation, identifier)
	}
	return user, nil
}

// exec 执行单行更新，未命中时返回 ErrUserNotFound
func (r *UserRepository) exec(ctx context.Context, operation string, id int64, query string, args ...interface{}) error {
	if err := r.checkDB(); err != nil {
		return err
	}

	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return r.handleWriteError(err, operation, id)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// checkDB 检查数据库连接
func (r *UserRepository) checkDB() error {
	if GetPool() == nil {
		utils.LogPrintf("[USER] ERROR: Database pool is nil")
		return ErrUserRepoDBNotReady
	}
	return nil
}

// handleQueryError 处理查询错误
func (r *UserRepository) handleQueryError(err error, operation string, identifier interface{}) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}

	utils.LogPrintf("[USER] ERROR: %s failed: identifier=%v, error=%v", operation, identifier, err)
	return fmt.Errorf("%s failed: %w", operation, err)
}

// handleWriteError 处理写入错误
// 唯一约束冲突映射为业务错误，其余原样包装
func (r *UserRepository) handleWriteError(err error, operation string, identifier interface{}) error {
	if mapped := mapUniqueViolation(err); mapped != nil {
		return mapped
	}

	utils.LogPrintf("[USER] ERROR: %s failed: identifier=%v, error=%v", operation, identifier, err)
	return fmt.Errorf("%s failed: %w", operation, err)
}

// mapUniqueViolation 将 users 表的唯一约束冲突映射为业务错误
// 非唯一约束错误返回 nil
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return nil
	}

	switch pgErr.ConstraintName {
	case constraintUsername:
		return ErrUsernameExists
	case constraintEmail:
		return ErrEmailExists
	case constraintOpenID:
		return ErrOpenIDExists
	}
	return nil
}
