/**
 * internal/models/role.go
 * 角色数据访问层
 *
 * 功能：
 * - 内置角色定义（Administrator / Admin / Average）
 * - 角色创建（幂等）
 * - 角色绑定与查询
 */

package models

import (
	"context"
	"errors"
	"fmt"
	"hiblogs-account/internal/utils"
)

// ====================  错误定义 ====================

var (
	// ErrRoleNotFound 角色不存在
	ErrRoleNotFound = errors.New("ROLE_NOT_FOUND")
)

// ====================  常量定义 ====================

const (
	// RoleAdministrator 超级管理员
	RoleAdministrator = "Administrator"
	// RoleAdmin 管理员
	RoleAdmin = "Admin"
	// RoleAverage 普通用户，注册和第三方登录创建的账户默认角色
	RoleAverage = "Average"
)

// BuiltinRoles 初始化数据时创建的角色
var BuiltinRoles = []string{RoleAdministrator, RoleAdmin, RoleAverage}

// RoleRepository 角色仓库
type RoleRepository struct{}

// NewRoleRepository 创建角色仓库
func NewRoleRepository() *RoleRepository {
	return &RoleRepository{}
}

// EnsureRoles 确保角色存在，已存在的角色忽略
func (r *RoleRepository) EnsureRoles(ctx context.Context, names ...string) error {
	if GetPool() == nil {
		return ErrDBNotInitialized
	}

	for _, name := range names {
		if _, err := pool.Exec(ctx,
			`INSERT INTO roles (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
			utils.LogPrintf("[ROLE] ERROR: Failed to ensure role %s: %v", name, err)
			return fmt.Errorf("ensure role %s: %w", name, err)
		}
	}
	return nil
}

// RolesOf 返回用户拥有的角色名称
func (r *RoleRepository) RolesOf(ctx context.Context, userID int64) ([]string, error) {
	if GetPool() == nil {
		return nil, ErrDBNotInitialized
	}

	rows, err := pool.Query(ctx, `
		SELECT r.name FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
