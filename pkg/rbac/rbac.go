package rbac

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

// 权限常量
const (
	PermissionReadTask   = "task:read"
	PermissionWriteTask  = "task:write"
	PermissionDeleteTask = "task:delete"

	PermissionReadProject   = "project:read"
	PermissionWriteProject  = "project:write"
	PermissionDeleteProject = "project:delete"
	PermissionRelateProject = "project:relate"

	// 运维操作
	PermissionReplayOutbox = "outbox:replay"
)

// 角色常量
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

// ContextRoleKey is the gin context key the auth middleware stores the caller's role under.
const ContextRoleKey = "role"

var readOnly = []string{PermissionReadTask, PermissionReadProject}

var editor = append(slices.Clone(readOnly),
	PermissionWriteTask,
	PermissionWriteProject,
	PermissionRelateProject,
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleViewer: readOnly,
	RoleEditor: editor,
	RoleAdmin: append(slices.Clone(editor),
		PermissionDeleteTask,
		PermissionDeleteProject,
		PermissionReplayOutbox,
	),
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	return slices.Contains(rolePermissions[role], permission)
}

// CheckPermission 检查角色是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{Role: role, Permission: permission}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions: " + e.Permission
}

// RequirePermission 中间件：要求调用方角色具有指定权限
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextRoleKey)
		if role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			return
		}
		if err := CheckPermission(role, permission); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}
