package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestHasPermission(t *testing.T) {
	require.True(t, HasPermission(RoleViewer, PermissionReadProject))
	require.False(t, HasPermission(RoleViewer, PermissionWriteProject))
	require.True(t, HasPermission(RoleEditor, PermissionRelateProject))
	require.False(t, HasPermission(RoleEditor, PermissionDeleteProject))
	require.True(t, HasPermission(RoleAdmin, PermissionReplayOutbox))
	require.True(t, HasPermission(RoleAdmin, PermissionReadTask))
	require.False(t, HasPermission("stranger", PermissionReadTask))
}

func TestCheckPermission(t *testing.T) {
	require.NoError(t, CheckPermission(RoleAdmin, PermissionDeleteTask))

	err := CheckPermission(RoleViewer, PermissionDeleteTask)
	var denied *PermissionDeniedError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, PermissionDeleteTask, denied.Permission)
}

func TestRequirePermission(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		role string
		want int
	}{
		{"", http.StatusUnauthorized},
		{RoleViewer, http.StatusForbidden},
		{RoleEditor, http.StatusOK},
	}
	for _, tc := range cases {
		r := gin.New()
		r.Use(func(c *gin.Context) {
			if tc.role != "" {
				c.Set(ContextRoleKey, tc.role)
			}
		})
		r.POST("/projects", RequirePermission(PermissionWriteProject), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/projects", nil))
		require.Equal(t, tc.want, w.Code, "role %q", tc.role)
	}
}
