package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"projectsync/pkg/auth"
	"projectsync/pkg/rbac"
	"projectsync/project-service/internal/handler"
	"projectsync/project-service/internal/model"
	"projectsync/project-service/internal/repository"
	"projectsync/project-service/internal/service"
)

func newTestRouter(guard *auth.Guard, ready ...ReadinessCheck) (*gin.Engine, *repository.MemoryStore) {
	gin.SetMode(gin.TestMode)
	store := repository.NewMemoryStore()
	svc := service.NewProjectService(store, store, zap.NewNop())
	return NewRouter(Deps{
		Projects: handler.NewProjectHandler(svc, zap.NewNop()),
		Guard:    guard,
		Ready:    ready,
		Logger:   zap.NewNop(),
	}), store
}

func do(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createBody(name string) string {
	return fmt.Sprintf(`{"name":%q,"description":"Descrição projeto","totalCost":1000,
		"estimatedHours":40,"budget":5000,"active":true}`, name)
}

func create(t *testing.T, r http.Handler, name string) model.Project {
	t.Helper()
	w := do(r, http.MethodPost, "/projects", createBody(name))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p model.Project
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func TestCreateAndGetProject(t *testing.T) {
	r, _ := newTestRouter(nil)
	p := create(t, r, "Projeto 1")
	require.Equal(t, int64(1), p.ID)
	require.Empty(t, p.Tasks)

	w := do(r, http.MethodGet, "/projects/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"tasks":[]`)
	require.Contains(t, w.Body.String(), `"relatedProjects":[]`)

	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/projects/9", "").Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/projects/abc", "").Code)
}

func TestCreateProject_Rejected(t *testing.T) {
	r, _ := newTestRouter(nil)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/projects", `{"name":`).Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/projects", createBody("ab")).Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/projects", `{"name":"Projeto"}`).Code)
}

func TestListAndSearch(t *testing.T) {
	r, _ := newTestRouter(nil)
	w := do(r, http.MethodGet, "/projects", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"projects":[]}`, w.Body.String())

	create(t, r, "Projeto 1")
	w = do(r, http.MethodGet, "/projects/search?name=Projeto%201", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"Projeto 1"`)

	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/projects/search?name=Nada", "").Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/projects/search", "").Code)
}

func TestUpdateAndDelete(t *testing.T) {
	r, _ := newTestRouter(nil)
	create(t, r, "Projeto 1")

	w := do(r, http.MethodPatch, "/projects/1", `{"progress":30}`)
	require.Equal(t, http.StatusOK, w.Code)
	var p model.Project
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	require.Equal(t, 30, *p.Progress)
	require.Equal(t, "Projeto 1", p.Name)

	require.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/projects/1", `{"progress":130}`).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodDelete, "/projects/1", "").Code)
	require.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/projects/1", "").Code)
}

func TestRelateAndDependents(t *testing.T) {
	r, _ := newTestRouter(nil)
	p1 := create(t, r, "Projeto 1")
	p2 := create(t, r, "Projeto 2")

	w := do(r, http.MethodPost, fmt.Sprintf("/projects/%d/related/%d", p2.ID, p1.ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	var related model.Project
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &related))
	require.Len(t, related.RelatedProjects, 1)
	require.Equal(t, "Projeto 1", related.RelatedProjects[0].Name)

	w = do(r, http.MethodGet, fmt.Sprintf("/projects/%d/dependents", p1.ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Projects []model.Project `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Projects, 1)
	require.Equal(t, p2.ID, body.Projects[0].ID)

	self := do(r, http.MethodPost, fmt.Sprintf("/projects/%d/related/%d", p1.ID, p1.ID), "")
	require.Equal(t, http.StatusBadRequest, self.Code)
	require.Contains(t, self.Body.String(), "itself")

	require.Equal(t, http.StatusNotFound, do(r, http.MethodPost, fmt.Sprintf("/projects/%d/related/99", p1.ID), "").Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/projects/1/related/x", "").Code)
}

func TestAuthGuard(t *testing.T) {
	const secret = "test-secret"
	r, _ := newTestRouter(auth.NewGuard(secret))

	require.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/projects", "").Code)

	viewer, err := auth.GenerateJWT("u1", rbac.RoleViewer, secret, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/projects", "", "Authorization", "Bearer "+viewer).Code)
	require.Equal(t, http.StatusForbidden,
		do(r, http.MethodPost, "/projects", createBody("Projeto 1"), "Authorization", "Bearer "+viewer).Code)

	editor, err := auth.GenerateJWT("u2", rbac.RoleEditor, secret, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated,
		do(r, http.MethodPost, "/projects", createBody("Projeto 1"), "Authorization", "Bearer "+editor).Code)
	require.Equal(t, http.StatusForbidden,
		do(r, http.MethodDelete, "/projects/1", "", "Authorization", "Bearer "+editor).Code)
}

func TestHealthAndReadiness(t *testing.T) {
	healthy := ReadinessCheck{Name: "db", Check: func(context.Context) error { return nil }}
	r, _ := newTestRouter(nil, healthy)
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/readyz", "").Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/metrics", "").Code)

	down := ReadinessCheck{Name: "mq", Check: func(context.Context) error { return errors.New("closed") }}
	r, _ = newTestRouter(nil, healthy, down)
	w := do(r, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "mq_not_ready")
}
