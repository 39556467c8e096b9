package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbac-engine/go-core/internal/cache"
	"github.com/pbac-engine/go-core/internal/engine"
	"github.com/pbac-engine/go-core/internal/service"
	"github.com/pbac-engine/go-core/internal/store"
	"github.com/pbac-engine/go-core/pkg/types"
)

func setupServer(t *testing.T) (*httptest.Server, *service.Authorizer) {
	t.Helper()
	ms := store.NewMemoryStore(nil)
	authz := service.New(service.Config{Engine: engine.DefaultConfig()},
		ms, ms, ms, cache.NewLRU(100, time.Minute), nil, nil, nil)
	t.Cleanup(func() { _ = authz.Close() })

	srv := httptest.NewServer(New(authz, nil, nil).Router())
	t.Cleanup(srv.Close)
	return srv, authz
}

func seed(t *testing.T, authz *service.Authorizer, userID string) {
	t.Helper()
	ctx := context.Background()
	p, err := authz.CreatePolicy(ctx, store.CreatePolicy{
		Name: "readers", Actions: []string{"read"}, Resources: []string{"document"}, Effect: types.EffectAllow,
	})
	require.NoError(t, err)
	r, err := authz.CreateRole(ctx, store.CreateRole{Name: "viewer", PolicyIDs: []string{p.ID}})
	require.NoError(t, err)
	_, err = authz.AssignRole(ctx, userID, r.ID, "test", nil)
	require.NoError(t, err)
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := setupServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyz_Draining(t *testing.T) {
	ms := store.NewMemoryStore(nil)
	authz := service.New(service.Config{Engine: engine.DefaultConfig()}, ms, ms, ms, nil, nil, nil, nil)
	defer authz.Close()

	s := New(authz, nil, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	s.SetReady(false)
	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCheck(t *testing.T) {
	srv, authz := setupServer(t)
	seed(t, authz, "alice")

	resp := postJSON(t, srv.URL+"/v1/check", map[string]interface{}{
		"subject": map[string]string{"id": "alice"},
		"request": map[string]string{"action": "read", "resource": "document"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result types.EvaluationResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, types.DecisionAllow, result.Decision)
	assert.NotEmpty(t, result.PolicyID)
}

func TestCheck_MalformedBody(t *testing.T) {
	srv, _ := setupServer(t)

	resp, err := http.Post(srv.URL+"/v1/check", "application/json", bytes.NewReader([]byte("{broken")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheck_FaultStaysDenied(t *testing.T) {
	srv, _ := setupServer(t)

	// Missing subject cannot 500; it answers with the fail-closed
	// decision.
	resp := postJSON(t, srv.URL+"/v1/check", map[string]interface{}{
		"request": map[string]string{"action": "read", "resource": "document"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result types.EvaluationResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, types.DecisionNotApplicable, result.Decision)
}

func TestCheckBatch(t *testing.T) {
	srv, authz := setupServer(t)
	seed(t, authz, "alice")

	resp := postJSON(t, srv.URL+"/v1/check-batch", map[string]interface{}{
		"subject": map[string]string{"id": "alice"},
		"requests": []map[string]string{
			{"action": "read", "resource": "document"},
			{"action": "delete", "resource": "document"},
		},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Results []*types.EvaluationResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Results, 2)
	assert.Equal(t, types.DecisionAllow, payload.Results[0].Decision)
	assert.Equal(t, types.DecisionNotApplicable, payload.Results[1].Decision)
}

func TestUserRolesAndPermissions(t *testing.T) {
	srv, authz := setupServer(t)
	seed(t, authz, "alice")

	resp, err := http.Get(srv.URL + "/v1/users/alice/roles")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rolesPayload struct {
		Roles []*types.Role `json:"roles"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rolesPayload))
	require.Len(t, rolesPayload.Roles, 1)
	assert.Equal(t, "viewer", rolesPayload.Roles[0].Name)

	resp, err = http.Get(srv.URL + "/v1/users/alice/permissions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var permsPayload struct {
		Policies []*types.Policy `json:"policies"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&permsPayload))
	require.Len(t, permsPayload.Policies, 1)
}

func TestCacheStatsEndpoint(t *testing.T) {
	srv, authz := setupServer(t)
	seed(t, authz, "alice")

	_ = authz.HasPermission(context.Background(), &types.Subject{ID: "alice"},
		&types.PermissionRequest{Action: "read", Resource: "document"}, nil)

	resp, err := http.Get(srv.URL + "/v1/cache/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats cache.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Size)
}
