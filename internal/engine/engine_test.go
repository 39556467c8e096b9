package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbac-engine/go-core/internal/cache"
	"github.com/pbac-engine/go-core/internal/store"
	"github.com/pbac-engine/go-core/pkg/types"
)

type fixture struct {
	store  *store.MemoryStore
	engine *Engine
	now    time.Time
}

func newFixture(t *testing.T, c cache.DecisionCache) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ms := store.NewMemoryStore(func() time.Time { return now })
	eng := New(DefaultConfig(), ms, c, nil, nil)
	eng.SetClock(func() time.Time { return now })
	t.Cleanup(eng.Stop)
	return &fixture{store: ms, engine: eng, now: now}
}

func (f *fixture) addPolicy(t *testing.T, name string, effect types.Effect, priority int, actions, resources []string, cond *types.Conditions) *types.Policy {
	t.Helper()
	p, err := f.store.CreatePolicy(context.Background(), store.CreatePolicy{
		Name:       name,
		Actions:    actions,
		Resources:  resources,
		Effect:     effect,
		Priority:   &priority,
		Conditions: cond,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) addRoleWithUser(t *testing.T, roleName, userID string, policyIDs ...string) *types.Role {
	t.Helper()
	role, err := f.store.CreateRole(context.Background(), store.CreateRole{
		Name:      roleName,
		PolicyIDs: policyIDs,
	})
	require.NoError(t, err)
	_, err = f.store.Assign(context.Background(), userID, role.ID, "test", nil)
	require.NoError(t, err)
	return role
}

func subject(id string) *types.Subject {
	return &types.Subject{ID: id}
}

func request(action, resource string) *types.PermissionRequest {
	return &types.PermissionRequest{Action: action, Resource: resource}
}

func TestEvaluate_NoAssignments(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.engine.Evaluate(context.Background(), subject("u1"), request("read", "document"), nil)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionNotApplicable, result.Decision)
	assert.False(t, result.Allowed())
	assert.Equal(t, "no applicable policy", result.Reason)
	assert.Empty(t, result.PolicyID)
}

func TestEvaluate_SingleAllow(t *testing.T) {
	f := newFixture(t, nil)
	p := f.addPolicy(t, "readers", types.EffectAllow, 10, []string{"read"}, []string{"document"}, nil)
	f.addRoleWithUser(t, "viewer", "u1", p.ID)

	result, err := f.engine.Evaluate(context.Background(), subject("u1"), request("read", "document"), nil)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionAllow, result.Decision)
	assert.Equal(t, p.ID, result.PolicyID)
	assert.Equal(t, "readers", result.PolicyName)

	// Unmatched action stays not_applicable.
	result, err = f.engine.Evaluate(context.Background(), subject("u1"), request("delete", "document"), nil)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionNotApplicable, result.Decision)
}

func TestEvaluate_PriorityPicksSingleWinner(t *testing.T) {
	f := newFixture(t, nil)
	allow := f.addPolicy(t, "allow-docs", types.EffectAllow, 50, []string{"read"}, []string{"document"}, nil)
	deny := f.addPolicy(t, "deny-docs", types.EffectDeny, 10, []string{"read"}, []string{"document"}, nil)
	f.addRoleWithUser(t, "mixed", "u1", allow.ID, deny.ID)

	result, err := f.engine.Evaluate(context.Background(), subject("u1"), request("read", "document"), nil)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionAllow, result.Decision)
	assert.Equal(t, allow.ID, result.PolicyID)

	// Raising the deny's priority flips the outcome.
	hi := 99
	_, err = f.store.UpdatePolicy(context.Background(), deny.ID, store.PolicyPatch{Priority: &hi})
	require.NoError(t, err)

	result, err = f.engine.Evaluate(context.Background(), subject("u1"), request("read", "document"), nil)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionDeny, result.Decision)
	assert.Equal(t, deny.ID, result.PolicyID)
}

func TestEvaluate_WildcardDenyAtMaxPriorityWins(t *testing.T) {
	f := newFixture(t, nil)
	lockout := f.addPolicy(t, "lockout", types.EffectDeny, 1<<30, []string{"*"}, []string{"*"}, nil)
	allow := f.addPolicy(t, "allow-everything", types.EffectAllow, 100, []string{"*"}, []string{"*"}, nil)
	f.addRoleWithUser(t, "locked", "u1", lockout.ID, allow.ID)

	for _, req := range []*types.PermissionRequest{
		request("read", "document"),
		request("delete", "account"),
		request("anything", "at-all"),
	} {
		result, err := f.engine.Evaluate(context.Background(), subject("u1"), req, nil)
		require.NoError(t, err)
		assert.Equal(t, types.DecisionDeny, result.Decision, "action %s", req.Action)
		assert.Equal(t, lockout.ID, result.PolicyID)
	}
}

func TestEvaluate_TieBreaksAreDeterministic(t *testing.T) {
	f := newFixture(t, nil)
	a := f.addPolicy(t, "policy-a", types.EffectAllow, 10, []string{"read"}, []string{"document"}, nil)
	b := f.addPolicy(t, "policy-b", types.EffectDeny, 10, []string{"read"}, []string{"document"}, nil)
	f.addRoleWithUser(t, "tied", "u1", a.ID, b.ID)

	first, err := f.engine.Evaluate(context.Background(), subject("u1"), request("read", "document"), nil)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := f.engine.Evaluate(context.Background(), subject("u1"), request("read", "document"), nil)
		require.NoError(t, err)
		assert.Equal(t, first.Decision, again.Decision)
		assert.Equal(t, first.PolicyID, again.PolicyID)
	}
}

func TestEvaluate_InactivePolicyIgnored(t *testing.T) {
	f := newFixture(t, nil)
	p := f.addPolicy(t, "dormant", types.EffectAllow, 10, []string{"read"}, []string{"document"}, nil)
	f.addRoleWithUser(t, "viewer", "u1", p.ID)

	_, err := f.store.TogglePolicyStatus(context.Background(), p.ID, false)
	require.NoError(t, err)

	result, err := f.engine.Evaluate(context.Background(), subject("u1"), request("read", "document"), nil)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionNotApplicable, result.Decision)
}

func TestEvaluate_PolicyReachableThroughTwoRolesCountsOnce(t *testing.T) {
	f := newFixture(t, nil)
	p := f.addPolicy(t, "shared", types.EffectAllow, 10, []string{"read"}, []string{"document"}, nil)
	f.addRoleWithUser(t, "role-one", "u1", p.ID)
	f.addRoleWithUser(t, "role-two", "u1", p.ID)

	perms, err := f.engine.GetUserPermissions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, p.ID, perms[0].ID)
}

func TestEvaluate_ConditionsGateThePolicy(t *testing.T) {
	f := newFixture(t, nil)
	cond := &types.Conditions{
		User: &types.UserConditions{Groups: []string{"staff"}},
	}
	p := f.addPolicy(t, "staff-only", types.EffectAllow, 10, []string{"read"}, []string{"document"}, cond)
	f.addRoleWithUser(t, "viewer", "u1", p.ID)

	member := &types.Subject{ID: "u1", Groups: []string{"staff", "oncall"}}
	result, err := f.engine.Evaluate(context.Background(), member, request("read", "document"), nil)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionAllow, result.Decision)

	outsider := &types.Subject{ID: "u1", Groups: []string{"contractor"}}
	result, err = f.engine.Evaluate(context.Background(), outsider, request("read", "document"), nil)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionNotApplicable, result.Decision)
}

func TestEvaluate_ExpiredAssignmentDropsOut(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	current := now
	ms := store.NewMemoryStore(func() time.Time { return current })
	eng := New(DefaultConfig(), ms, nil, nil, nil)
	eng.SetClock(func() time.Time { return current })
	defer eng.Stop()

	p, err := ms.CreatePolicy(context.Background(), store.CreatePolicy{
		Name: "readers", Actions: []string{"read"}, Resources: []string{"document"}, Effect: types.EffectAllow,
	})
	require.NoError(t, err)
	role, err := ms.CreateRole(context.Background(), store.CreateRole{Name: "viewer", PolicyIDs: []string{p.ID}})
	require.NoError(t, err)

	expiry := now.Add(time.Hour)
	_, err = ms.Assign(context.Background(), "u1", role.ID, "test", &expiry)
	require.NoError(t, err)

	result, err := eng.Evaluate(context.Background(), subject("u1"), request("read", "document"), nil)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionAllow, result.Decision)

	current = now.Add(2 * time.Hour)
	result, err = eng.Evaluate(context.Background(), subject("u1"), request("read", "document"), nil)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionNotApplicable, result.Decision)
}

func TestEvaluate_CacheHitSkipsStores(t *testing.T) {
	c := cache.NewLRU(100, time.Minute)
	f := newFixture(t, c)
	p := f.addPolicy(t, "readers", types.EffectAllow, 10, []string{"read"}, []string{"document"}, nil)
	f.addRoleWithUser(t, "viewer", "u1", p.ID)

	first, err := f.engine.Evaluate(context.Background(), subject("u1"), request("read", "document"), nil)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.True(t, first.Allowed())

	second, err := f.engine.Evaluate(context.Background(), subject("u1"), request("read", "document"), nil)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.True(t, second.Allowed())

	// Distinct resource IDs key separately.
	other, err := f.engine.Evaluate(context.Background(), subject("u1"),
		&types.PermissionRequest{Action: "read", Resource: "document", ResourceID: "42"}, nil)
	require.NoError(t, err)
	assert.False(t, other.CacheHit)
}

func TestEvaluate_InvalidInputFailsClosed(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.engine.Evaluate(context.Background(), nil, request("read", "document"), nil)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, types.DecisionNotApplicable, result.Decision)
	assert.NotEmpty(t, result.Reason)

	result, err = f.engine.Evaluate(context.Background(), subject("u1"), &types.PermissionRequest{Action: "read"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.DecisionNotApplicable, result.Decision)

	assert.False(t, f.engine.HasPermission(context.Background(), nil, request("read", "document"), nil))
}

func TestCheckMultiplePermissions_PreservesOrder(t *testing.T) {
	f := newFixture(t, nil)
	p := f.addPolicy(t, "readers", types.EffectAllow, 10, []string{"read"}, []string{"document"}, nil)
	f.addRoleWithUser(t, "viewer", "u1", p.ID)

	reqs := []*types.PermissionRequest{
		request("read", "document"),
		request("delete", "document"),
		request("read", "account"),
		request("read", "document"),
	}
	results := f.engine.CheckMultiplePermissions(context.Background(), subject("u1"), reqs, nil)
	require.Len(t, results, 4)
	assert.Equal(t, types.DecisionAllow, results[0].Decision)
	assert.Equal(t, types.DecisionNotApplicable, results[1].Decision)
	assert.Equal(t, types.DecisionNotApplicable, results[2].Decision)
	assert.Equal(t, types.DecisionAllow, results[3].Decision)
}

func TestCheckMultiplePermissions_AfterStopStillAnswers(t *testing.T) {
	f := newFixture(t, nil)
	p := f.addPolicy(t, "readers", types.EffectAllow, 10, []string{"read"}, []string{"document"}, nil)
	f.addRoleWithUser(t, "viewer", "u1", p.ID)

	f.engine.Stop()

	// A batch racing shutdown degrades to inline evaluation instead of
	// panicking.
	results := f.engine.CheckMultiplePermissions(context.Background(), subject("u1"),
		[]*types.PermissionRequest{request("read", "document"), request("delete", "document")}, nil)
	require.Len(t, results, 2)
	assert.Equal(t, types.DecisionAllow, results[0].Decision)
	assert.Equal(t, types.DecisionNotApplicable, results[1].Decision)
}

func TestGetUserRoles(t *testing.T) {
	f := newFixture(t, nil)
	p := f.addPolicy(t, "readers", types.EffectAllow, 10, []string{"read"}, []string{"document"}, nil)
	f.addRoleWithUser(t, "viewer", "u1", p.ID)
	f.addRoleWithUser(t, "editor", "u1")

	roles, err := f.engine.GetUserRoles(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, roles, 2)
}

func TestGetUserPermissions_RankedAndActiveOnly(t *testing.T) {
	f := newFixture(t, nil)
	low := f.addPolicy(t, "low", types.EffectAllow, 1, []string{"read"}, []string{"a"}, nil)
	high := f.addPolicy(t, "high", types.EffectDeny, 100, []string{"read"}, []string{"b"}, nil)
	off := f.addPolicy(t, "off", types.EffectAllow, 50, []string{"read"}, []string{"c"}, nil)
	f.addRoleWithUser(t, "combo", "u1", low.ID, high.ID, off.ID)

	_, err := f.store.TogglePolicyStatus(context.Background(), off.ID, false)
	require.NoError(t, err)

	perms, err := f.engine.GetUserPermissions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.Equal(t, high.ID, perms[0].ID)
	assert.Equal(t, low.ID, perms[1].ID)
}
