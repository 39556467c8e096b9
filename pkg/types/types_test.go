package types

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey_Deterministic(t *testing.T) {
	req := &PermissionRequest{Action: "read", Resource: "document", ResourceID: "42"}
	rc := &RequestContext{Custom: map[string]interface{}{
		"tenant": "acme",
		"plan":   "pro",
		"seats":  12,
	}}

	first := CacheKey("u1", req, rc)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, CacheKey("u1", req, rc))
	}
}

func TestCacheKey_UserPrefix(t *testing.T) {
	req := &PermissionRequest{Action: "read", Resource: "document"}
	key := CacheKey("u1", req, nil)
	assert.True(t, strings.HasPrefix(key, "u1:"))

	// Same request for another user keys separately.
	assert.NotEqual(t, key, CacheKey("u2", req, nil))
}

func TestCacheKey_SensitiveToInputs(t *testing.T) {
	base := CacheKey("u1", &PermissionRequest{Action: "read", Resource: "document"}, nil)

	assert.NotEqual(t, base, CacheKey("u1", &PermissionRequest{Action: "write", Resource: "document"}, nil))
	assert.NotEqual(t, base, CacheKey("u1", &PermissionRequest{Action: "read", Resource: "account"}, nil))
	assert.NotEqual(t, base, CacheKey("u1", &PermissionRequest{Action: "read", Resource: "document", ResourceID: "9"}, nil))
	assert.NotEqual(t, base, CacheKey("u1", &PermissionRequest{Action: "read", Resource: "document"},
		&RequestContext{Custom: map[string]interface{}{"k": "v"}}))

	// Environment fields that conditions can gate on key separately.
	assert.NotEqual(t, base, CacheKey("u1", &PermissionRequest{Action: "read", Resource: "document"},
		&RequestContext{IPAddress: "10.0.0.1"}))
	assert.NotEqual(t, base, CacheKey("u1", &PermissionRequest{Action: "read", Resource: "document"},
		&RequestContext{UserAgent: "curl"}))
	assert.NotEqual(t, base, CacheKey("u1", &PermissionRequest{Action: "read", Resource: "document"},
		&RequestContext{Location: "US"}))

	// A nil context and an empty one are the same tuple.
	assert.Equal(t, base, CacheKey("u1", &PermissionRequest{Action: "read", Resource: "document"},
		&RequestContext{}))
}

func TestPolicyClone_IsDeep(t *testing.T) {
	p := &Policy{
		ID:        "p1",
		Name:      "readers",
		Actions:   []string{"read"},
		Resources: []string{"document"},
		Conditions: &Conditions{
			User: &UserConditions{Groups: []string{"staff"}},
		},
	}

	cp := p.Clone()
	cp.Actions[0] = "write"
	cp.Conditions.User.Groups[0] = "intruders"

	assert.Equal(t, "read", p.Actions[0])
	assert.Equal(t, "staff", p.Conditions.User.Groups[0])

	var nilPolicy *Policy
	assert.Nil(t, nilPolicy.Clone())
}

func TestAssignment_Expired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	perm := &Assignment{UserID: "u1", RoleID: "r1"}
	assert.False(t, perm.Expired(now))

	past := now.Add(-time.Minute)
	assert.True(t, (&Assignment{ExpiresAt: &past}).Expired(now))

	// Expiry boundary is inclusive.
	assert.True(t, (&Assignment{ExpiresAt: &now}).Expired(now))

	future := now.Add(time.Minute)
	assert.False(t, (&Assignment{ExpiresAt: &future}).Expired(now))
}

func TestEffect_Valid(t *testing.T) {
	assert.True(t, EffectAllow.Valid())
	assert.True(t, EffectDeny.Valid())
	assert.False(t, Effect("maybe").Valid())
	assert.False(t, Effect("").Valid())
}

func TestEvaluationResult_Allowed(t *testing.T) {
	assert.True(t, (&EvaluationResult{Decision: DecisionAllow}).Allowed())
	assert.False(t, (&EvaluationResult{Decision: DecisionDeny}).Allowed())
	assert.False(t, (&EvaluationResult{Decision: DecisionNotApplicable}).Allowed())
}

func TestErrorHelpers(t *testing.T) {
	require.True(t, IsNotFound(NewNotFoundError("policy", "p1")))
	require.True(t, IsConflict(NewConflictError("policy", "name taken")))
	require.True(t, IsValidation(NewValidationError("name", "required")))
	require.True(t, IsPreconditionFailed(NewPreconditionFailedError("role still assigned")))

	assert.False(t, IsNotFound(NewConflictError("policy", "x")))
	assert.False(t, IsConflict(nil))
}
