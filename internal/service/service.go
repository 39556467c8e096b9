// Package service wires the stores, decision engine, evaluation cache,
// audit trail, and metrics into the authorization surface callers use.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pbac-engine/go-core/internal/audit"
	"github.com/pbac-engine/go-core/internal/cache"
	"github.com/pbac-engine/go-core/internal/engine"
	"github.com/pbac-engine/go-core/internal/metrics"
	"github.com/pbac-engine/go-core/internal/store"
	"github.com/pbac-engine/go-core/pkg/types"
)

// DefaultRoleName is the system role every user can be given out of the
// box
const DefaultRoleName = "user"

// Authorizer is the front door of the authorization core. Every
// mutation that can change a decision invalidates the evaluation cache
// before it returns, so a caller that mutates and immediately evaluates
// sees the new state.
type Authorizer struct {
	policies    store.PolicyStore
	roles       store.RoleStore
	assignments store.AssignmentStore
	cache       cache.DecisionCache
	engine      *engine.Engine
	audit       audit.Logger
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// Config configures the authorizer
type Config struct {
	Engine engine.Config
}

// New creates an authorizer over the given stores. Cache, audit logger,
// metrics, and logger may be nil; the corresponding concern is then
// disabled.
func New(cfg Config, policies store.PolicyStore, roles store.RoleStore, assignments store.AssignmentStore, c cache.DecisionCache, auditLogger audit.Logger, m *metrics.Metrics, logger *zap.Logger) *Authorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Authorizer{
		policies:    policies,
		roles:       roles,
		assignments: assignments,
		cache:       c,
		engine:      engine.New(cfg.Engine, assignments, c, m, logger),
		audit:       auditLogger,
		metrics:     m,
		logger:      logger,
	}
}

// Engine exposes the underlying decision engine
func (a *Authorizer) Engine() *engine.Engine {
	return a.engine
}

// Close releases background resources
func (a *Authorizer) Close() error {
	a.engine.Stop()
	return a.audit.Close()
}

// --- Policy operations ---

// CreatePolicy validates and persists a new policy
func (a *Authorizer) CreatePolicy(ctx context.Context, in store.CreatePolicy) (*types.Policy, error) {
	p, err := a.policies.CreatePolicy(ctx, in)
	if err != nil {
		return nil, err
	}
	a.logger.Info("policy created",
		zap.String("policyId", p.ID),
		zap.String("name", p.Name))
	a.audit.LogMutation(ctx, &audit.MutationEvent{
		Operation: "create",
		Entity:    "policy",
		EntityID:  p.ID,
		Actor:     in.CreatedBy,
		Changes:   map[string]interface{}{"name": p.Name, "effect": string(p.Effect), "priority": p.Priority},
	})
	// A newly created policy belongs to no role yet, so no cached
	// decision can depend on it.
	return p, nil
}

// GetPolicy fetches a policy by ID
func (a *Authorizer) GetPolicy(ctx context.Context, id string) (*types.Policy, error) {
	return a.policies.GetPolicyByID(ctx, id)
}

// GetPolicyByName fetches a policy by its unique name
func (a *Authorizer) GetPolicyByName(ctx context.Context, name string) (*types.Policy, error) {
	return a.policies.GetPolicyByName(ctx, name)
}

// ListPolicies lists policies with filtering, sorting, and pagination
func (a *Authorizer) ListPolicies(ctx context.Context, filter store.PolicyFilter, opts store.ListOptions) (*store.PolicyPage, error) {
	return a.policies.ListPolicies(ctx, filter, opts)
}

// UpdatePolicy applies a partial update and invalidates the cache
func (a *Authorizer) UpdatePolicy(ctx context.Context, id string, patch store.PolicyPatch) (*types.Policy, error) {
	p, err := a.policies.UpdatePolicy(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	a.invalidateAll("policy updated", zap.String("policyId", id))
	a.audit.LogMutation(ctx, &audit.MutationEvent{
		Operation: "update",
		Entity:    "policy",
		EntityID:  id,
		Changes:   map[string]interface{}{"version": p.Version},
	})
	return p, nil
}

// DeletePolicy removes a policy, detaching it from all roles, and
// invalidates the cache
func (a *Authorizer) DeletePolicy(ctx context.Context, id string) error {
	if err := a.policies.DeletePolicy(ctx, id); err != nil {
		return err
	}
	a.invalidateAll("policy deleted", zap.String("policyId", id))
	a.audit.LogMutation(ctx, &audit.MutationEvent{
		Operation: "delete",
		Entity:    "policy",
		EntityID:  id,
	})
	return nil
}

// TogglePolicyStatus flips a policy's active flag and invalidates the
// cache
func (a *Authorizer) TogglePolicyStatus(ctx context.Context, id string, isActive bool) (*types.Policy, error) {
	p, err := a.policies.TogglePolicyStatus(ctx, id, isActive)
	if err != nil {
		return nil, err
	}
	a.invalidateAll("policy toggled",
		zap.String("policyId", id),
		zap.Bool("isActive", isActive))
	a.audit.LogMutation(ctx, &audit.MutationEvent{
		Operation: "toggle",
		Entity:    "policy",
		EntityID:  id,
		Changes:   map[string]interface{}{"isActive": isActive},
	})
	return p, nil
}

// --- Role operations ---

// CreateRole validates and persists a new role with its policy bundle
func (a *Authorizer) CreateRole(ctx context.Context, in store.CreateRole) (*types.Role, error) {
	r, err := a.roles.CreateRole(ctx, in)
	if err != nil {
		return nil, err
	}
	a.logger.Info("role created",
		zap.String("roleId", r.ID),
		zap.String("name", r.Name))
	a.audit.LogMutation(ctx, &audit.MutationEvent{
		Operation: "create",
		Entity:    "role",
		EntityID:  r.ID,
		Actor:     in.CreatedBy,
		Changes:   map[string]interface{}{"name": r.Name, "policies": len(in.PolicyIDs)},
	})
	// A new role has no assignments, so no cached decision can depend
	// on it.
	return r, nil
}

// GetRole fetches a role by ID
func (a *Authorizer) GetRole(ctx context.Context, id string) (*types.Role, error) {
	return a.roles.GetRoleByID(ctx, id)
}

// GetRoleByName fetches a role by its unique name
func (a *Authorizer) GetRoleByName(ctx context.Context, name string) (*types.Role, error) {
	return a.roles.GetRoleByName(ctx, name)
}

// ListRoles lists all roles
func (a *Authorizer) ListRoles(ctx context.Context) ([]*types.Role, error) {
	return a.roles.ListRoles(ctx)
}

// UpdateRole applies a partial update, possibly replacing the role's
// whole policy membership, and invalidates the cache
func (a *Authorizer) UpdateRole(ctx context.Context, id string, patch store.RolePatch) (*types.Role, error) {
	r, err := a.roles.UpdateRole(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	a.invalidateAll("role updated", zap.String("roleId", id))
	a.audit.LogMutation(ctx, &audit.MutationEvent{
		Operation: "update",
		Entity:    "role",
		EntityID:  id,
	})
	return r, nil
}

// DeleteRole removes an unassigned, non-system role and invalidates
// the cache
func (a *Authorizer) DeleteRole(ctx context.Context, id string) error {
	if err := a.roles.DeleteRole(ctx, id); err != nil {
		return err
	}
	a.invalidateAll("role deleted", zap.String("roleId", id))
	a.audit.LogMutation(ctx, &audit.MutationEvent{
		Operation: "delete",
		Entity:    "role",
		EntityID:  id,
	})
	return nil
}

// --- Assignment operations ---

// AssignRole grants a role to a user, optionally until expiresAt, and
// invalidates that user's cached decisions
func (a *Authorizer) AssignRole(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) (*types.Assignment, error) {
	assignment, err := a.assignments.Assign(ctx, userID, roleID, assignedBy, expiresAt)
	if err != nil {
		return nil, err
	}
	a.invalidateUser(userID, "role assigned", zap.String("roleId", roleID))
	a.audit.LogMutation(ctx, &audit.MutationEvent{
		Operation: "assign",
		Entity:    "assignment",
		EntityID:  userID + "/" + roleID,
		Actor:     assignedBy,
	})
	return assignment, nil
}

// RemoveRole revokes a role from a user and invalidates that user's
// cached decisions. Removing an absent assignment is a no-op.
func (a *Authorizer) RemoveRole(ctx context.Context, userID, roleID string) error {
	if err := a.assignments.Remove(ctx, userID, roleID); err != nil {
		return err
	}
	a.invalidateUser(userID, "role removed", zap.String("roleId", roleID))
	a.audit.LogMutation(ctx, &audit.MutationEvent{
		Operation: "remove",
		Entity:    "assignment",
		EntityID:  userID + "/" + roleID,
	})
	return nil
}

// GetUserRoles resolves the user's active roles
func (a *Authorizer) GetUserRoles(ctx context.Context, userID string) ([]*types.Role, error) {
	return a.assignments.ListActiveRolesForUser(ctx, userID)
}

// GetUserAssignments lists the user's raw assignments, expired ones
// included
func (a *Authorizer) GetUserAssignments(ctx context.Context, userID string) ([]*types.Assignment, error) {
	return a.assignments.ListForUser(ctx, userID)
}

// EnsureDefaultRole gets or creates the default system role
func (a *Authorizer) EnsureDefaultRole(ctx context.Context) (*types.Role, error) {
	return a.assignments.EnsureDefaultRole(ctx, DefaultRoleName)
}

// SweepExpiredAssignments drops lapsed assignments from the store
func (a *Authorizer) SweepExpiredAssignments(ctx context.Context) (int, error) {
	return a.assignments.SweepExpired(ctx)
}

// --- Evaluation operations ---

// CheckPermission evaluates one permission request and audits the
// decision
func (a *Authorizer) CheckPermission(ctx context.Context, subject *types.Subject, req *types.PermissionRequest, rc *types.RequestContext) (*types.EvaluationResult, error) {
	start := time.Now()
	result, err := a.engine.Evaluate(ctx, subject, req, rc)

	event := &audit.DecisionEvent{
		Decision:   string(result.Decision),
		PolicyID:   result.PolicyID,
		PolicyName: result.PolicyName,
		Reason:     result.Reason,
		CacheHit:   result.CacheHit,
		DurationUs: float64(time.Since(start).Microseconds()),
	}
	if subject != nil {
		event.UserID = subject.ID
	}
	if req != nil {
		event.Action = req.Action
		event.Resource = req.Resource
		event.ResourceID = req.ResourceID
	}
	a.audit.LogDecision(ctx, event)

	return result, err
}

// HasPermission reports whether the request is allowed. Faults read as
// denied.
func (a *Authorizer) HasPermission(ctx context.Context, subject *types.Subject, req *types.PermissionRequest, rc *types.RequestContext) bool {
	result, err := a.CheckPermission(ctx, subject, req, rc)
	if err != nil {
		return false
	}
	return result.Allowed()
}

// CheckMultiplePermissions evaluates a batch of requests, preserving
// request order in the results
func (a *Authorizer) CheckMultiplePermissions(ctx context.Context, subject *types.Subject, reqs []*types.PermissionRequest, rc *types.RequestContext) []*types.EvaluationResult {
	return a.engine.CheckMultiplePermissions(ctx, subject, reqs, rc)
}

// GetUserPermissions returns the active policies effective for the user
func (a *Authorizer) GetUserPermissions(ctx context.Context, userID string) ([]*types.Policy, error) {
	return a.engine.GetUserPermissions(ctx, userID)
}

// --- Cache operations ---

// ClearCache drops every cached decision
func (a *Authorizer) ClearCache() {
	if a.cache != nil {
		a.cache.Clear()
	}
}

// ClearUserCache drops one user's cached decisions
func (a *Authorizer) ClearUserCache(userID string) {
	if a.cache != nil {
		a.cache.ClearUser(userID)
	}
}

// CacheStats reports evaluation cache counters
func (a *Authorizer) CacheStats() cache.Stats {
	if a.cache == nil {
		return cache.Stats{}
	}
	return a.cache.Stats()
}

// invalidateAll clears the whole cache after a mutation whose blast
// radius crosses users (policy and role membership changes).
func (a *Authorizer) invalidateAll(msg string, fields ...zap.Field) {
	if a.cache != nil {
		a.cache.Clear()
	}
	a.logger.Info(msg, append(fields, zap.Bool("cacheCleared", a.cache != nil))...)
}

// invalidateUser clears one user's entries after an assignment change
func (a *Authorizer) invalidateUser(userID, msg string, fields ...zap.Field) {
	if a.cache != nil {
		a.cache.ClearUser(userID)
	}
	a.logger.Info(msg, append(fields, zap.String("userId", userID))...)
}
