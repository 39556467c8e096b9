// Package engine provides the core decision engine for permission evaluation
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pbac-engine/go-core/internal/cache"
	"github.com/pbac-engine/go-core/internal/conditions"
	"github.com/pbac-engine/go-core/internal/match"
	"github.com/pbac-engine/go-core/internal/metrics"
	"github.com/pbac-engine/go-core/internal/store"
	"github.com/pbac-engine/go-core/pkg/types"
)

// Engine evaluates permission requests against the policies reachable
// through a user's active role assignments
type Engine struct {
	assignments store.AssignmentStore
	cache       cache.DecisionCache
	metrics     *metrics.Metrics
	logger      *zap.Logger
	pool        *WorkerPool
	clock       func() time.Time
}

// Config configures the decision engine
type Config struct {
	// ParallelWorkers bounds concurrency for batch permission checks
	ParallelWorkers int
}

// DefaultConfig returns a default engine configuration
func DefaultConfig() Config {
	return Config{
		ParallelWorkers: 16,
	}
}

// New creates a decision engine. The cache and metrics may be nil, in
// which case caching and instrumentation are disabled.
func New(cfg Config, assignments store.AssignmentStore, c cache.DecisionCache, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		assignments: assignments,
		cache:       c,
		metrics:     m,
		logger:      logger,
		pool:        NewWorkerPool(cfg.ParallelWorkers),
		clock:       time.Now,
	}
}

// SetClock overrides the engine's time source. Tests only.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// Stop releases the engine's worker pool
func (e *Engine) Stop() {
	e.pool.Stop()
}

// Evaluate computes the decision for one permission request. The result
// is never nil: any fault during evaluation produces a not_applicable
// result carrying the reason, alongside the error.
func (e *Engine) Evaluate(ctx context.Context, subject *types.Subject, req *types.PermissionRequest, rc *types.RequestContext) (*types.EvaluationResult, error) {
	start := e.clock()
	defer func() {
		e.metrics.ObserveEvaluation(time.Since(start).Seconds())
	}()

	if subject == nil || subject.ID == "" {
		return e.failClosed(start, "missing subject"), fmt.Errorf("evaluate: missing subject")
	}
	if req == nil || req.Action == "" || req.Resource == "" {
		return e.failClosed(start, "missing action or resource"), fmt.Errorf("evaluate: missing action or resource")
	}

	key := types.CacheKey(subject.ID, req, rc)
	if e.cache != nil {
		if allowed, ok := e.cache.Get(key); ok {
			e.metrics.RecordCacheHit()
			decision := types.DecisionDeny
			if allowed {
				decision = types.DecisionAllow
			}
			e.metrics.RecordDecision(string(decision))
			return &types.EvaluationResult{
				Decision:    decision,
				CacheHit:    true,
				EvaluatedAt: start,
			}, nil
		}
		e.metrics.RecordCacheMiss()
	}

	roles, err := e.assignments.ListActiveRolesForUser(ctx, subject.ID)
	if err != nil {
		e.metrics.RecordError("store")
		e.logger.Error("role resolution failed",
			zap.String("userId", subject.ID),
			zap.Error(err))
		return e.failClosed(start, "role resolution failed"), fmt.Errorf("evaluate: %w", err)
	}

	evalCtx := buildEvaluationContext(subject, req, rc, start)
	applicable := e.applicablePolicies(roles, req, evalCtx)

	result := &types.EvaluationResult{
		Decision:    types.DecisionNotApplicable,
		Reason:      "no applicable policy",
		EvaluatedAt: start,
	}
	if len(applicable) > 0 {
		rankPolicies(applicable)
		winner := applicable[0]
		result.PolicyID = winner.ID
		result.PolicyName = winner.Name
		result.Reason = fmt.Sprintf("policy %q matched", winner.Name)
		if winner.Effect == types.EffectAllow {
			result.Decision = types.DecisionAllow
		} else {
			result.Decision = types.DecisionDeny
		}
	}

	if e.cache != nil {
		e.cache.Set(key, result.Allowed())
	}
	e.metrics.RecordDecision(string(result.Decision))
	return result, nil
}

// HasPermission reports whether the request is allowed. Faults read as
// denied.
func (e *Engine) HasPermission(ctx context.Context, subject *types.Subject, req *types.PermissionRequest, rc *types.RequestContext) bool {
	result, err := e.Evaluate(ctx, subject, req, rc)
	if err != nil {
		return false
	}
	return result.Allowed()
}

// CheckMultiplePermissions evaluates a batch of requests on the worker
// pool. Results come back in request order; a faulted entry is the
// fail-closed result for that request.
func (e *Engine) CheckMultiplePermissions(ctx context.Context, subject *types.Subject, reqs []*types.PermissionRequest, rc *types.RequestContext) []*types.EvaluationResult {
	results := make([]*types.EvaluationResult, len(reqs))
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		i, req := i, req
		e.pool.Submit(func() {
			defer wg.Done()
			result, _ := e.Evaluate(ctx, subject, req, rc)
			results[i] = result
		})
	}

	wg.Wait()
	return results
}

// GetUserRoles resolves the user's active (non-expired) roles
func (e *Engine) GetUserRoles(ctx context.Context, userID string) ([]*types.Role, error) {
	return e.assignments.ListActiveRolesForUser(ctx, userID)
}

// GetUserPermissions returns the active policies effective for the user
// through their roles, deduplicated and ranked by precedence. Conditions
// are checked against a minimal context (user and current time only), so
// environment-gated policies a capability listing cannot decide on drop
// out rather than over-promise.
func (e *Engine) GetUserPermissions(ctx context.Context, userID string) ([]*types.Policy, error) {
	roles, err := e.assignments.ListActiveRolesForUser(ctx, userID)
	if err != nil {
		e.metrics.RecordError("store")
		return nil, fmt.Errorf("get user permissions: %w", err)
	}

	evalCtx := &types.EvaluationContext{
		User:        types.SubjectContext{ID: userID},
		Environment: types.EnvironmentContext{Timestamp: e.clock()},
	}

	policies := unionPolicies(roles)
	active := policies[:0]
	for _, p := range policies {
		if !p.IsActive {
			continue
		}
		if !conditions.Evaluate(p.Conditions, evalCtx) {
			continue
		}
		active = append(active, p)
	}
	rankPolicies(active)
	return active, nil
}

func (e *Engine) failClosed(at time.Time, reason string) *types.EvaluationResult {
	return &types.EvaluationResult{
		Decision:    types.DecisionNotApplicable,
		Reason:      reason,
		EvaluatedAt: at,
	}
}

// applicablePolicies filters the union of role policies down to active
// ones matching the request whose conditions hold
func (e *Engine) applicablePolicies(roles []*types.Role, req *types.PermissionRequest, evalCtx *types.EvaluationContext) []*types.Policy {
	var applicable []*types.Policy
	for _, p := range unionPolicies(roles) {
		if !p.IsActive {
			continue
		}
		if !match.Any(p.Actions, req.Action) || !match.Any(p.Resources, req.Resource) {
			continue
		}
		if !conditions.Evaluate(p.Conditions, evalCtx) {
			continue
		}
		applicable = append(applicable, p)
	}
	return applicable
}

// unionPolicies merges role policy bundles, deduplicating by policy ID.
// A policy reachable through several roles counts once.
func unionPolicies(roles []*types.Role) []*types.Policy {
	seen := make(map[string]struct{})
	var out []*types.Policy
	for _, role := range roles {
		for _, p := range role.Policies {
			if p == nil {
				continue
			}
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// rankPolicies orders policies by precedence: highest priority first,
// then most recently updated, then lowest ID. The ordering is total, so
// the winner is deterministic.
func rankPolicies(policies []*types.Policy) {
	sort.Slice(policies, func(i, j int) bool {
		a, b := policies[i], policies[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}

func buildEvaluationContext(subject *types.Subject, req *types.PermissionRequest, rc *types.RequestContext, now time.Time) *types.EvaluationContext {
	evalCtx := &types.EvaluationContext{
		User: types.SubjectContext{
			ID:         subject.ID,
			Attributes: subject.Attributes,
			Groups:     subject.Groups,
		},
		Resource: types.ResourceContext{
			Type:       req.Resource,
			ID:         req.ResourceID,
			Attributes: req.ResourceAttributes,
		},
		Environment: types.EnvironmentContext{
			Timestamp: now,
		},
	}
	if rc != nil {
		evalCtx.Environment.IPAddress = rc.IPAddress
		evalCtx.Environment.UserAgent = rc.UserAgent
		evalCtx.Environment.Location = rc.Location
		evalCtx.Custom = rc.Custom
	}
	return evalCtx
}
