// Package types provides shared types for the PBAC authorization core
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Effect represents the outcome a policy prescribes when it applies
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Valid reports whether the effect is a known value
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// Decision represents the outcome of a permission evaluation
type Decision string

const (
	DecisionAllow         Decision = "allow"
	DecisionDeny          Decision = "deny"
	DecisionNotApplicable Decision = "not_applicable"
)

// Policy is a named rule granting or denying a set of actions on a set of
// resources, subject to conditions, with a priority and an effect.
type Policy struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Version     int         `json:"version" yaml:"version"`
	IsActive    bool        `json:"isActive" yaml:"isActive"`
	Conditions  *Conditions `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions     []string    `json:"actions" yaml:"actions"`
	Resources   []string    `json:"resources" yaml:"resources"`
	Effect      Effect      `json:"effect" yaml:"effect"`
	Priority    int         `json:"priority" yaml:"priority"`
	CreatedAt   time.Time   `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt" yaml:"updatedAt"`
	CreatedBy   string      `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
}

// Clone returns a deep copy of the policy
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Actions = append([]string(nil), p.Actions...)
	cp.Resources = append([]string(nil), p.Resources...)
	cp.Conditions = p.Conditions.Clone()
	return &cp
}

// Role is a named, reusable bundle of policies assignable to users
type Role struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	IsActive     bool              `json:"isActive" yaml:"isActive"`
	IsSystemRole bool              `json:"isSystemRole" yaml:"isSystemRole"`
	Policies     []*Policy         `json:"policies,omitempty" yaml:"policies,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt" yaml:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt" yaml:"updatedAt"`
	CreatedBy    string            `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
}

// Assignment is a possibly time-bounded grant of a role to a user
type Assignment struct {
	UserID     string     `json:"userId"`
	RoleID     string     `json:"roleId"`
	AssignedAt time.Time  `json:"assignedAt"`
	AssignedBy string     `json:"assignedBy,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the assignment has lapsed at the given instant
func (a *Assignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// Subject is the authenticated entity a decision is computed for. Identity
// verification happens upstream; the core trusts the ID it is handed.
type Subject struct {
	ID         string                 `json:"id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Groups     []string               `json:"groups,omitempty"`
}

// PermissionRequest names the action and resource a decision is asked about
type PermissionRequest struct {
	Action             string                 `json:"action"`
	Resource           string                 `json:"resource"`
	ResourceID         string                 `json:"resourceId,omitempty"`
	ResourceAttributes map[string]interface{} `json:"resourceAttributes,omitempty"`
}

// RequestContext carries caller-supplied environment facts. The transport
// layer extracts these; the core imposes no contract on their origin.
type RequestContext struct {
	IPAddress string                 `json:"ipAddress,omitempty"`
	UserAgent string                 `json:"userAgent,omitempty"`
	Location  string                 `json:"location,omitempty"`
	Custom    map[string]interface{} `json:"custom,omitempty"`
}

// EvaluationContext is the fully assembled input the condition evaluator
// sees for one policy evaluation
type EvaluationContext struct {
	User        SubjectContext     `json:"user"`
	Resource    ResourceContext    `json:"resource"`
	Environment EnvironmentContext `json:"environment"`
	Custom      map[string]interface{} `json:"custom,omitempty"`
}

// SubjectContext describes the requesting user inside an evaluation context
type SubjectContext struct {
	ID         string                 `json:"id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Groups     []string               `json:"groups,omitempty"`
}

// ResourceContext describes the target resource inside an evaluation context
type ResourceContext struct {
	Type       string                 `json:"type"`
	ID         string                 `json:"id,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// EnvironmentContext describes the ambient request environment
type EnvironmentContext struct {
	Timestamp time.Time `json:"timestamp"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Location  string    `json:"location,omitempty"`
}

// EvaluationResult is the outcome of a single permission evaluation
type EvaluationResult struct {
	Decision    Decision  `json:"decision"`
	PolicyID    string    `json:"policyId,omitempty"`
	PolicyName  string    `json:"policyName,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CacheHit    bool      `json:"cacheHit"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Allowed reports whether the result grants access
func (r *EvaluationResult) Allowed() bool {
	return r.Decision == DecisionAllow
}

// CacheKey derives the deterministic cache key for a (user, request,
// context) tuple. The userID stays in clear as a prefix so one user's
// entries can be invalidated without touching anyone else's; the remainder
// is hashed. Every context field that conditions can gate on goes into the
// hash — a decision computed under one IP or location must never be
// replayed under another. Custom context keys are sorted so key derivation
// does not depend on map iteration order.
func CacheKey(userID string, req *PermissionRequest, rc *RequestContext) string {
	var b strings.Builder
	b.WriteString(req.Action)
	b.WriteByte(':')
	b.WriteString(req.Resource)
	b.WriteByte(':')
	b.WriteString(req.ResourceID)

	if rc == nil {
		rc = &RequestContext{}
	}
	b.WriteByte(':')
	b.WriteString(rc.IPAddress)
	b.WriteByte(':')
	b.WriteString(rc.UserAgent)
	b.WriteByte(':')
	b.WriteString(rc.Location)

	if len(rc.Custom) > 0 {
		keys := make([]string, 0, len(rc.Custom))
		for k := range rc.Custom {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, _ := json.Marshal(rc.Custom[k])
			fmt.Fprintf(&b, ":%s=%s", k, v)
		}
	}

	hash := sha256.Sum256([]byte(b.String()))
	return userID + ":" + hex.EncodeToString(hash[:16])
}
