// Package store provides durable storage for policies, roles, and role
// assignments. Two implementations exist: an in-memory store used for tests
// and single-node deployments, and a PostgreSQL store for durable setups.
package store

import (
	"context"
	"time"

	"github.com/pbac-engine/go-core/pkg/types"
)

// MaxNameLength bounds policy and role names
const MaxNameLength = 100

// CreatePolicy carries the fields for a new policy. Zero values fall back
// to defaults: version 1, active, priority 0, effect allow.
type CreatePolicy struct {
	Name        string
	Description string
	Conditions  *types.Conditions
	Actions     []string
	Resources   []string
	Effect      types.Effect
	Priority    *int
	IsActive    *bool
	CreatedBy   string
}

// PolicyPatch carries a partial policy update. Nil fields are unchanged.
type PolicyPatch struct {
	Name        *string
	Description *string
	Conditions  *types.Conditions
	Actions     []string
	Resources   []string
	Effect      *types.Effect
	Priority    *int
	IsActive    *bool
}

// PolicyFilter narrows policy listings
type PolicyFilter struct {
	IsActiveOnly bool
	Effect       types.Effect // empty matches both effects
	Search       string       // case-insensitive match on name/description
}

// ListOptions control pagination and ordering of listings
type ListOptions struct {
	Page      int
	Limit     int
	SortBy    string // name | priority | createdAt | updatedAt
	SortOrder string // asc | desc
}

// PolicyPage is one page of a policy listing plus the unpaged total
type PolicyPage struct {
	Policies []*types.Policy
	Total    int
}

// CreateRole carries the fields for a new role
type CreateRole struct {
	Name         string
	Description  string
	PolicyIDs    []string
	IsSystemRole bool
	Metadata     map[string]string
	CreatedBy    string
}

// RolePatch carries a partial role update. Nil fields are unchanged; a
// non-nil PolicyIDs replaces the entire membership set.
type RolePatch struct {
	Name        *string
	Description *string
	IsActive    *bool
	Metadata    map[string]string
	PolicyIDs   []string
}

// PolicyStore is durable CRUD for policy records
type PolicyStore interface {
	CreatePolicy(ctx context.Context, in CreatePolicy) (*types.Policy, error)
	ListPolicies(ctx context.Context, filter PolicyFilter, opts ListOptions) (*PolicyPage, error)
	GetPolicyByID(ctx context.Context, id string) (*types.Policy, error)
	GetPolicyByName(ctx context.Context, name string) (*types.Policy, error)
	UpdatePolicy(ctx context.Context, id string, patch PolicyPatch) (*types.Policy, error)
	DeletePolicy(ctx context.Context, id string) error
	// TogglePolicyStatus flips isActive without bumping the version.
	TogglePolicyStatus(ctx context.Context, id string, isActive bool) (*types.Policy, error)
}

// RoleStore is durable CRUD for roles and their policy membership
type RoleStore interface {
	CreateRole(ctx context.Context, in CreateRole) (*types.Role, error)
	ListRoles(ctx context.Context) ([]*types.Role, error)
	// GetRoleByID and GetRoleByName return the role with its policy set
	// resolved.
	GetRoleByID(ctx context.Context, id string) (*types.Role, error)
	GetRoleByName(ctx context.Context, name string) (*types.Role, error)
	// UpdateRole replaces the whole membership set when PolicyIDs is
	// non-nil; the swap is atomic with respect to concurrent readers.
	UpdateRole(ctx context.Context, id string, patch RolePatch) (*types.Role, error)
	// DeleteRole fails with PreconditionFailedError while non-expired
	// assignments reference the role, and refuses system roles outright.
	DeleteRole(ctx context.Context, id string) error
}

// AssignmentStore is durable CRUD for user-role grants with optional expiry
type AssignmentStore interface {
	Assign(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) (*types.Assignment, error)
	// Remove is an idempotent no-op when the assignment is absent.
	Remove(ctx context.Context, userID, roleID string) error
	// ListActiveRolesForUser resolves the user's non-expired role grants.
	ListActiveRolesForUser(ctx context.Context, userID string) ([]*types.Role, error)
	ListForUser(ctx context.Context, userID string) ([]*types.Assignment, error)
	// HasActiveAssignments reports whether any non-expired assignment
	// references the role.
	HasActiveAssignments(ctx context.Context, roleID string) (bool, error)
	// EnsureDefaultRole gets or creates a policy-less system role, safe
	// under concurrent first-call races.
	EnsureDefaultRole(ctx context.Context, name string) (*types.Role, error)
	// SweepExpired physically deletes lapsed assignments and returns the
	// number removed.
	SweepExpired(ctx context.Context) (int, error)
}
