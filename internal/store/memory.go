package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pbac-engine/go-core/pkg/types"
)

// MemoryStore implements PolicyStore, RoleStore, and AssignmentStore in
// memory. All three entity families share one lock so cross-entity
// invariants (join cascades, delete preconditions) hold without internal
// transactions. Role membership is an immutable slice swapped wholesale
// under the write lock, so readers never observe a partially replaced set.
type MemoryStore struct {
	mu sync.RWMutex

	policies    map[string]*types.Policy // by id
	policyNames map[string]string        // name -> id

	roles      map[string]*types.Role // by id, Policies left nil
	roleNames  map[string]string      // name -> id
	membership map[string][]string    // roleID -> policyIDs, replaced wholesale

	assignments map[string]*types.Assignment // userID + "\x00" + roleID

	clock func() time.Time
}

var (
	_ PolicyStore     = (*MemoryStore)(nil)
	_ RoleStore       = (*MemoryStore)(nil)
	_ AssignmentStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store. A nil clock defaults to
// time.Now; tests inject a fixed clock for expiry checks.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		policies:    make(map[string]*types.Policy),
		policyNames: make(map[string]string),
		roles:       make(map[string]*types.Role),
		roleNames:   make(map[string]string),
		membership:  make(map[string][]string),
		assignments: make(map[string]*types.Assignment),
		clock:       clock,
	}
}

func assignmentKey(userID, roleID string) string {
	return userID + "\x00" + roleID
}

// --- PolicyStore ---

// CreatePolicy inserts a new policy, enforcing name uniqueness across active and
// inactive policies.
func (s *MemoryStore) CreatePolicy(ctx context.Context, in CreatePolicy) (*types.Policy, error) {
	if err := validatePolicyName(in.Name); err != nil {
		return nil, err
	}
	if len(in.Actions) == 0 {
		return nil, types.NewValidationError("actions", "must not be empty")
	}
	if len(in.Resources) == 0 {
		return nil, types.NewValidationError("resources", "must not be empty")
	}

	effect := in.Effect
	if effect == "" {
		effect = types.EffectAllow
	}
	if !effect.Valid() {
		return nil, types.NewValidationError("effect", fmt.Sprintf("unknown effect %q", in.Effect))
	}

	priority := 0
	if in.Priority != nil {
		priority = *in.Priority
	}
	if priority < 0 {
		return nil, types.NewValidationError("priority", "must not be negative")
	}

	isActive := true
	if in.IsActive != nil {
		isActive = *in.IsActive
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policyNames[in.Name]; exists {
		return nil, types.NewConflictError("policy", fmt.Sprintf("name %q already exists", in.Name))
	}

	now := s.clock()
	p := &types.Policy{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Version:     1,
		IsActive:    isActive,
		Conditions:  in.Conditions.Clone(),
		Actions:     append([]string(nil), in.Actions...),
		Resources:   append([]string(nil), in.Resources...),
		Effect:      effect,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   in.CreatedBy,
	}

	s.policies[p.ID] = p
	s.policyNames[p.Name] = p.ID
	return p.Clone(), nil
}

// ListPolicies returns one page of policies matching the filter plus the total
// count of matches.
func (s *MemoryStore) ListPolicies(ctx context.Context, filter PolicyFilter, opts ListOptions) (*PolicyPage, error) {
	s.mu.RLock()
	matched := make([]*types.Policy, 0, len(s.policies))
	search := strings.ToLower(filter.Search)
	for _, p := range s.policies {
		if filter.IsActiveOnly && !p.IsActive {
			continue
		}
		if filter.Effect != "" && p.Effect != filter.Effect {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		matched = append(matched, p.Clone())
	}
	s.mu.RUnlock()

	sortPolicies(matched, opts.SortBy, opts.SortOrder)

	total := len(matched)
	page, limit := normalizePage(opts.Page, opts.Limit)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &PolicyPage{Policies: matched[start:end], Total: total}, nil
}

// GetPolicyByID returns the policy or NotFoundError
func (s *MemoryStore) GetPolicyByID(ctx context.Context, id string) (*types.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, types.NewNotFoundError("policy", id)
	}
	return p.Clone(), nil
}

// GetPolicyByName returns the policy or NotFoundError
func (s *MemoryStore) GetPolicyByName(ctx context.Context, name string) (*types.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.policyNames[name]
	if !ok {
		return nil, types.NewNotFoundError("policy", name)
	}
	return s.policies[id].Clone(), nil
}

// UpdatePolicy applies a partial update and bumps the version. A name change
// colliding with another policy fails with ConflictError.
func (s *MemoryStore) UpdatePolicy(ctx context.Context, id string, patch PolicyPatch) (*types.Policy, error) {
	if patch.Name != nil {
		if err := validatePolicyName(*patch.Name); err != nil {
			return nil, err
		}
	}
	if patch.Actions != nil && len(patch.Actions) == 0 {
		return nil, types.NewValidationError("actions", "must not be empty")
	}
	if patch.Resources != nil && len(patch.Resources) == 0 {
		return nil, types.NewValidationError("resources", "must not be empty")
	}
	if patch.Effect != nil && !patch.Effect.Valid() {
		return nil, types.NewValidationError("effect", fmt.Sprintf("unknown effect %q", *patch.Effect))
	}
	if patch.Priority != nil && *patch.Priority < 0 {
		return nil, types.NewValidationError("priority", "must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, types.NewNotFoundError("policy", id)
	}

	if patch.Name != nil && *patch.Name != p.Name {
		if otherID, exists := s.policyNames[*patch.Name]; exists && otherID != id {
			return nil, types.NewConflictError("policy", fmt.Sprintf("name %q already exists", *patch.Name))
		}
		delete(s.policyNames, p.Name)
		p.Name = *patch.Name
		s.policyNames[p.Name] = id
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Conditions != nil {
		p.Conditions = patch.Conditions.Clone()
	}
	if patch.Actions != nil {
		p.Actions = append([]string(nil), patch.Actions...)
	}
	if patch.Resources != nil {
		p.Resources = append([]string(nil), patch.Resources...)
	}
	if patch.Effect != nil {
		p.Effect = *patch.Effect
	}
	if patch.Priority != nil {
		p.Priority = *patch.Priority
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}

	p.Version++
	p.UpdatedAt = s.clock()
	return p.Clone(), nil
}

// DeletePolicy permanently removes a policy and cascades its role join rows
func (s *MemoryStore) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[id]
	if !ok {
		return types.NewNotFoundError("policy", id)
	}

	delete(s.policies, id)
	delete(s.policyNames, p.Name)

	for roleID, members := range s.membership {
		kept := members[:0:0]
		for _, pid := range members {
			if pid != id {
				kept = append(kept, pid)
			}
		}
		if len(kept) != len(members) {
			s.membership[roleID] = kept
		}
	}
	return nil
}

// TogglePolicyStatus flips isActive without touching the version
func (s *MemoryStore) TogglePolicyStatus(ctx context.Context, id string, isActive bool) (*types.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, types.NewNotFoundError("policy", id)
	}

	p.IsActive = isActive
	p.UpdatedAt = s.clock()
	return p.Clone(), nil
}

// --- RoleStore ---

// CreateRole validates that every policy id resolves before creating
// anything: on any invalid id the role is not persisted.
func (s *MemoryStore) CreateRole(ctx context.Context, in CreateRole) (*types.Role, error) {
	if err := validateRoleName(in.Name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.roleNames[in.Name]; exists {
		return nil, types.NewConflictError("role", fmt.Sprintf("name %q already exists", in.Name))
	}

	members, err := s.resolveMembershipLocked(in.PolicyIDs)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	r := &types.Role{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Description:  in.Description,
		IsActive:     true,
		IsSystemRole: in.IsSystemRole,
		Metadata:     cloneStringMap(in.Metadata),
		CreatedAt:    now,
		UpdatedAt:    now,
		CreatedBy:    in.CreatedBy,
	}

	s.roles[r.ID] = r
	s.roleNames[r.Name] = r.ID
	s.membership[r.ID] = members

	return s.resolveRoleLocked(r), nil
}

// ListRoles returns all roles with resolved policy sets, ordered by name
func (s *MemoryStore) ListRoles(ctx context.Context) ([]*types.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]*types.Role, 0, len(s.roles))
	for _, r := range s.roles {
		roles = append(roles, s.resolveRoleLocked(r))
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// GetRoleByID returns the role with its policy set resolved
func (s *MemoryStore) GetRoleByID(ctx context.Context, id string) (*types.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[id]
	if !ok {
		return nil, types.NewNotFoundError("role", id)
	}
	return s.resolveRoleLocked(r), nil
}

// GetRoleByName returns the role with its policy set resolved
func (s *MemoryStore) GetRoleByName(ctx context.Context, name string) (*types.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.roleNames[name]
	if !ok {
		return nil, types.NewNotFoundError("role", name)
	}
	return s.resolveRoleLocked(s.roles[id]), nil
}

// UpdateRole updates scalar fields independently; a non-nil PolicyIDs
// replaces the whole membership set in one swap.
func (s *MemoryStore) UpdateRole(ctx context.Context, id string, patch RolePatch) (*types.Role, error) {
	if patch.Name != nil {
		if err := validateRoleName(*patch.Name); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok {
		return nil, types.NewNotFoundError("role", id)
	}

	var members []string
	if patch.PolicyIDs != nil {
		var err error
		members, err = s.resolveMembershipLocked(patch.PolicyIDs)
		if err != nil {
			return nil, err
		}
	}

	if patch.Name != nil && *patch.Name != r.Name {
		if otherID, exists := s.roleNames[*patch.Name]; exists && otherID != id {
			return nil, types.NewConflictError("role", fmt.Sprintf("name %q already exists", *patch.Name))
		}
		delete(s.roleNames, r.Name)
		r.Name = *patch.Name
		s.roleNames[r.Name] = id
	}
	if patch.Description != nil {
		r.Description = *patch.Description
	}
	if patch.IsActive != nil {
		r.IsActive = *patch.IsActive
	}
	if patch.Metadata != nil {
		r.Metadata = cloneStringMap(patch.Metadata)
	}
	if patch.PolicyIDs != nil {
		s.membership[id] = members
	}

	r.UpdatedAt = s.clock()
	return s.resolveRoleLocked(r), nil
}

// DeleteRole removes join rows then the role. It refuses system roles and
// roles still referenced by non-expired assignments.
func (s *MemoryStore) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.roles[id]
	if !ok {
		return types.NewNotFoundError("role", id)
	}
	if r.IsSystemRole {
		return types.NewPreconditionFailedError(fmt.Sprintf("role %q is a system role", r.Name))
	}

	now := s.clock()
	for _, a := range s.assignments {
		if a.RoleID == id && !a.Expired(now) {
			return types.NewPreconditionFailedError(fmt.Sprintf("role %q has active assignments", r.Name))
		}
	}

	delete(s.membership, id)
	delete(s.roles, id)
	delete(s.roleNames, r.Name)

	// Expired assignments referencing the role are swept with it.
	for key, a := range s.assignments {
		if a.RoleID == id {
			delete(s.assignments, key)
		}
	}
	return nil
}

// --- AssignmentStore ---

// Assign grants a role to a user. A duplicate pair conflicts even when the
// existing grant has expired; callers remove before re-assigning.
func (s *MemoryStore) Assign(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) (*types.Assignment, error) {
	if userID == "" {
		return nil, types.NewValidationError("userId", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[roleID]; !ok {
		return nil, types.NewNotFoundError("role", roleID)
	}

	key := assignmentKey(userID, roleID)
	if _, exists := s.assignments[key]; exists {
		return nil, types.NewConflictError("assignment", fmt.Sprintf("user %q already has role %q", userID, roleID))
	}

	a := &types.Assignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedAt: s.clock(),
		AssignedBy: assignedBy,
		ExpiresAt:  expiresAt,
	}
	s.assignments[key] = a

	cp := *a
	return &cp, nil
}

// Remove revokes an assignment; absent pairs are a no-op
func (s *MemoryStore) Remove(ctx context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.assignments, assignmentKey(userID, roleID))
	return nil
}

// ListActiveRolesForUser resolves the user's non-expired grants to roles
// with their policy sets populated.
func (s *MemoryStore) ListActiveRolesForUser(ctx context.Context, userID string) ([]*types.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	var roles []*types.Role
	for _, a := range s.assignments {
		if a.UserID != userID || a.Expired(now) {
			continue
		}
		if r, ok := s.roles[a.RoleID]; ok {
			roles = append(roles, s.resolveRoleLocked(r))
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// ListForUser returns every assignment for the user, expired or not
func (s *MemoryStore) ListForUser(ctx context.Context, userID string) ([]*types.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Assignment
	for _, a := range s.assignments {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

// HasActiveAssignments reports whether any non-expired assignment
// references the role.
func (s *MemoryStore) HasActiveAssignments(ctx context.Context, roleID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	for _, a := range s.assignments {
		if a.RoleID == roleID && !a.Expired(now) {
			return true, nil
		}
	}
	return false, nil
}

// EnsureDefaultRole gets or creates a policy-less system role. The whole
// get-or-create runs under the write lock, so concurrent first calls
// converge on one record.
func (s *MemoryStore) EnsureDefaultRole(ctx context.Context, name string) (*types.Role, error) {
	if err := validateRoleName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.roleNames[name]; ok {
		return s.resolveRoleLocked(s.roles[id]), nil
	}

	now := s.clock()
	r := &types.Role{
		ID:           uuid.NewString(),
		Name:         name,
		Description:  "Default role",
		IsActive:     true,
		IsSystemRole: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.roles[r.ID] = r
	s.roleNames[name] = r.ID
	s.membership[r.ID] = nil

	return s.resolveRoleLocked(r), nil
}

// SweepExpired physically deletes lapsed assignments
func (s *MemoryStore) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	removed := 0
	for key, a := range s.assignments {
		if a.Expired(now) {
			delete(s.assignments, key)
			removed++
		}
	}
	return removed, nil
}

// --- helpers ---

// resolveMembershipLocked validates every policy id and returns the
// de-duplicated membership slice. Caller holds the lock.
func (s *MemoryStore) resolveMembershipLocked(policyIDs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(policyIDs))
	members := make([]string, 0, len(policyIDs))
	for _, pid := range policyIDs {
		if _, ok := s.policies[pid]; !ok {
			return nil, types.NewValidationError("policyIds", fmt.Sprintf("policy %q does not exist", pid))
		}
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}
		members = append(members, pid)
	}
	return members, nil
}

// resolveRoleLocked copies the role with its policy set materialized.
// Caller holds at least the read lock.
func (s *MemoryStore) resolveRoleLocked(r *types.Role) *types.Role {
	cp := *r
	cp.Metadata = cloneStringMap(r.Metadata)
	members := s.membership[r.ID]
	cp.Policies = make([]*types.Policy, 0, len(members))
	for _, pid := range members {
		if p, ok := s.policies[pid]; ok {
			cp.Policies = append(cp.Policies, p.Clone())
		}
	}
	return &cp
}

func validatePolicyName(name string) error {
	if name == "" {
		return types.NewValidationError("name", "must not be empty")
	}
	// The limit is characters, not bytes; multibyte names count by rune.
	if utf8.RuneCountInString(name) > MaxNameLength {
		return types.NewValidationError("name", fmt.Sprintf("must be at most %d characters", MaxNameLength))
	}
	return nil
}

func validateRoleName(name string) error {
	if name == "" {
		return types.NewValidationError("name", "must not be empty")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return types.NewValidationError("name", fmt.Sprintf("must be at most %d characters", MaxNameLength))
	}
	return nil
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func normalizePage(page, limit int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	return page, limit
}

func sortPolicies(policies []*types.Policy, sortBy, sortOrder string) {
	desc := strings.EqualFold(sortOrder, "desc")
	less := func(i, j int) bool { return policies[i].Name < policies[j].Name }

	switch sortBy {
	case "priority":
		less = func(i, j int) bool { return policies[i].Priority < policies[j].Priority }
	case "createdAt":
		less = func(i, j int) bool { return policies[i].CreatedAt.Before(policies[j].CreatedAt) }
	case "updatedAt":
		less = func(i, j int) bool { return policies[i].UpdatedAt.Before(policies[j].UpdatedAt) }
	}

	if desc {
		inner := less
		less = func(i, j int) bool { return inner(j, i) }
	}
	sort.SliceStable(policies, less)
}
