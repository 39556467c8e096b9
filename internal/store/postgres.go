package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/pbac-engine/go-core/pkg/types"
)

// PostgresStore implements the three entity stores on PostgreSQL. Join-set
// replacement and multi-row mutations run in single transactions, so
// readers never observe a transiently empty membership set.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

var (
	_ PolicyStore     = (*PostgresStore)(nil)
	_ RoleStore       = (*PostgresStore)(nil)
	_ AssignmentStore = (*PostgresStore)(nil)
)

// NewPostgresStore creates a store backed by the given connection pool
func NewPostgresStore(db *sql.DB, clock func() time.Time) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("database connection is nil")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if clock == nil {
		clock = time.Now
	}
	return &PostgresStore{db: db, clock: clock}, nil
}

const policyColumns = `id, name, description, version, is_active, conditions,
       actions, resources, effect, priority, created_at, updated_at, created_by`

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// CreatePolicy inserts a new policy; a duplicate name maps to ConflictError
func (s *PostgresStore) CreatePolicy(ctx context.Context, in CreatePolicy) (*types.Policy, error) {
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

	condJSON, err := marshalConditions(in.Conditions)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (id, name, description, version, is_active, conditions,
		                      actions, resources, effect, priority, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, 1, $4, $5, $6, $7, $8, $9, $10, $10, $11)`,
		id, in.Name, in.Description, isActive, condJSON,
		pq.Array(in.Actions), pq.Array(in.Resources), string(effect), priority, now, in.CreatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, types.NewConflictError("policy", fmt.Sprintf("name %q already exists", in.Name))
		}
		return nil, fmt.Errorf("insert policy: %w", err)
	}

	return s.GetPolicyByID(ctx, id)
}

// ListPolicies returns one page plus the unpaged match count
func (s *PostgresStore) ListPolicies(ctx context.Context, filter PolicyFilter, opts ListOptions) (*PolicyPage, error) {
	var conds []string
	var args []interface{}

	if filter.IsActiveOnly {
		conds = append(conds, "is_active")
	}
	if filter.Effect != "" {
		args = append(args, string(filter.Effect))
		conds = append(conds, fmt.Sprintf("effect = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conds = append(conds, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM policies"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count policies: %w", err)
	}

	orderCol := map[string]string{
		"name":      "name",
		"priority":  "priority",
		"createdAt": "created_at",
		"updatedAt": "updated_at",
	}[opts.SortBy]
	if orderCol == "" {
		orderCol = "name"
	}
	direction := "ASC"
	if strings.EqualFold(opts.SortOrder, "desc") {
		direction = "DESC"
	}

	page, limit := normalizePage(opts.Page, opts.Limit)
	args = append(args, limit, (page-1)*limit)

	query := fmt.Sprintf("SELECT %s FROM policies%s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		policyColumns, where, orderCol, direction, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	policies, err := scanPolicies(rows)
	if err != nil {
		return nil, err
	}
	return &PolicyPage{Policies: policies, Total: total}, nil
}

// GetPolicyByID returns the policy or NotFoundError
func (s *PostgresStore) GetPolicyByID(ctx context.Context, id string) (*types.Policy, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM policies WHERE id = $1", policyColumns), id)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("policy", id)
	}
	return p, err
}

// GetPolicyByName returns the policy or NotFoundError
func (s *PostgresStore) GetPolicyByName(ctx context.Context, name string) (*types.Policy, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM policies WHERE name = $1", policyColumns), name)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("policy", name)
	}
	return p, err
}

// UpdatePolicy applies a partial update and bumps the version in the same
// statement, so the field writes and the version increment are atomic.
func (s *PostgresStore) UpdatePolicy(ctx context.Context, id string, patch PolicyPatch) (*types.Policy, error) {
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

	sets := []string{"version = version + 1", "updated_at = $1"}
	args := []interface{}{s.clock()}

	addSet := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Name != nil {
		addSet("name", *patch.Name)
	}
	if patch.Description != nil {
		addSet("description", *patch.Description)
	}
	if patch.Conditions != nil {
		condJSON, err := marshalConditions(patch.Conditions)
		if err != nil {
			return nil, err
		}
		addSet("conditions", condJSON)
	}
	if patch.Actions != nil {
		addSet("actions", pq.Array(patch.Actions))
	}
	if patch.Resources != nil {
		addSet("resources", pq.Array(patch.Resources))
	}
	if patch.Effect != nil {
		addSet("effect", string(*patch.Effect))
	}
	if patch.Priority != nil {
		addSet("priority", *patch.Priority)
	}
	if patch.IsActive != nil {
		addSet("is_active", *patch.IsActive)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE policies SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, types.NewConflictError("policy", fmt.Sprintf("name %q already exists", *patch.Name))
		}
		return nil, fmt.Errorf("update policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, types.NewNotFoundError("policy", id)
	}

	return s.GetPolicyByID(ctx, id)
}

// DeletePolicy removes the policy; joins cascade in the schema
func (s *PostgresStore) DeletePolicy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM policies WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFoundError("policy", id)
	}
	return nil
}

// TogglePolicyStatus flips is_active without bumping the version
func (s *PostgresStore) TogglePolicyStatus(ctx context.Context, id string, isActive bool) (*types.Policy, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE policies SET is_active = $1, updated_at = $2 WHERE id = $3",
		isActive, s.clock(), id)
	if err != nil {
		return nil, fmt.Errorf("toggle policy status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, types.NewNotFoundError("policy", id)
	}
	return s.GetPolicyByID(ctx, id)
}

// CreateRole persists the role and its join rows in one transaction; any
// unknown policy id aborts the whole creation.
func (s *PostgresStore) CreateRole(ctx context.Context, in CreateRole) (*types.Role, error) {
	if err := validateRoleName(in.Name); err != nil {
		return nil, err
	}

	metaJSON, err := marshalMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	members := dedupe(in.PolicyIDs)
	if err := verifyPoliciesExist(ctx, tx, members); err != nil {
		return nil, err
	}

	now := s.clock()
	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, is_active, is_system_role, metadata,
		                   created_at, updated_at, created_by)
		VALUES ($1, $2, $3, TRUE, $4, $5, $6, $6, $7)`,
		id, in.Name, in.Description, in.IsSystemRole, metaJSON, now, in.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, types.NewConflictError("role", fmt.Sprintf("name %q already exists", in.Name))
		}
		return nil, fmt.Errorf("insert role: %w", err)
	}

	if err := insertJoinRows(ctx, tx, id, members); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.GetRoleByID(ctx, id)
}

// ListRoles returns all roles with resolved policy sets, ordered by name
func (s *PostgresStore) ListRoles(ctx context.Context) ([]*types.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, is_active, is_system_role, metadata,
		       created_at, updated_at, created_by
		FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	var roles []*types.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}

	for _, r := range roles {
		if r.Policies, err = s.rolePolicies(ctx, r.ID); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

// GetRoleByID returns the role with its policy set resolved
func (s *PostgresStore) GetRoleByID(ctx context.Context, id string) (*types.Role, error) {
	return s.getRole(ctx, "id = $1", id)
}

// GetRoleByName returns the role with its policy set resolved
func (s *PostgresStore) GetRoleByName(ctx context.Context, name string) (*types.Role, error) {
	return s.getRole(ctx, "name = $1", name)
}

func (s *PostgresStore) getRole(ctx context.Context, where, key string) (*types.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, is_active, is_system_role, metadata,
		       created_at, updated_at, created_by
		FROM roles WHERE `+where, key)
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("role", key)
	}
	if err != nil {
		return nil, err
	}
	if r.Policies, err = s.rolePolicies(ctx, r.ID); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateRole updates scalar fields and, when PolicyIDs is non-nil, replaces
// the whole membership set. Delete and re-insert run inside one
// transaction so concurrent readers see either the old or the new set.
func (s *PostgresStore) UpdateRole(ctx context.Context, id string, patch RolePatch) (*types.Role, error) {
	if patch.Name != nil {
		if err := validateRoleName(*patch.Name); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	sets := []string{"updated_at = $1"}
	args := []interface{}{s.clock()}
	addSet := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Name != nil {
		addSet("name", *patch.Name)
	}
	if patch.Description != nil {
		addSet("description", *patch.Description)
	}
	if patch.IsActive != nil {
		addSet("is_active", *patch.IsActive)
	}
	if patch.Metadata != nil {
		metaJSON, err := marshalMetadata(patch.Metadata)
		if err != nil {
			return nil, err
		}
		addSet("metadata", metaJSON)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE roles SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, types.NewConflictError("role", fmt.Sprintf("name %q already exists", *patch.Name))
		}
		return nil, fmt.Errorf("update role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, types.NewNotFoundError("role", id)
	}

	if patch.PolicyIDs != nil {
		members := dedupe(patch.PolicyIDs)
		if err := verifyPoliciesExist(ctx, tx, members); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM role_policies WHERE role_id = $1", id); err != nil {
			return nil, fmt.Errorf("clear role policies: %w", err)
		}
		if err := insertJoinRows(ctx, tx, id, members); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetRoleByID(ctx, id)
}

// DeleteRole removes the role after checking the live-assignment
// precondition inside the deleting transaction.
func (s *PostgresStore) DeleteRole(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var name string
	var isSystem bool
	err = tx.QueryRowContext(ctx, "SELECT name, is_system_role FROM roles WHERE id = $1 FOR UPDATE", id).
		Scan(&name, &isSystem)
	if errors.Is(err, sql.ErrNoRows) {
		return types.NewNotFoundError("role", id)
	}
	if err != nil {
		return fmt.Errorf("lock role: %w", err)
	}
	if isSystem {
		return types.NewPreconditionFailedError(fmt.Sprintf("role %q is a system role", name))
	}

	var live bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM role_assignments
			WHERE role_id = $1 AND (expires_at IS NULL OR expires_at > $2)
		)`, id, s.clock()).Scan(&live)
	if err != nil {
		return fmt.Errorf("check assignments: %w", err)
	}
	if live {
		return types.NewPreconditionFailedError(fmt.Sprintf("role %q has active assignments", name))
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM roles WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return tx.Commit()
}

// Assign grants a role; duplicate pairs conflict even when expired
func (s *PostgresStore) Assign(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) (*types.Assignment, error) {
	if userID == "" {
		return nil, types.NewValidationError("userId", "must not be empty")
	}

	now := s.clock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_assignments (user_id, role_id, assigned_at, assigned_by, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		userID, roleID, now, assignedBy, expiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, types.NewConflictError("assignment", fmt.Sprintf("user %q already has role %q", userID, roleID))
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return nil, types.NewNotFoundError("role", roleID)
		}
		return nil, fmt.Errorf("insert assignment: %w", err)
	}

	return &types.Assignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedAt: now,
		AssignedBy: assignedBy,
		ExpiresAt:  expiresAt,
	}, nil
}

// Remove revokes an assignment; absent pairs are a no-op
func (s *PostgresStore) Remove(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM role_assignments WHERE user_id = $1 AND role_id = $2", userID, roleID)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	return nil
}

// ListActiveRolesForUser resolves non-expired grants to roles with policies
func (s *PostgresStore) ListActiveRolesForUser(ctx context.Context, userID string) ([]*types.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.description, r.is_active, r.is_system_role, r.metadata,
		       r.created_at, r.updated_at, r.created_by
		FROM roles r
		JOIN role_assignments a ON a.role_id = r.id
		WHERE a.user_id = $1 AND (a.expires_at IS NULL OR a.expires_at > $2)
		ORDER BY r.name`, userID, s.clock())
	if err != nil {
		return nil, fmt.Errorf("query active roles: %w", err)
	}
	defer rows.Close()

	var roles []*types.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active roles: %w", err)
	}

	for _, r := range roles {
		if r.Policies, err = s.rolePolicies(ctx, r.ID); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

// ListForUser returns every assignment for the user, expired or not
func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]*types.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, role_id, assigned_at, assigned_by, expires_at
		FROM role_assignments WHERE user_id = $1 ORDER BY role_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var out []*types.Assignment
	for rows.Next() {
		a := &types.Assignment{}
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.AssignedAt, &a.AssignedBy, &a.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// HasActiveAssignments reports whether any live assignment references the role
func (s *PostgresStore) HasActiveAssignments(ctx context.Context, roleID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM role_assignments
			WHERE role_id = $1 AND (expires_at IS NULL OR expires_at > $2)
		)`, roleID, s.clock()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check assignments: %w", err)
	}
	return exists, nil
}

// EnsureDefaultRole gets or creates a policy-less system role. The insert
// uses ON CONFLICT DO NOTHING, so concurrent first calls converge.
func (s *PostgresStore) EnsureDefaultRole(ctx context.Context, name string) (*types.Role, error) {
	if err := validateRoleName(name); err != nil {
		return nil, err
	}

	now := s.clock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, is_active, is_system_role, created_at, updated_at)
		VALUES ($1, $2, 'Default role', TRUE, TRUE, $3, $3)
		ON CONFLICT (name) DO NOTHING`,
		uuid.NewString(), name, now)
	if err != nil {
		return nil, fmt.Errorf("ensure default role: %w", err)
	}
	return s.GetRoleByName(ctx, name)
}

// SweepExpired physically deletes lapsed assignments
func (s *PostgresStore) SweepExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM role_assignments WHERE expires_at IS NOT NULL AND expires_at <= $1", s.clock())
	if err != nil {
		return 0, fmt.Errorf("sweep assignments: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- helpers ---

func (s *PostgresStore) rolePolicies(ctx context.Context, roleID string) ([]*types.Policy, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM policies p
		JOIN role_policies rp ON rp.policy_id = p.id
		WHERE rp.role_id = $1 ORDER BY p.priority DESC, p.name`, policyColumnsAliased("p")), roleID)
	if err != nil {
		return nil, fmt.Errorf("query role policies: %w", err)
	}
	defer rows.Close()

	return scanPolicies(rows)
}

func policyColumnsAliased(alias string) string {
	cols := strings.Split(policyColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func verifyPoliciesExist(ctx context.Context, tx *sql.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := tx.QueryContext(ctx, "SELECT id FROM policies WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return fmt.Errorf("verify policies: %w", err)
	}
	defer rows.Close()

	found := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan policy id: %w", err)
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return types.NewValidationError("policyIds", fmt.Sprintf("policy %q does not exist", id))
		}
	}
	return nil
}

func insertJoinRows(ctx context.Context, tx *sql.Tx, roleID string, policyIDs []string) error {
	for _, pid := range policyIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO role_policies (role_id, policy_id) VALUES ($1, $2)", roleID, pid); err != nil {
			return fmt.Errorf("insert role policy: %w", err)
		}
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func marshalConditions(c *types.Conditions) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, types.NewValidationError("conditions", fmt.Sprintf("not serializable: %v", err))
	}
	return data, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, types.NewValidationError("metadata", fmt.Sprintf("not serializable: %v", err))
	}
	return data, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(row rowScanner) (*types.Policy, error) {
	p := &types.Policy{}
	var condJSON []byte
	var actions, resources pq.StringArray
	var effect string

	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Version, &p.IsActive, &condJSON,
		&actions, &resources, &effect, &p.Priority, &p.CreatedAt, &p.UpdatedAt, &p.CreatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan policy: %w", err)
	}

	p.Actions = []string(actions)
	p.Resources = []string(resources)
	p.Effect = types.Effect(effect)
	if len(condJSON) > 0 {
		p.Conditions = &types.Conditions{}
		if err := json.Unmarshal(condJSON, p.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal conditions: %w", err)
		}
	}
	return p, nil
}

func scanPolicies(rows *sql.Rows) ([]*types.Policy, error) {
	var out []*types.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanRole(row rowScanner) (*types.Role, error) {
	r := &types.Role{}
	var metaJSON []byte

	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsActive, &r.IsSystemRole, &metaJSON,
		&r.CreatedAt, &r.UpdatedAt, &r.CreatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan role: %w", err)
	}

	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return r, nil
}
