// Package bootstrap seeds policies, roles, and assignments from YAML
// files and keeps them in sync with the directory via hot reload.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pbac-engine/go-core/internal/service"
	"github.com/pbac-engine/go-core/internal/store"
	"github.com/pbac-engine/go-core/pkg/types"
)

// Seed is one declarative seed document
type Seed struct {
	Policies    []SeedPolicy     `yaml:"policies" json:"policies"`
	Roles       []SeedRole       `yaml:"roles" json:"roles"`
	Assignments []SeedAssignment `yaml:"assignments" json:"assignments"`
}

// SeedPolicy declares one policy by name
type SeedPolicy struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description"`
	Effect      types.Effect      `yaml:"effect" json:"effect"`
	Priority    *int              `yaml:"priority" json:"priority"`
	IsActive    *bool             `yaml:"isActive" json:"isActive"`
	Actions     []string          `yaml:"actions" json:"actions"`
	Resources   []string          `yaml:"resources" json:"resources"`
	Conditions  *types.Conditions `yaml:"conditions" json:"conditions"`
}

// SeedRole declares one role by name, referencing policies by name
type SeedRole struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description"`
	Policies    []string          `yaml:"policies" json:"policies"`
	Metadata    map[string]string `yaml:"metadata" json:"metadata"`
}

// SeedAssignment grants a role, referenced by name, to a user
type SeedAssignment struct {
	UserID    string     `yaml:"userId" json:"userId"`
	Role      string     `yaml:"role" json:"role"`
	ExpiresAt *time.Time `yaml:"expiresAt" json:"expiresAt"`
}

// Loader loads and applies seed files from disk
type Loader struct {
	authz  *service.Authorizer
	logger *zap.Logger
}

// NewLoader creates a new seed loader
func NewLoader(authz *service.Authorizer, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{authz: authz, logger: logger}
}

// LoadFromDirectory parses every seed file in the directory. Files that
// fail to parse are skipped with a warning.
func (l *Loader) LoadFromDirectory(path string) ([]*Seed, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read seed directory: %w", err)
	}

	var seeds []*Seed
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		filePath := filepath.Join(path, entry.Name())
		seed, err := l.LoadFromFile(filePath)
		if err != nil {
			l.logger.Warn("skipping malformed seed file",
				zap.String("file", filePath),
				zap.Error(err),
			)
			continue
		}
		seeds = append(seeds, seed)
	}

	return seeds, nil
}

// LoadFromFile parses a single seed file. YAML unmarshalling covers the
// JSON files too.
func (l *Loader) LoadFromFile(filePath string) (*Seed, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	seed := &Seed{}
	if err := yaml.Unmarshal(content, seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	return seed, nil
}

// Apply upserts the seed's entities by name: policies first, then
// roles, then assignments, so each phase can reference the previous
// one. Existing entities are updated in place; an assignment that is
// already present stays as it is.
func (l *Loader) Apply(ctx context.Context, seed *Seed) error {
	for _, sp := range seed.Policies {
		if err := l.applyPolicy(ctx, sp); err != nil {
			return fmt.Errorf("seed policy %q: %w", sp.Name, err)
		}
	}
	for _, sr := range seed.Roles {
		if err := l.applyRole(ctx, sr); err != nil {
			return fmt.Errorf("seed role %q: %w", sr.Name, err)
		}
	}
	for _, sa := range seed.Assignments {
		if err := l.applyAssignment(ctx, sa); err != nil {
			return fmt.Errorf("seed assignment %s/%s: %w", sa.UserID, sa.Role, err)
		}
	}
	return nil
}

// ApplyAll loads the directory and applies every seed in it
func (l *Loader) ApplyAll(ctx context.Context, path string) error {
	seeds, err := l.LoadFromDirectory(path)
	if err != nil {
		return err
	}
	for _, seed := range seeds {
		if err := l.Apply(ctx, seed); err != nil {
			return err
		}
	}
	l.logger.Info("seed data applied",
		zap.String("path", path),
		zap.Int("files", len(seeds)),
	)
	return nil
}

func (l *Loader) applyPolicy(ctx context.Context, sp SeedPolicy) error {
	existing, err := l.authz.GetPolicyByName(ctx, sp.Name)
	if err != nil {
		if !types.IsNotFound(err) {
			return err
		}
		_, err = l.authz.CreatePolicy(ctx, store.CreatePolicy{
			Name:        sp.Name,
			Description: sp.Description,
			Conditions:  sp.Conditions,
			Actions:     sp.Actions,
			Resources:   sp.Resources,
			Effect:      sp.Effect,
			Priority:    sp.Priority,
			IsActive:    sp.IsActive,
			CreatedBy:   "bootstrap",
		})
		return err
	}

	patch := store.PolicyPatch{
		Description: &sp.Description,
		Conditions:  sp.Conditions,
		Actions:     sp.Actions,
		Resources:   sp.Resources,
		Priority:    sp.Priority,
		IsActive:    sp.IsActive,
	}
	// An omitted effect means "keep what the store defaulted to", not
	// "patch to empty".
	if sp.Effect != "" {
		patch.Effect = &sp.Effect
	}
	_, err = l.authz.UpdatePolicy(ctx, existing.ID, patch)
	return err
}

func (l *Loader) applyRole(ctx context.Context, sr SeedRole) error {
	policyIDs := make([]string, 0, len(sr.Policies))
	for _, name := range sr.Policies {
		p, err := l.authz.GetPolicyByName(ctx, name)
		if err != nil {
			return fmt.Errorf("referenced policy %q: %w", name, err)
		}
		policyIDs = append(policyIDs, p.ID)
	}

	existing, err := l.authz.GetRoleByName(ctx, sr.Name)
	if err != nil {
		if !types.IsNotFound(err) {
			return err
		}
		_, err = l.authz.CreateRole(ctx, store.CreateRole{
			Name:        sr.Name,
			Description: sr.Description,
			PolicyIDs:   policyIDs,
			Metadata:    sr.Metadata,
			CreatedBy:   "bootstrap",
		})
		return err
	}

	_, err = l.authz.UpdateRole(ctx, existing.ID, store.RolePatch{
		Description: &sr.Description,
		Metadata:    sr.Metadata,
		PolicyIDs:   policyIDs,
	})
	return err
}

func (l *Loader) applyAssignment(ctx context.Context, sa SeedAssignment) error {
	role, err := l.authz.GetRoleByName(ctx, sa.Role)
	if err != nil {
		return fmt.Errorf("referenced role %q: %w", sa.Role, err)
	}

	_, err = l.authz.AssignRole(ctx, sa.UserID, role.ID, "bootstrap", sa.ExpiresAt)
	if types.IsConflict(err) {
		// Already granted; seeds are idempotent.
		return nil
	}
	return err
}
