package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) ListRoles(ctx context.Context, companyID string) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.company_id, r.name, r.description, COALESCE(rp.key, ''), COALESCE(rp.scope, ''), COALESCE(rp.enabled, FALSE)
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		WHERE r.company_id=$1
		ORDER BY r.name, rp.key
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	roles := make([]Role, 0)
	index := map[string]int{}
	for rows.Next() {
		var role Role
		var perm RolePermission
		if err := rows.Scan(&role.ID, &role.CompanyID, &role.Name, &role.Description, &perm.Key, &perm.Scope, &perm.Enabled); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		i, ok := index[role.ID]
		if !ok {
			role.Permissions = make([]RolePermission, 0)
			roles = append(roles, role)
			i = len(roles) - 1
			index[role.ID] = i
		}
		if perm.Key != "" {
			roles[i].Permissions = append(roles[i].Permissions, perm)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

// SaveRole inserts or updates a role and replaces its permission flags.
func (s *PostgresStore) SaveRole(ctx context.Context, role Role) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save role: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO roles (id, company_id, name, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, description=EXCLUDED.description
	`, role.ID, role.CompanyID, role.Name, role.Description)
	if isUniqueViolation(err) {
		return fmt.Errorf("save role: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("save role: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id=$1`, role.ID); err != nil {
		return fmt.Errorf("clear role permissions: %w", err)
	}
	for _, perm := range role.Permissions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, key, scope, enabled) VALUES ($1, $2, $3, $4)
		`, role.ID, perm.Key, perm.Scope, perm.Enabled); err != nil {
			return fmt.Errorf("insert role permission %s: %w", perm.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save role: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteRole(ctx context.Context, companyID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE company_id=$1 AND id=$2`, companyID, roleID)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return requireAffected(res)
}

// ListUserPermissions returns every explicit grant or revocation the user has
// in the company, company-wide rows first.
func (s *PostgresStore) ListUserPermissions(ctx context.Context, userID, companyID string) ([]UserPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, company_id, project_id, key, enabled
		FROM user_permissions
		WHERE user_id=$1 AND company_id=$2
		ORDER BY project_id, key
	`, userID, companyID)
	if err != nil {
		return nil, fmt.Errorf("list user permissions: %w", err)
	}
	defer rows.Close()

	items := make([]UserPermission, 0)
	for rows.Next() {
		var item UserPermission
		if err := rows.Scan(&item.UserID, &item.CompanyID, &item.ProjectID, &item.Key, &item.Enabled); err != nil {
			return nil, fmt.Errorf("scan user permission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user permissions: %w", err)
	}
	return items, nil
}

// ReplaceUserPermissions swaps the user's rows for one (company, project)
// scope with grants. projectID is empty for company scope.
func (s *PostgresStore) ReplaceUserPermissions(ctx context.Context, userID, companyID, projectID string, grants []UserPermission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace user permissions: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM user_permissions WHERE user_id=$1 AND company_id=$2 AND project_id=$3
	`, userID, companyID, projectID); err != nil {
		return fmt.Errorf("clear user permissions: %w", err)
	}
	for _, grant := range grants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_permissions (user_id, company_id, project_id, key, enabled)
			VALUES ($1, $2, $3, $4, $5)
		`, userID, companyID, projectID, grant.Key, grant.Enabled); err != nil {
			return fmt.Errorf("insert user permission %s: %w", grant.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace user permissions: %w", err)
	}
	return nil
}
