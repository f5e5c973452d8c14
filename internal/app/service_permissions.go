package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"buildtrack/api/internal/rbac"
	"buildtrack/api/internal/realtime"
	"buildtrack/api/internal/store"
	"buildtrack/api/internal/util"
)

const permissionManageUsers = "users.manage"

type RoleInput struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Permissions []store.RolePermission `json:"permissions"`
}

type PermissionQuery struct {
	UserID    string `json:"userId"`
	CompanyID string `json:"companyId"`
	ProjectID string `json:"projectId"`
}

type SetPermissionsInput struct {
	UserID      string   `json:"userId"`
	CompanyID   string   `json:"companyId"`
	ProjectID   string   `json:"projectId"`
	Permissions []string `json:"permissions"`
}

type UserPermissions struct {
	UserID      string   `json:"userId"`
	CompanyID   string   `json:"companyId"`
	ProjectID   string   `json:"projectId,omitempty"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func (s *Service) PermissionCatalog(session Session) ([]rbac.Permission, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	return rbac.Catalog(), nil
}

func (s *Service) ListRoles(ctx context.Context, session Session) ([]store.Role, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if session.CompanyID == "" {
		return []store.Role{}, nil
	}
	return s.store.ListRoles(ctx, session.CompanyID)
}

func normalizeRoleInput(input RoleInput) (RoleInput, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	if input.Name == "" {
		return input, validationError("name is required")
	}
	seen := make(map[string]struct{}, len(input.Permissions))
	perms := make([]store.RolePermission, 0, len(input.Permissions))
	for _, perm := range input.Permissions {
		perm.Key = strings.TrimSpace(perm.Key)
		known, ok := rbac.Lookup(perm.Key)
		if !ok {
			return input, validationError("unknown permission " + perm.Key)
		}
		if perm.Scope == "" {
			perm.Scope = string(known.Scope)
		}
		if perm.Scope != string(rbac.ScopeCompany) && perm.Scope != string(rbac.ScopeProject) {
			return input, validationError("scope must be company or project")
		}
		id := perm.Key + "/" + perm.Scope
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		perms = append(perms, perm)
	}
	input.Permissions = perms
	return input, nil
}

// SaveRole creates a role when roleID is empty and replaces it otherwise.
func (s *Service) SaveRole(ctx context.Context, session Session, roleID string, input RoleInput) (store.Role, error) {
	if err := s.authorize(session, rbac.ActionAdmin); err != nil {
		return store.Role{}, err
	}
	if err := s.requireCompany(session); err != nil {
		return store.Role{}, err
	}
	input, err := normalizeRoleInput(input)
	if err != nil {
		return store.Role{}, err
	}

	kind := realtime.Update
	if roleID == "" {
		roleID = util.NewID("rol")
		kind = realtime.Insert
	} else {
		roles, err := s.store.ListRoles(ctx, session.CompanyID)
		if err != nil {
			return store.Role{}, err
		}
		found := false
		for _, r := range roles {
			found = found || r.ID == roleID
		}
		if !found {
			return store.Role{}, notFound("Role not found")
		}
	}

	role := store.Role{
		ID:          roleID,
		CompanyID:   session.CompanyID,
		Name:        input.Name,
		Description: input.Description,
		Permissions: input.Permissions,
	}
	if err := s.store.SaveRole(ctx, role); err != nil {
		return store.Role{}, err
	}
	s.publish(ctx, "roles", kind, session, "", role)
	return role, nil
}

func (s *Service) DeleteRole(ctx context.Context, session Session, roleID string) error {
	if err := s.authorize(session, rbac.ActionAdmin); err != nil {
		return err
	}
	if err := s.store.DeleteRole(ctx, session.CompanyID, roleID); err != nil {
		return err
	}
	s.publish(ctx, "roles", realtime.Delete, session, "", map[string]string{"id": roleID})
	return nil
}

// effectivePermissions starts from the role defaults and applies the user's
// company-wide overrides, then the overrides for projectID when given.
func (s *Service) effectivePermissions(ctx context.Context, user store.User, projectID string) ([]string, error) {
	enabled := map[string]bool{}
	for _, key := range rbac.Defaults(rbac.Normalize(user.Role)) {
		enabled[key] = true
	}
	if user.CompanyID == "" {
		return sortedKeys(enabled), nil
	}
	overrides, err := s.store.ListUserPermissions(ctx, user.ID, user.CompanyID)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if o.ProjectID == "" {
			enabled[o.Key] = o.Enabled
		}
	}
	if projectID != "" {
		for _, o := range overrides {
			if o.ProjectID == projectID {
				enabled[o.Key] = o.Enabled
			}
		}
	}
	return sortedKeys(enabled), nil
}

func sortedKeys(enabled map[string]bool) []string {
	keys := make([]string, 0, len(enabled))
	for key, on := range enabled {
		if on {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func hasPermission(keys []string, key string) bool {
	i := sort.SearchStrings(keys, key)
	return i < len(keys) && keys[i] == key
}

// companyUser loads a user of the caller's company. companyID must be the
// caller's own company.
func (s *Service) companyUser(ctx context.Context, session Session, companyID, userID string) (store.User, error) {
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		companyID = session.CompanyID
	}
	if session.CompanyID == "" || companyID != session.CompanyID {
		return store.User{}, forbidden()
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = session.UserID
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && user.CompanyID != companyID) {
		return store.User{}, notFound("User not found")
	}
	return user, err
}

func (s *Service) callerCanManageUsers(ctx context.Context, session Session) (store.User, bool, error) {
	caller, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return store.User{}, false, err
	}
	keys, err := s.effectivePermissions(ctx, caller, "")
	if err != nil {
		return store.User{}, false, err
	}
	return caller, hasPermission(keys, permissionManageUsers), nil
}

func (s *Service) projectScope(ctx context.Context, session Session, projectID string) (string, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return "", nil
	}
	if _, err := s.projectFor(ctx, session, projectID); err != nil {
		return "", err
	}
	return projectID, nil
}

// GetUserPermissionsForCompany returns the effective permission keys. Users
// may read their own; reading someone else's needs users.manage.
func (s *Service) GetUserPermissionsForCompany(ctx context.Context, session Session, q PermissionQuery) (UserPermissions, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return UserPermissions{}, err
	}
	user, err := s.companyUser(ctx, session, q.CompanyID, q.UserID)
	if err != nil {
		return UserPermissions{}, err
	}
	if user.ID != session.UserID {
		_, ok, err := s.callerCanManageUsers(ctx, session)
		if err != nil {
			return UserPermissions{}, err
		}
		if !ok {
			return UserPermissions{}, forbidden()
		}
	}
	projectID, err := s.projectScope(ctx, session, q.ProjectID)
	if err != nil {
		return UserPermissions{}, err
	}
	keys, err := s.effectivePermissions(ctx, user, projectID)
	if err != nil {
		return UserPermissions{}, err
	}
	return UserPermissions{
		UserID:      user.ID,
		CompanyID:   user.CompanyID,
		ProjectID:   projectID,
		Role:        user.Role,
		Permissions: keys,
	}, nil
}

// SetUserPermissions replaces the enabled set for one scope. Every catalog
// key valid in that scope is stored explicitly, so revocations survive later
// changes to role defaults.
func (s *Service) SetUserPermissions(ctx context.Context, session Session, input SetPermissionsInput) (UserPermissions, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return UserPermissions{}, err
	}
	target, err := s.companyUser(ctx, session, input.CompanyID, input.UserID)
	if err != nil {
		return UserPermissions{}, err
	}
	caller, ok, err := s.callerCanManageUsers(ctx, session)
	if err != nil {
		return UserPermissions{}, err
	}
	if !ok || !canManage(caller, target) {
		return UserPermissions{}, forbidden()
	}
	projectID, err := s.projectScope(ctx, session, input.ProjectID)
	if err != nil {
		return UserPermissions{}, err
	}

	wanted := make(map[string]bool, len(input.Permissions))
	for _, key := range input.Permissions {
		key = strings.TrimSpace(key)
		perm, known := rbac.Lookup(key)
		if !known {
			return UserPermissions{}, validationError("unknown permission " + key)
		}
		if projectID != "" && perm.Scope != rbac.ScopeProject {
			return UserPermissions{}, validationError(key + " cannot be granted per project")
		}
		wanted[key] = true
	}

	grants := make([]store.UserPermission, 0)
	for _, perm := range rbac.Catalog() {
		if projectID != "" && perm.Scope != rbac.ScopeProject {
			continue
		}
		grants = append(grants, store.UserPermission{
			UserID:    target.ID,
			CompanyID: target.CompanyID,
			ProjectID: projectID,
			Key:       perm.Key,
			Enabled:   wanted[perm.Key],
		})
	}
	if err := s.store.ReplaceUserPermissions(ctx, target.ID, target.CompanyID, projectID, grants); err != nil {
		return UserPermissions{}, err
	}
	s.publish(ctx, "user_permissions", realtime.Update, session, projectID, map[string]any{
		"userId":    target.ID,
		"projectId": projectID,
	})

	keys, err := s.effectivePermissions(ctx, target, projectID)
	if err != nil {
		return UserPermissions{}, err
	}
	return UserPermissions{
		UserID:      target.ID,
		CompanyID:   target.CompanyID,
		ProjectID:   projectID,
		Role:        target.Role,
		Permissions: keys,
	}, nil
}

func canManage(caller, target store.User) bool {
	if caller.ID == target.ID || caller.CompanyID != target.CompanyID {
		return false
	}
	return rbac.Rank(rbac.Normalize(target.Role)) < rbac.Rank(rbac.Normalize(caller.Role))
}

// GetManageableUsersForUser lists company users ranked below the caller. A
// caller without users.manage gets an empty list.
func (s *Service) GetManageableUsersForUser(ctx context.Context, session Session, q PermissionQuery) ([]store.ManageableUser, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if q.UserID != "" && q.UserID != session.UserID {
		return nil, forbidden()
	}
	if _, err := s.companyUser(ctx, session, q.CompanyID, session.UserID); err != nil {
		return nil, err
	}
	caller, ok, err := s.callerCanManageUsers(ctx, session)
	if err != nil {
		return nil, err
	}
	out := make([]store.ManageableUser, 0)
	if !ok {
		return out, nil
	}
	users, err := s.store.ListCompanyUsers(ctx, caller.CompanyID)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if canManage(caller, u) {
			out = append(out, store.ManageableUser{ID: u.ID, DisplayName: u.DisplayName, Email: u.Email, Role: u.Role})
		}
	}
	return out, nil
}

func (s *Service) ListUsers(ctx context.Context, session Session) ([]store.User, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if session.CompanyID == "" {
		return []store.User{}, nil
	}
	return s.store.ListCompanyUsers(ctx, session.CompanyID)
}

// UpdateUserRole changes a colleague's workspace role. Admins cannot change
// their own role so a company always keeps its admin.
func (s *Service) UpdateUserRole(ctx context.Context, session Session, userID, role string) (store.User, error) {
	if err := s.authorize(session, rbac.ActionAdmin); err != nil {
		return store.User{}, err
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if rbac.Normalize(role) != rbac.Role(role) {
		return store.User{}, validationError("role must be viewer, member, manager or admin")
	}
	target, err := s.companyUser(ctx, session, session.CompanyID, userID)
	if err != nil {
		return store.User{}, err
	}
	if target.ID == session.UserID {
		return store.User{}, validationError("you cannot change your own role")
	}
	if err := s.store.UpdateUserRole(ctx, target.ID, role); err != nil {
		return store.User{}, err
	}
	target.Role = role
	s.publish(ctx, "users", realtime.Update, session, "", target)
	return target, nil
}
