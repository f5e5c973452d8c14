package app

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"buildtrack/api/internal/store"
)

func TestRoleAdministration(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	events := &recordedEvents{}
	svc := newTestService(fs, Deps{Events: events})
	server := NewHTTPServer(svc, "*", nil)
	admin := tokenFor(t, svc, fx.admin)

	rr, _ := doJSON(t, server, http.MethodPost, "/api/roles", tokenFor(t, svc, fx.manager), map[string]any{"name": "Estimator"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected manager 403, got %d", rr.Code)
	}

	rr, payload := doJSON(t, server, http.MethodPost, "/api/roles", admin, map[string]any{
		"name":        "Estimator",
		"permissions": []map[string]any{{"key": "procurement.nope"}},
	})
	if rr.Code != http.StatusUnprocessableEntity || payload["error"] != "unknown permission procurement.nope" {
		t.Fatalf("expected unknown key rejected, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr, payload = doJSON(t, server, http.MethodPost, "/api/roles", admin, map[string]any{
		"name":        "Estimator",
		"permissions": []map[string]any{{"key": "procurement.view", "scope": "global"}},
	})
	if rr.Code != http.StatusUnprocessableEntity || payload["error"] != "scope must be company or project" {
		t.Fatalf("expected bad scope rejected, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, created := doJSON(t, server, http.MethodPost, "/api/roles", admin, map[string]any{
		"name": " Estimator ",
		"permissions": []map[string]any{
			{"key": "procurement.view", "enabled": true},
			{"key": "procurement.view", "enabled": true},
			{"key": "finance.view", "scope": "company", "enabled": true},
		},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if created["name"] != "Estimator" || created["companyId"] != fx.companyID {
		t.Fatalf("unexpected role %v", created)
	}
	perms := created["permissions"].([]any)
	if len(perms) != 2 {
		t.Fatalf("expected duplicate key collapsed, got %v", perms)
	}
	if first := perms[0].(map[string]any); first["scope"] != "project" {
		t.Fatalf("expected catalog scope filled in, got %v", first)
	}
	roleID := created["id"].(string)

	rr, updated := doJSON(t, server, http.MethodPut, "/api/roles/"+roleID, admin, map[string]any{"name": "Senior estimator"})
	if rr.Code != http.StatusOK || updated["name"] != "Senior estimator" {
		t.Fatalf("expected rename, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr, _ = doJSON(t, server, http.MethodPut, "/api/roles/rol-missing", admin, map[string]any{"name": "Ghost"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected unknown role 404, got %d", rr.Code)
	}

	rr, listed := doJSON(t, server, http.MethodGet, "/api/roles", tokenFor(t, svc, fx.viewer), nil)
	if rr.Code != http.StatusOK || len(listed["roles"].([]any)) != 1 {
		t.Fatalf("expected one role, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, _ = doJSON(t, server, http.MethodDelete, "/api/roles/"+roleID, admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected delete 200, got %d", rr.Code)
	}
	if len(fs.roles) != 0 {
		t.Fatalf("expected role removed, got %d", len(fs.roles))
	}
	if got := strings.Join(events.tables(), ","); got != "roles:INSERT,roles:UPDATE,roles:DELETE" {
		t.Fatalf("unexpected events %s", got)
	}
}

func TestPermissionCatalog(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	svc := newTestService(fs, Deps{})
	server := NewHTTPServer(svc, "*", nil)

	rr, payload := doJSON(t, server, http.MethodGet, "/api/permissions", tokenFor(t, svc, fx.viewer), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	found := false
	for _, item := range payload["permissions"].([]any) {
		perm := item.(map[string]any)
		if perm["key"] == "users.manage" {
			found = perm["scope"] == "company"
		}
	}
	if !found {
		t.Fatalf("expected users.manage in company scope, got %v", payload["permissions"])
	}
}

func TestUserRoleUpdates(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	other := seedCompany(fs, "globex")
	svc := newTestService(fs, Deps{})
	server := NewHTTPServer(svc, "*", nil)
	admin := tokenFor(t, svc, fx.admin)

	rr, listed := doJSON(t, server, http.MethodGet, "/api/users", tokenFor(t, svc, fx.member), nil)
	if rr.Code != http.StatusOK || len(listed["users"].([]any)) != 4 {
		t.Fatalf("expected four company users, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, payload := doJSON(t, server, http.MethodPut, "/api/users/"+fx.admin.ID+"/role", admin, map[string]any{"role": "member"})
	if rr.Code != http.StatusUnprocessableEntity || payload["error"] != "you cannot change your own role" {
		t.Fatalf("expected self change rejected, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr, _ = doJSON(t, server, http.MethodPut, "/api/users/"+fx.member.ID+"/role", admin, map[string]any{"role": "owner"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected unknown role rejected, got %d", rr.Code)
	}
	rr, _ = doJSON(t, server, http.MethodPut, "/api/users/"+other.member.ID+"/role", admin, map[string]any{"role": "viewer"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected other company user 404, got %d", rr.Code)
	}
	rr, _ = doJSON(t, server, http.MethodPut, "/api/users/"+fx.member.ID+"/role", tokenFor(t, svc, fx.manager), map[string]any{"role": "viewer"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected manager 403, got %d", rr.Code)
	}

	rr, updated := doJSON(t, server, http.MethodPut, "/api/users/"+fx.member.ID+"/role", admin, map[string]any{"role": "Manager"})
	if rr.Code != http.StatusOK || updated["role"] != "manager" {
		t.Fatalf("expected promotion, got %d body=%s", rr.Code, rr.Body.String())
	}
	if fs.users[fx.member.ID].Role != "manager" {
		t.Fatalf("expected stored role manager, got %s", fs.users[fx.member.ID].Role)
	}
}

func manageableIDs(t *testing.T, body []byte) []string {
	t.Helper()
	var users []store.ManageableUser
	if err := json.Unmarshal(body, &users); err != nil {
		t.Fatalf("expected a bare array, got %s: %v", body, err)
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

func permissionList(payload map[string]any) string {
	keys := []string{}
	for _, key := range payload["permissions"].([]any) {
		keys = append(keys, key.(string))
	}
	return strings.Join(keys, ",")
}

func TestPermissionProcedures(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	svc := newTestService(fs, Deps{})
	server := NewHTTPServer(svc, "*", nil)
	admin := tokenFor(t, svc, fx.admin)
	manager := tokenFor(t, svc, fx.manager)
	member := tokenFor(t, svc, fx.member)

	rr, payload := doJSON(t, server, http.MethodPost, "/api/rpc/get_user_permissions_for_company", member, map[string]any{})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected own permissions readable, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := permissionList(payload); got != "files.upload,files.view,procurement.view,projects.view,tasks.edit,tasks.view,time.track" {
		t.Fatalf("unexpected member defaults %s", got)
	}
	rr, _ = doJSON(t, server, http.MethodPost, "/api/rpc/get_user_permissions_for_company", member, map[string]any{"userId": fx.viewer.ID})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected reading others without users.manage 403, got %d", rr.Code)
	}
	rr, _ = doJSON(t, server, http.MethodPost, "/api/rpc/get_user_permissions_for_company", member, map[string]any{"companyId": "globex"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected foreign company 403, got %d", rr.Code)
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/rpc/get_manageable_users_for_user", manager, map[string]any{})
	if rr.Code != http.StatusOK || len(manageableIDs(t, rr.Body.Bytes())) != 0 {
		t.Fatalf("expected manager without users.manage to get none, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr, _ = doJSON(t, server, http.MethodPost, "/api/rpc/get_manageable_users_for_user", admin, map[string]any{})
	if got := strings.Join(manageableIDs(t, rr.Body.Bytes()), ","); got != "acme-manager,acme-member,acme-viewer" {
		t.Fatalf("unexpected manageable users %s", got)
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/rpc/set_user_permissions", member, map[string]any{
		"userId":      fx.viewer.ID,
		"permissions": []string{"tasks.edit"},
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected member set 403, got %d", rr.Code)
	}
	rr, payload = doJSON(t, server, http.MethodPost, "/api/rpc/set_user_permissions", admin, map[string]any{
		"userId":      fx.manager.ID,
		"permissions": []string{"users.fly"},
	})
	if rr.Code != http.StatusUnprocessableEntity || payload["error"] != "unknown permission users.fly" {
		t.Fatalf("expected unknown key rejected, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr, _ = doJSON(t, server, http.MethodPost, "/api/rpc/set_user_permissions", admin, map[string]any{
		"userId":      fx.admin.ID,
		"permissions": []string{"projects.view"},
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected editing yourself 403, got %d", rr.Code)
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/rpc/set_user_permissions", admin, map[string]any{
		"userId":      fx.manager.ID,
		"permissions": []string{"users.manage", "projects.view"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := permissionList(payload); got != "projects.view,users.manage" {
		t.Fatalf("expected explicit set to replace defaults, got %s", got)
	}
	rr, _ = doJSON(t, server, http.MethodPost, "/api/rpc/get_manageable_users_for_user", manager, map[string]any{})
	if got := strings.Join(manageableIDs(t, rr.Body.Bytes()), ","); got != "acme-member,acme-viewer" {
		t.Fatalf("expected lower-ranked users only, got %s", got)
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/rpc/set_user_permissions", admin, map[string]any{
		"userId":      fx.member.ID,
		"projectId":   fx.projectID,
		"permissions": []string{"users.manage"},
	})
	if rr.Code != http.StatusUnprocessableEntity || payload["error"] != "users.manage cannot be granted per project" {
		t.Fatalf("expected company key rejected per project, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr, payload = doJSON(t, server, http.MethodPost, "/api/rpc/set_user_permissions", admin, map[string]any{
		"userId":      fx.member.ID,
		"projectId":   fx.projectID,
		"permissions": []string{"tasks.view"},
	})
	if rr.Code != http.StatusOK || payload["projectId"] != fx.projectID {
		t.Fatalf("expected project scoped set, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := permissionList(payload); got != "projects.view,tasks.view" {
		t.Fatalf("unexpected project permissions %s", got)
	}

	// Company-wide permissions are untouched by the project override.
	rr, payload = doJSON(t, server, http.MethodPost, "/api/rpc/get_user_permissions_for_company", admin, map[string]any{"userId": fx.member.ID})
	if rr.Code != http.StatusOK || !strings.Contains(permissionList(payload), "tasks.edit") {
		t.Fatalf("expected company scope to keep tasks.edit, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/rpc/drop_everything", admin, map[string]any{})
	if rr.Code != http.StatusNotFound || payload["error"] != "Unknown procedure" {
		t.Fatalf("expected unknown procedure 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}
