package rbac

import "sort"

type Scope string

const (
	ScopeCompany Scope = "company"
	ScopeProject Scope = "project"
)

// Permission is a fine-grained capability toggled per user.
type Permission struct {
	Key         string `json:"key"`
	Scope       Scope  `json:"scope"`
	Description string `json:"description"`
}

var catalog = []Permission{
	{Key: "projects.view", Scope: ScopeCompany, Description: "View company projects"},
	{Key: "projects.manage", Scope: ScopeCompany, Description: "Create and archive projects"},
	{Key: "users.manage", Scope: ScopeCompany, Description: "Manage users and permissions"},
	{Key: "vendors.manage", Scope: ScopeCompany, Description: "Maintain the vendor directory"},
	{Key: "finance.view", Scope: ScopeCompany, Description: "View committed and forecast costs"},
	{Key: "tasks.view", Scope: ScopeProject, Description: "View the schedule"},
	{Key: "tasks.edit", Scope: ScopeProject, Description: "Edit and reschedule tasks"},
	{Key: "files.view", Scope: ScopeProject, Description: "View project files"},
	{Key: "files.upload", Scope: ScopeProject, Description: "Upload project files"},
	{Key: "procurement.view", Scope: ScopeProject, Description: "View RFQs, quotes and commitments"},
	{Key: "procurement.edit", Scope: ScopeProject, Description: "Create and issue RFQs and commitments"},
	{Key: "procurement.approve", Scope: ScopeProject, Description: "Approve quotes and commitments"},
	{Key: "time.track", Scope: ScopeProject, Description: "Track time against the project"},
	{Key: "contracts.manage", Scope: ScopeProject, Description: "Upload and manage contracts"},
}

// Catalog returns every known permission, sorted by key.
func Catalog() []Permission {
	out := make([]Permission, len(catalog))
	copy(out, catalog)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Lookup finds a permission by key.
func Lookup(key string) (Permission, bool) {
	for _, p := range catalog {
		if p.Key == key {
			return p, true
		}
	}
	return Permission{}, false
}

// Defaults is the permission set a role receives before any per-user
// overrides are stored.
func Defaults(role Role) []string {
	var keys []string
	for _, p := range catalog {
		if defaultFor(role, p.Key) {
			keys = append(keys, p.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

func defaultFor(role Role, key string) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return key != "users.manage"
	case RoleMember:
		switch key {
		case "projects.view", "tasks.view", "tasks.edit", "files.view", "files.upload",
			"procurement.view", "time.track":
			return true
		}
		return false
	case RoleViewer:
		switch key {
		case "projects.view", "tasks.view", "files.view", "procurement.view":
			return true
		}
		return false
	default:
		return false
	}
}
