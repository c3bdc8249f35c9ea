package service

import (
	"fmt"
	"sort"
	"sync"
)

// Built-in roles seeded into every AccessControl instance.
var seedRoles = map[string][]string{
	"admin":   {"read", "write", "delete", "admin"},
	"trader":  {"read", "trade"},
	"analyst": {"read", "analyze"},
	"viewer":  {"read"},
}

// AccessControl maps roles to permission sets and resources to required
// permissions. Authorization is pure set containment: a user may touch a
// resource iff the union of their roles' permissions covers the resource's
// requirement set.
type AccessControl struct {
	mu        sync.RWMutex
	roles     map[string]map[string]struct{} // role -> permissions
	users     map[string]map[string]struct{} // userID -> roles
	resources map[string]map[string]struct{} // resource -> required permissions
}

func NewAccessControl() *AccessControl {
	ac := &AccessControl{
		roles:     make(map[string]map[string]struct{}),
		users:     make(map[string]map[string]struct{}),
		resources: make(map[string]map[string]struct{}),
	}
	for name, perms := range seedRoles {
		ac.DefineRole(name, perms)
	}
	return ac
}

// DefineRole creates or replaces a role.
func (a *AccessControl) DefineRole(name string, permissions []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.roles[name] = toSet(permissions)
}

func (a *AccessControl) AssignRole(userID, role string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.roles[role]; !ok {
		return fmt.Errorf("unknown role %q", role)
	}
	if a.users[userID] == nil {
		a.users[userID] = make(map[string]struct{})
	}
	a.users[userID][role] = struct{}{}
	return nil
}

func (a *AccessControl) RevokeRole(userID, role string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	assigned, ok := a.users[userID]
	if !ok {
		return fmt.Errorf("user %q has no roles", userID)
	}
	if _, ok := assigned[role]; !ok {
		return fmt.Errorf("role %q not assigned to user %q", role, userID)
	}
	delete(assigned, role)
	if len(assigned) == 0 {
		delete(a.users, userID)
	}
	return nil
}

// RemoveUser drops every role assignment for the user.
func (a *AccessControl) RemoveUser(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.users, userID)
}

// DefineResource registers or overwrites a resource's requirement set.
func (a *AccessControl) DefineResource(resource string, required []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resources[resource] = toSet(required)
}

// CheckPermission reports whether the user satisfies the resource's
// requirement set. Undefined resources and users without roles both deny.
func (a *AccessControl) CheckPermission(userID, resource string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	required, ok := a.resources[resource]
	if !ok {
		return false
	}
	return a.coversLocked(userID, required)
}

// Authorize reports whether the user holds every permission in required.
// An empty requirement set is vacuously satisfied.
func (a *AccessControl) Authorize(userID string, required []string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.coversLocked(userID, toSet(required))
}

func (a *AccessControl) coversLocked(userID string, required map[string]struct{}) bool {
	if len(required) == 0 {
		return true
	}
	granted := a.permissionsLocked(userID)
	for perm := range required {
		if _, ok := granted[perm]; !ok {
			return false
		}
	}
	return true
}

func (a *AccessControl) permissionsLocked(userID string) map[string]struct{} {
	granted := make(map[string]struct{})
	for role := range a.users[userID] {
		for perm := range a.roles[role] {
			granted[perm] = struct{}{}
		}
	}
	return granted
}

// AccessibleResources lists every defined resource the user may touch.
// Capability discovery, not on the request hot path.
func (a *AccessControl) AccessibleResources(userID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []string
	for resource, required := range a.resources {
		if a.coversLocked(userID, required) {
			out = append(out, resource)
		}
	}
	sort.Strings(out)
	return out
}

func (a *AccessControl) RolesOf(userID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := setToSlice(a.users[userID])
	sort.Strings(out)
	return out
}

// PermissionsOf returns the union of the user's role permissions.
func (a *AccessControl) PermissionsOf(userID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := setToSlice(a.permissionsLocked(userID))
	sort.Strings(out)
	return out
}

func (a *AccessControl) HasRole(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.roles[name]
	return ok
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out
}
