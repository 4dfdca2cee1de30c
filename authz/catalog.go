package authz

import (
	"errors"
	"slices"
	"sync"
)

// Catalog maps permissions to the actions they grant and roles to the
// permissions they bundle. Register everything at startup, then Freeze.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	actions map[string][]string
	roles   map[string][]string
	order   []string
	frozen  bool
}

// NewCatalog returns an empty, unfrozen catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		actions: make(map[string][]string),
		roles:   make(map[string][]string),
	}
}

// RegisterPermission adds a permission and the actions it grants.
func (c *Catalog) RegisterPermission(name string, actions ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return errors.New("catalog frozen")
	}
	if !ValidPermission(name) {
		return ErrInvalidPermission
	}
	if _, exists := c.actions[name]; exists {
		return errors.New("permission already registered: " + name)
	}
	for _, a := range actions {
		if a == "" {
			return errors.New("action name empty")
		}
	}

	c.actions[name] = slices.Clone(actions)
	c.order = append(c.order, name)
	return nil
}

// RegisterRole bundles already registered permissions under a role name.
func (c *Catalog) RegisterRole(role string, permissions []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return errors.New("catalog frozen")
	}
	if role == "" {
		return errors.New("role name empty")
	}
	if _, exists := c.roles[role]; exists {
		return errors.New("role already registered: " + role)
	}
	for _, p := range permissions {
		if _, ok := c.actions[p]; !ok {
			return errors.New("permission not registered: " + p)
		}
	}

	c.roles[role] = slices.Clone(permissions)
	return nil
}

// Freeze rejects further registration.
func (c *Catalog) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Known reports whether name is a registered permission.
func (c *Catalog) Known(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.actions[name]
	return ok
}

// Actions returns the actions granted by a permission.
func (c *Catalog) Actions(permission string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	actions, ok := c.actions[permission]
	return slices.Clone(actions), ok
}

// Role returns the permissions bundled under role.
func (c *Catalog) Role(role string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	perms, ok := c.roles[role]
	return slices.Clone(perms), ok
}

// Permissions lists registered permissions in registration order.
func (c *Catalog) Permissions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// CanPerform reports whether any of perms grants action.
func (c *Catalog) CanPerform(perms []string, action string) bool {
	if action == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range perms {
		if slices.Contains(c.actions[p], action) {
			return true
		}
	}
	return false
}

// Count returns the number of registered permissions.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.actions)
}

/*
====================================
DEFAULT CATALOG
====================================
*/

// Roles of the storefront the mesh protects.
const (
	RoleAdmin    = "admin"
	RoleSeller   = "seller"
	RoleCustomer = "customer"
)

var defaultCatalog = sync.OnceValue(func() *Catalog {
	c := NewCatalog()
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(c.RegisterPermission("manage_users", "create_user", "edit_user", "delete_user", "view_user"))
	must(c.RegisterPermission("manage_products", "add_product", "edit_product", "delete_product", "view_product"))
	must(c.RegisterPermission("view_orders", "list_orders", "view_order_details"))
	must(c.RegisterPermission("process_orders", "update_order_status", "ship_order", "cancel_order"))
	must(c.RegisterPermission("view_products", "list_products", "view_product_details"))
	must(c.RegisterPermission("place_orders", "create_order", "cancel_own_order"))

	must(c.RegisterRole(RoleAdmin, []string{"manage_users", "manage_products", "view_orders", "process_orders"}))
	must(c.RegisterRole(RoleSeller, []string{"manage_products", "view_orders"}))
	must(c.RegisterRole(RoleCustomer, []string{"view_products", "place_orders"}))

	c.Freeze()
	return c
})

// DefaultCatalog returns the frozen built-in catalog.
func DefaultCatalog() *Catalog {
	return defaultCatalog()
}

// RolePermissions returns the permissions of a built-in role.
func RolePermissions(role string) ([]string, bool) {
	return DefaultCatalog().Role(role)
}

// CanPerform checks action against the built-in catalog.
func CanPerform(perms []string, action string) bool {
	return DefaultCatalog().CanPerform(perms, action)
}
