package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/store"
)

// ErrNotFound is returned when a referenced user, role or permission does
// not exist.
var ErrNotFound = errors.New("role or permission not found")

// Admin performs role and permission mutations. Every mutation that changed
// something publishes an event before returning, so subscribers (the cache)
// run inside the same logical operation. No-op mutations publish nothing.
type Admin struct {
	roles store.RoleStore
	bus   *Bus
}

func NewAdmin(roles store.RoleStore, bus *Bus) *Admin {
	return &Admin{roles: roles, bus: bus}
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (a *Admin) after(ctx context.Context, changed bool, err error, ev Event) (bool, error) {
	if err != nil {
		return false, mapErr(err)
	}
	if !changed {
		return false, nil
	}
	return true, a.bus.Publish(ctx, ev)
}

// AssignRole grants roleID to userID.
func (a *Admin) AssignRole(ctx context.Context, userID, roleID string) (bool, error) {
	changed, err := a.roles.AssignRole(ctx, userID, roleID)
	return a.after(ctx, changed, err, Event{Kind: UserRolesChanged, UserID: userID, RoleID: roleID, Op: "assign_role"})
}

// RevokeRole removes roleID from userID.
func (a *Admin) RevokeRole(ctx context.Context, userID, roleID string) (bool, error) {
	changed, err := a.roles.RevokeRole(ctx, userID, roleID)
	return a.after(ctx, changed, err, Event{Kind: UserRolesChanged, UserID: userID, RoleID: roleID, Op: "revoke_role"})
}

// ReplaceRoles sets userID's roles to exactly roleIDs.
func (a *Admin) ReplaceRoles(ctx context.Context, userID string, roleIDs []string) (bool, error) {
	changed, err := a.roles.ReplaceUserRoles(ctx, userID, roleIDs)
	return a.after(ctx, changed, err, Event{Kind: UserRolesChanged, UserID: userID, Op: "replace_roles"})
}

// AssignPermissionToRole grants one permission to roleID.
func (a *Admin) AssignPermissionToRole(ctx context.Context, roleID, permissionID string) (bool, error) {
	changed, err := a.roles.AssignPermissions(ctx, roleID, []string{permissionID})
	return a.after(ctx, changed, err, Event{Kind: RolePermissionsChanged, RoleID: roleID, Op: "assign_permission"})
}

// BulkAssignPermissions grants every permission in permissionIDs to roleID.
func (a *Admin) BulkAssignPermissions(ctx context.Context, roleID string, permissionIDs []string) (bool, error) {
	changed, err := a.roles.AssignPermissions(ctx, roleID, permissionIDs)
	return a.after(ctx, changed, err, Event{Kind: RolePermissionsChanged, RoleID: roleID, Op: "bulk_assign_permissions"})
}

// RevokePermissionFromRole removes one permission from roleID.
func (a *Admin) RevokePermissionFromRole(ctx context.Context, roleID, permissionID string) (bool, error) {
	changed, err := a.roles.RevokePermission(ctx, roleID, permissionID)
	return a.after(ctx, changed, err, Event{Kind: RolePermissionsChanged, RoleID: roleID, Op: "revoke_permission"})
}

// ReplaceRolePermissions sets roleID's permissions to exactly permissionIDs.
func (a *Admin) ReplaceRolePermissions(ctx context.Context, roleID string, permissionIDs []string) (bool, error) {
	changed, err := a.roles.ReplaceRolePermissions(ctx, roleID, permissionIDs)
	return a.after(ctx, changed, err, Event{Kind: RolePermissionsChanged, RoleID: roleID, Op: "replace_permissions"})
}

// RefreshAll drops every cached set.
func (a *Admin) RefreshAll(ctx context.Context) error {
	return a.bus.Publish(ctx, Event{Kind: RefreshAll, Op: "refresh_all"})
}
