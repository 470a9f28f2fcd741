package goIdentity

import (
	"context"
	"errors"

	"github.com/MrEthical07/goIdentity/permission"
)

// GetPermissions returns the roles and permission codes of userID, served
// from cache when present. A user with no roles gets empty slices.
func (e *Engine) GetPermissions(ctx context.Context, userID string) (*Permissions, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, &ValidationError{Problems: []string{"user id is required"}}
	}
	set, err := e.permissions.Get(ctx, userID)
	if err != nil {
		return nil, permissionErr(err)
	}
	return set, nil
}

// HasPermission reports whether userID holds the permission code.
func (e *Engine) HasPermission(ctx context.Context, userID, code string) (bool, error) {
	set, err := e.GetPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(code), nil
}

// The mutations below return whether anything changed. A change invalidates
// the affected cache entries before the call returns; a no-op invalidates
// nothing.

// AssignRole grants roleID to userID and evicts that user's cached set.
func (e *Engine) AssignRole(ctx context.Context, userID, roleID string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	changed, err := e.admin.AssignRole(ctx, userID, roleID)
	return changed, permissionErr(err)
}

// RevokeRole removes roleID from userID and evicts that user's cached set.
func (e *Engine) RevokeRole(ctx context.Context, userID, roleID string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	changed, err := e.admin.RevokeRole(ctx, userID, roleID)
	return changed, permissionErr(err)
}

// ReplaceRoles sets userID's roles to exactly roleIDs.
func (e *Engine) ReplaceRoles(ctx context.Context, userID string, roleIDs []string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	changed, err := e.admin.ReplaceRoles(ctx, userID, roleIDs)
	return changed, permissionErr(err)
}

// AssignPermissionToRole grants permissionID to roleID. Every cached set is
// evicted since role membership is not tracked in the cache.
func (e *Engine) AssignPermissionToRole(ctx context.Context, roleID, permissionID string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	changed, err := e.admin.AssignPermissionToRole(ctx, roleID, permissionID)
	return changed, permissionErr(err)
}

func (e *Engine) BulkAssignPermissions(ctx context.Context, roleID string, permissionIDs []string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	changed, err := e.admin.BulkAssignPermissions(ctx, roleID, permissionIDs)
	return changed, permissionErr(err)
}

func (e *Engine) RevokePermissionFromRole(ctx context.Context, roleID, permissionID string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	changed, err := e.admin.RevokePermissionFromRole(ctx, roleID, permissionID)
	return changed, permissionErr(err)
}

// ReplaceRolePermissions sets roleID's permissions to exactly permissionIDs.
func (e *Engine) ReplaceRolePermissions(ctx context.Context, roleID string, permissionIDs []string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	changed, err := e.admin.ReplaceRolePermissions(ctx, roleID, permissionIDs)
	return changed, permissionErr(err)
}

// RefreshAllPermissions evicts every cached set.
func (e *Engine) RefreshAllPermissions(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return permissionErr(e.admin.RefreshAll(ctx))
}

func (e *Engine) recordPermissionLookup(hit bool) {
	if hit {
		e.metricInc(MetricPermissionCacheHit)
		return
	}
	e.metricInc(MetricPermissionCacheMiss)
}

func permissionErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, permission.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, permission.ErrInvalidation):
		return cacheErr(err)
	default:
		return storeErr(err)
	}
}
