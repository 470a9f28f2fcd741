package sqlstore

import (
	"context"
	"database/sql"

	"github.com/MrEthical07/goIdentity/store"
)

// CreateRole inserts a role.
func (s *Store) CreateRole(ctx context.Context, role store.Role) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO roles (id, code) VALUES (?, ?)`, role.ID, role.Code)
	return err
}

// CreatePermission inserts a permission.
func (s *Store) CreatePermission(ctx context.Context, perm store.Permission) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO permissions (id, code) VALUES (?, ?)`, perm.ID, perm.Code)
	return err
}

func (s *Store) FindRolesByUser(ctx context.Context, userID string) ([]store.Role, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT r.id, r.code FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = ? ORDER BY r.code`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Role
	for rows.Next() {
		var r store.Role
		if err := rows.Scan(&r.ID, &r.Code); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) FindPermissionsByRoles(ctx context.Context, roleIDs []string) ([]store.Permission, error) {
	roleIDs = store.Dedupe(roleIDs)
	if len(roleIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(roleIDs))
	for i, id := range roleIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT DISTINCT p.id, p.code FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id IN (`+placeholders(len(roleIDs))+`) ORDER BY p.code`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Permission
	for rows.Next() {
		var p store.Permission
		if err := rows.Scan(&p.ID, &p.Code); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) AssignRole(ctx context.Context, userID, roleID string) (bool, error) {
	if err := s.requireIDs(ctx, s.db, "roles", []string{roleID}); err != nil {
		return false, err
	}
	n, err := s.exec(ctx, s.db, `INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING`, userID, roleID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) RevokeRole(ctx context.Context, userID, roleID string) (bool, error) {
	n, err := s.exec(ctx, s.db, `DELETE FROM user_roles WHERE user_id = ? AND role_id = ?`, userID, roleID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ReplaceUserRoles(ctx context.Context, userID string, roleIDs []string) (bool, error) {
	return s.replaceLinks(ctx, "user_roles", "user_id", "role_id", "roles", userID, roleIDs)
}

func (s *Store) AssignPermissions(ctx context.Context, roleID string, permissionIDs []string) (bool, error) {
	changed := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireIDs(ctx, tx, "roles", []string{roleID}); err != nil {
			return err
		}
		ids := store.Dedupe(permissionIDs)
		if err := s.requireIDs(ctx, tx, "permissions", ids); err != nil {
			return err
		}
		for _, id := range ids {
			n, err := s.exec(ctx, tx, `INSERT INTO role_permissions (role_id, permission_id) VALUES (?, ?)
				ON CONFLICT DO NOTHING`, roleID, id)
			if err != nil {
				return err
			}
			if n > 0 {
				changed = true
			}
		}
		return nil
	})
	return changed, err
}

func (s *Store) RevokePermission(ctx context.Context, roleID, permissionID string) (bool, error) {
	n, err := s.exec(ctx, s.db, `DELETE FROM role_permissions WHERE role_id = ? AND permission_id = ?`, roleID, permissionID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID string, permissionIDs []string) (bool, error) {
	if err := s.requireIDs(ctx, s.db, "roles", []string{roleID}); err != nil {
		return false, err
	}
	return s.replaceLinks(ctx, "role_permissions", "role_id", "permission_id", "permissions", roleID, permissionIDs)
}

// replaceLinks swaps the member set of owner in a link table. Table and
// column names are package constants, never caller input.
func (s *Store) replaceLinks(ctx context.Context, table, ownerCol, memberCol, memberTable, owner string, members []string) (bool, error) {
	changed := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		ids := store.Dedupe(members)
		if err := s.requireIDs(ctx, tx, memberTable, ids); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, s.rebind(`SELECT `+memberCol+` FROM `+table+` WHERE `+ownerCol+` = ?`), owner)
		if err != nil {
			return err
		}
		var current []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			current = append(current, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if store.SetEqual(current, ids) {
			return nil
		}

		if _, err := s.exec(ctx, tx, `DELETE FROM `+table+` WHERE `+ownerCol+` = ?`, owner); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := s.exec(ctx, tx, `INSERT INTO `+table+` (`+ownerCol+`, `+memberCol+`) VALUES (?, ?)`, owner, id); err != nil {
				return err
			}
		}
		changed = true
		return nil
	})
	return changed, err
}

func (s *Store) requireIDs(ctx context.Context, q querier, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	var n int
	if err := q.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM `+table+` WHERE id IN (`+placeholders(len(ids))+`)`), args...).Scan(&n); err != nil {
		return err
	}
	if n != len(ids) {
		return store.ErrNotFound
	}
	return nil
}
