package rbac

import (
	"context"
	goerrors "errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/realm-idm/pkg/errors"
	"github.com/tendant/realm-idm/pkg/iam"
)

// PostgresStore implements Store using a pgx connection pool. Association
// rows carry a denormalized realm_id copied from the role/permission row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-based permission store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// CreateRole creates a new role
func (s *PostgresStore) CreateRole(ctx context.Context, params CreateRoleParams) (Role, error) {
	var role Role
	err := s.pool.QueryRow(ctx,
		`INSERT INTO roles (id, realm_id, name) VALUES ($1, $2, $3)
		 RETURNING id, realm_id, name`,
		uuid.New(), params.RealmID, params.Name).
		Scan(&role.ID, &role.RealmID, &role.Name)
	return role, err
}

// CreatePermission creates a new permission
func (s *PostgresStore) CreatePermission(ctx context.Context, params CreatePermissionParams) (Permission, error) {
	var permission Permission
	err := s.pool.QueryRow(ctx,
		`INSERT INTO permissions (id, realm_id, name, target) VALUES ($1, $2, $3, $4)
		 RETURNING id, realm_id, name, target`,
		uuid.New(), params.RealmID, params.Name, params.Target).
		Scan(&permission.ID, &permission.RealmID, &permission.Name, &permission.Target)
	return permission, err
}

// FindPermission finds a permission by id
func (s *PostgresStore) FindPermission(ctx context.Context, id uuid.UUID) (Permission, error) {
	var permission Permission
	err := s.pool.QueryRow(ctx,
		`SELECT id, realm_id, name, target FROM permissions WHERE id = $1`, id).
		Scan(&permission.ID, &permission.RealmID, &permission.Name, &permission.Target)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return Permission{}, errors.Newf(errors.ErrCodeNotFound, "permission %s not found", id)
		}
		return Permission{}, err
	}
	return permission, nil
}

// FindRole finds a role by id
func (s *PostgresStore) FindRole(ctx context.Context, id uuid.UUID) (Role, error) {
	var role Role
	err := s.pool.QueryRow(ctx,
		`SELECT id, realm_id, name FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.RealmID, &role.Name)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return Role{}, errors.Newf(errors.ErrCodeNotFound, "role %s not found", id)
		}
		return Role{}, err
	}
	return role, nil
}

// AddUserRole assigns a role to a user
func (s *PostgresStore) AddUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id, realm_id)
		 SELECT $1, r.id, r.realm_id FROM roles r WHERE r.id = $2
		 ON CONFLICT DO NOTHING`,
		userID, roleID)
	return err
}

// AddUserPermission assigns a permission directly to a user
func (s *PostgresStore) AddUserPermission(ctx context.Context, userID, permissionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_permissions (user_id, permission_id, realm_id)
		 SELECT $1, p.id, p.realm_id FROM permissions p WHERE p.id = $2
		 ON CONFLICT DO NOTHING`,
		userID, permissionID)
	return err
}

// AddRolePermission assigns a permission to a role
func (s *PostgresStore) AddRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id, realm_id)
		 SELECT $1, p.id, p.realm_id FROM permissions p WHERE p.id = $2
		 ON CONFLICT DO NOTHING`,
		roleID, permissionID)
	return err
}

// AddRobotPermission assigns a permission directly to a robot
func (s *PostgresStore) AddRobotPermission(ctx context.Context, robotID, permissionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO robot_permissions (robot_id, permission_id, realm_id)
		 SELECT $1, p.id, p.realm_id FROM permissions p WHERE p.id = $2
		 ON CONFLICT DO NOTHING`,
		robotID, permissionID)
	return err
}

// FindPermissionsForPrincipal returns direct plus role-derived permissions,
// duplicates collapsed
func (s *PostgresStore) FindPermissionsForPrincipal(ctx context.Context, principalID uuid.UUID, kind iam.SubjectKind) ([]Permission, error) {
	var query string
	if kind == iam.SubjectKindRobot {
		query = `SELECT DISTINCT p.id, p.realm_id, p.name, p.target
			 FROM permissions p
			 JOIN robot_permissions rp ON rp.permission_id = p.id
			 WHERE rp.robot_id = $1`
	} else {
		query = `SELECT DISTINCT p.id, p.realm_id, p.name, p.target
			 FROM permissions p
			 LEFT JOIN user_permissions up ON up.permission_id = p.id
			 LEFT JOIN role_permissions rp ON rp.permission_id = p.id
			 LEFT JOIN user_roles ur ON ur.role_id = rp.role_id
			 WHERE up.user_id = $1 OR ur.user_id = $1`
	}

	rows, err := s.pool.Query(ctx, query, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Permission
	for rows.Next() {
		var permission Permission
		if err := rows.Scan(&permission.ID, &permission.RealmID, &permission.Name, &permission.Target); err != nil {
			return nil, err
		}
		out = append(out, permission)
	}
	return out, rows.Err()
}

// ReplaceUserRoles replaces the user's direct role associations
func (s *PostgresStore) ReplaceUserRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error {
	return s.replaceAssociations(ctx, userID, roleIDs,
		`DELETE FROM user_roles WHERE user_id = $1`,
		`INSERT INTO user_roles (user_id, role_id, realm_id)
		 SELECT $1, r.id, r.realm_id FROM roles r WHERE r.id = $2
		 ON CONFLICT DO NOTHING`)
}

// ReplaceUserPermissions replaces the user's direct permission associations
func (s *PostgresStore) ReplaceUserPermissions(ctx context.Context, userID uuid.UUID, permissionIDs []uuid.UUID) error {
	return s.replaceAssociations(ctx, userID, permissionIDs,
		`DELETE FROM user_permissions WHERE user_id = $1`,
		`INSERT INTO user_permissions (user_id, permission_id, realm_id)
		 SELECT $1, p.id, p.realm_id FROM permissions p WHERE p.id = $2
		 ON CONFLICT DO NOTHING`)
}

// replaceAssociations runs a delete-then-insert sync as one transaction so a
// reader never observes the half-cleared state.
func (s *PostgresStore) replaceAssociations(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, deleteSQL, insertSQL string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deleteSQL, userID); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.Exec(ctx, insertSQL, userID, id); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// FindUserRoleIDs returns the user's direct role ids
func (s *PostgresStore) FindUserRoleIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.queryIDs(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1`, userID)
}

// FindUserPermissionIDs returns the user's direct permission ids
func (s *PostgresStore) FindUserPermissionIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.queryIDs(ctx, `SELECT permission_id FROM user_permissions WHERE user_id = $1`, userID)
}

func (s *PostgresStore) queryIDs(ctx context.Context, query string, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
