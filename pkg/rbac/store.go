package rbac

import (
	"context"

	"github.com/google/uuid"

	"github.com/tendant/realm-idm/pkg/iam"
)

// Store is the repository abstraction over roles, permissions and their
// associations with principals. Association rows additionally carry the
// realm id of the role/permission for fast realm scoping.
type Store interface {
	// Role and permission management
	CreateRole(ctx context.Context, params CreateRoleParams) (Role, error)
	CreatePermission(ctx context.Context, params CreatePermissionParams) (Permission, error)
	FindPermission(ctx context.Context, id uuid.UUID) (Permission, error)
	FindRole(ctx context.Context, id uuid.UUID) (Role, error)

	// Association management
	AddUserRole(ctx context.Context, userID, roleID uuid.UUID) error
	AddUserPermission(ctx context.Context, userID, permissionID uuid.UUID) error
	AddRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error
	AddRobotPermission(ctx context.Context, robotID, permissionID uuid.UUID) error

	// FindPermissionsForPrincipal returns the merged set of direct and
	// role-derived permissions for a principal, duplicates collapsed.
	FindPermissionsForPrincipal(ctx context.Context, principalID uuid.UUID, kind iam.SubjectKind) ([]Permission, error)

	// Role/permission synchronization (full replace of the user's direct
	// associations; ids not in the given set are revoked).
	ReplaceUserRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error
	ReplaceUserPermissions(ctx context.Context, userID uuid.UUID, permissionIDs []uuid.UUID) error

	FindUserRoleIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	FindUserPermissionIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}
