package rbac

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tendant/realm-idm/pkg/errors"
	"github.com/tendant/realm-idm/pkg/iam"
)

// InMemoryStore implements Store using in-memory storage
type InMemoryStore struct {
	mu          sync.RWMutex
	roles       map[uuid.UUID]Role
	permissions map[uuid.UUID]Permission
	userRoles   map[uuid.UUID][]uuid.UUID // userID -> roleIDs
	userPerms   map[uuid.UUID][]uuid.UUID // userID -> permissionIDs
	rolePerms   map[uuid.UUID][]uuid.UUID // roleID -> permissionIDs
	robotPerms  map[uuid.UUID][]uuid.UUID // robotID -> permissionIDs
}

// NewInMemoryStore creates a new in-memory permission store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		roles:       make(map[uuid.UUID]Role),
		permissions: make(map[uuid.UUID]Permission),
		userRoles:   make(map[uuid.UUID][]uuid.UUID),
		userPerms:   make(map[uuid.UUID][]uuid.UUID),
		rolePerms:   make(map[uuid.UUID][]uuid.UUID),
		robotPerms:  make(map[uuid.UUID][]uuid.UUID),
	}
}

// CreateRole creates a new role
func (s *InMemoryStore) CreateRole(ctx context.Context, params CreateRoleParams) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	role := Role{ID: uuid.New(), RealmID: params.RealmID, Name: params.Name}
	s.roles[role.ID] = role
	return role, nil
}

// CreatePermission creates a new permission
func (s *InMemoryStore) CreatePermission(ctx context.Context, params CreatePermissionParams) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	permission := Permission{
		ID:      uuid.New(),
		RealmID: params.RealmID,
		Name:    params.Name,
		Target:  params.Target,
	}
	s.permissions[permission.ID] = permission
	return permission, nil
}

// FindPermission finds a permission by id
func (s *InMemoryStore) FindPermission(ctx context.Context, id uuid.UUID) (Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	permission, ok := s.permissions[id]
	if !ok {
		return Permission{}, errors.Newf(errors.ErrCodeNotFound, "permission %s not found", id)
	}
	return permission, nil
}

// FindRole finds a role by id
func (s *InMemoryStore) FindRole(ctx context.Context, id uuid.UUID) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[id]
	if !ok {
		return Role{}, errors.Newf(errors.ErrCodeNotFound, "role %s not found", id)
	}
	return role, nil
}

// AddUserRole assigns a role to a user
func (s *InMemoryStore) AddUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userRoles[userID] = appendUnique(s.userRoles[userID], roleID)
	return nil
}

// AddUserPermission assigns a permission directly to a user
func (s *InMemoryStore) AddUserPermission(ctx context.Context, userID, permissionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userPerms[userID] = appendUnique(s.userPerms[userID], permissionID)
	return nil
}

// AddRolePermission assigns a permission to a role
func (s *InMemoryStore) AddRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rolePerms[roleID] = appendUnique(s.rolePerms[roleID], permissionID)
	return nil
}

// AddRobotPermission assigns a permission directly to a robot
func (s *InMemoryStore) AddRobotPermission(ctx context.Context, robotID, permissionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.robotPerms[robotID] = appendUnique(s.robotPerms[robotID], permissionID)
	return nil
}

// FindPermissionsForPrincipal returns direct plus role-derived permissions,
// duplicates collapsed
func (s *InMemoryStore) FindPermissionsForPrincipal(ctx context.Context, principalID uuid.UUID, kind iam.SubjectKind) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[uuid.UUID]bool)
	var out []Permission

	collect := func(ids []uuid.UUID) {
		for _, id := range ids {
			if seen[id] {
				continue
			}
			if permission, ok := s.permissions[id]; ok {
				seen[id] = true
				out = append(out, permission)
			}
		}
	}

	switch kind {
	case iam.SubjectKindRobot:
		collect(s.robotPerms[principalID])
	default:
		collect(s.userPerms[principalID])
		for _, roleID := range s.userRoles[principalID] {
			collect(s.rolePerms[roleID])
		}
	}

	return out, nil
}

// ReplaceUserRoles replaces the user's direct role associations
func (s *InMemoryStore) ReplaceUserRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userRoles[userID] = dedupe(roleIDs)
	return nil
}

// ReplaceUserPermissions replaces the user's direct permission associations
func (s *InMemoryStore) ReplaceUserPermissions(ctx context.Context, userID uuid.UUID, permissionIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userPerms[userID] = dedupe(permissionIDs)
	return nil
}

// FindUserRoleIDs returns the user's direct role ids
func (s *InMemoryStore) FindUserRoleIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]uuid.UUID(nil), s.userRoles[userID]...), nil
}

// FindUserPermissionIDs returns the user's direct permission ids
func (s *InMemoryStore) FindUserPermissionIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]uuid.UUID(nil), s.userPerms[userID]...), nil
}

func appendUnique(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
