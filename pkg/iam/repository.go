package iam

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence operations the authorization core needs
// for principals and realms. CreateUser must fail with
// errors.ErrCodeDuplicateName when the (name, realm) pair is already taken;
// that uniqueness constraint is the single source of truth resolving
// concurrent federation of the same identity.
type Repository interface {
	// User operations
	FindUserByName(ctx context.Context, name string, realmID uuid.UUID) (User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (User, error)
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	// SaveUserWithAttributes persists the user's recognized fields together
	// with free-form extra attributes in one call.
	SaveUserWithAttributes(ctx context.Context, user User, extra map[string]string) (User, error)
	FindUserExtraAttributes(ctx context.Context, userID uuid.UUID) (map[string]string, error)

	// Robot operations
	FindRobotByID(ctx context.Context, id uuid.UUID) (Robot, error)
	CreateRobot(ctx context.Context, params CreateRobotParams) (Robot, error)

	// Realm operations
	FindRealmByID(ctx context.Context, id uuid.UUID) (Realm, error)
	FindMasterRealm(ctx context.Context) (Realm, error)
	CreateRealm(ctx context.Context, name string, master bool) (Realm, error)
}
