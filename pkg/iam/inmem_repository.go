package iam

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/tendant/realm-idm/pkg/errors"
)

// InMemoryRepository implements Repository using in-memory storage
type InMemoryRepository struct {
	mu         sync.RWMutex
	realms     map[uuid.UUID]Realm
	users      map[uuid.UUID]User
	robots     map[uuid.UUID]Robot
	extraAttrs map[uuid.UUID]map[string]string // userID -> attribute key/value
}

// NewInMemoryRepository creates a new in-memory IAM repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		realms:     make(map[uuid.UUID]Realm),
		users:      make(map[uuid.UUID]User),
		robots:     make(map[uuid.UUID]Robot),
		extraAttrs: make(map[uuid.UUID]map[string]string),
	}
}

// FindUserByName finds a user by its unique (name, realm) pair
func (r *InMemoryRepository) FindUserByName(ctx context.Context, name string, realmID uuid.UUID) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.RealmID == realmID && strings.EqualFold(user.Name, name) && user.DeletedAt == nil {
			return user, nil
		}
	}
	return User{}, errors.Newf(errors.ErrCodeNotFound, "user %q not found", name)
}

// FindUserByID finds a user by id
func (r *InMemoryRepository) FindUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok || user.DeletedAt != nil {
		return User{}, errors.Newf(errors.ErrCodeNotFound, "user %s not found", id)
	}
	return user, nil
}

// CreateUser creates a new user, enforcing name uniqueness within the realm
func (r *InMemoryRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.RealmID == params.RealmID && strings.EqualFold(existing.Name, params.Name) && existing.DeletedAt == nil {
			return User{}, errors.Newf(errors.ErrCodeDuplicateName, "user name %q already taken", params.Name)
		}
	}

	now := time.Now().UTC()
	user := User{
		ID:             uuid.New(),
		CreatedAt:      now,
		LastModifiedAt: now,
	}
	if err := copier.Copy(&user, &params); err != nil {
		return User{}, err
	}

	r.users[user.ID] = user
	return user, nil
}

// SaveUserWithAttributes updates a user's fields and extra attributes
func (r *InMemoryRepository) SaveUserWithAttributes(ctx context.Context, user User, extra map[string]string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[user.ID]
	if !ok || stored.DeletedAt != nil {
		return User{}, errors.Newf(errors.ErrCodeNotFound, "user %s not found", user.ID)
	}

	user.CreatedAt = stored.CreatedAt
	user.LastModifiedAt = time.Now().UTC()
	r.users[user.ID] = user

	if len(extra) > 0 {
		attrs := r.extraAttrs[user.ID]
		if attrs == nil {
			attrs = make(map[string]string)
			r.extraAttrs[user.ID] = attrs
		}
		for k, v := range extra {
			attrs[k] = v
		}
	}

	return user, nil
}

// FindUserExtraAttributes returns the free-form attributes stored for a user
func (r *InMemoryRepository) FindUserExtraAttributes(ctx context.Context, userID uuid.UUID) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.extraAttrs[userID]))
	for k, v := range r.extraAttrs[userID] {
		out[k] = v
	}
	return out, nil
}

// FindRobotByID finds a robot by id
func (r *InMemoryRepository) FindRobotByID(ctx context.Context, id uuid.UUID) (Robot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	robot, ok := r.robots[id]
	if !ok {
		return Robot{}, errors.Newf(errors.ErrCodeNotFound, "robot %s not found", id)
	}
	return robot, nil
}

// CreateRobot creates a new robot
func (r *InMemoryRepository) CreateRobot(ctx context.Context, params CreateRobotParams) (Robot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.robots {
		if existing.RealmID == params.RealmID && strings.EqualFold(existing.Name, params.Name) {
			return Robot{}, errors.Newf(errors.ErrCodeDuplicateName, "robot name %q already taken", params.Name)
		}
	}

	robot := Robot{
		ID:         uuid.New(),
		RealmID:    params.RealmID,
		Name:       params.Name,
		Active:     params.Active,
		SecretHash: params.SecretHash,
		CreatedAt:  time.Now().UTC(),
	}

	r.robots[robot.ID] = robot
	return robot, nil
}

// FindRealmByID finds a realm by id
func (r *InMemoryRepository) FindRealmByID(ctx context.Context, id uuid.UUID) (Realm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	realm, ok := r.realms[id]
	if !ok {
		return Realm{}, errors.Newf(errors.ErrCodeNotFound, "realm %s not found", id)
	}
	return realm, nil
}

// FindMasterRealm returns the distinguished master realm
func (r *InMemoryRepository) FindMasterRealm(ctx context.Context) (Realm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, realm := range r.realms {
		if realm.Master {
			return realm, nil
		}
	}
	return Realm{}, errors.New(errors.ErrCodeNotFound, "master realm not found")
}

// CreateRealm creates a new realm
func (r *InMemoryRepository) CreateRealm(ctx context.Context, name string, master bool) (Realm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.realms {
		if strings.EqualFold(existing.Name, name) {
			return Realm{}, errors.Newf(errors.ErrCodeDuplicateName, "realm name %q already taken", name)
		}
	}

	realm := Realm{
		ID:        uuid.New(),
		Name:      name,
		Master:    master,
		CreatedAt: time.Now().UTC(),
	}

	r.realms[realm.ID] = realm
	return realm, nil
}
