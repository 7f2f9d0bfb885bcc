package iam

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/realm-idm/pkg/errors"
)

const dataFileName = "iam.json"

// storedUser re-adds the password hash, which the API-facing User struct
// keeps out of JSON.
type storedUser struct {
	User
	PasswordHash string `json:"password_hash,omitempty"`
}

func storeUser(u User) storedUser {
	return storedUser{User: u, PasswordHash: u.PasswordHash}
}

func (s storedUser) user() User {
	u := s.User
	u.PasswordHash = s.PasswordHash
	return u
}

type storedRobot struct {
	Robot
	SecretHash string `json:"secret_hash,omitempty"`
}

func storeRobot(r Robot) storedRobot {
	return storedRobot{Robot: r, SecretHash: r.SecretHash}
}

func (s storedRobot) robot() Robot {
	r := s.Robot
	r.SecretHash = s.SecretHash
	return r
}

// fileData is the on-disk representation of all IAM records.
type fileData struct {
	Realms map[uuid.UUID]Realm          `json:"realms"`
	Users  map[uuid.UUID]storedUser     `json:"users"`
	Robots map[uuid.UUID]storedRobot    `json:"robots"`
	Extra  map[string]map[string]string `json:"extra_attributes"` // user ID -> attribute bag
}

// FileRepository implements Repository on top of a single JSON file. It is
// meant for single-binary deployments that want persistence across restarts
// without a database; every mutation rewrites the file atomically.
type FileRepository struct {
	dataDir string
	data    *fileData
	mutex   sync.RWMutex
}

// NewFileRepository creates a file-based repository in the given directory
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	r := &FileRepository{
		dataDir: dataDir,
		data: &fileData{
			Realms: make(map[uuid.UUID]Realm),
			Users:  make(map[uuid.UUID]storedUser),
			Robots: make(map[uuid.UUID]storedRobot),
			Extra:  make(map[string]map[string]string),
		},
	}

	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// FindUserByName finds a user by its unique (name, realm) pair
func (r *FileRepository) FindUserByName(ctx context.Context, name string, realmID uuid.UUID) (User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, stored := range r.data.Users {
		if stored.RealmID == realmID && stored.DeletedAt == nil && strings.EqualFold(stored.Name, name) {
			return stored.user(), nil
		}
	}
	return User{}, errors.Newf(errors.ErrCodeNotFound, "user %q not found", name)
}

// FindUserByID finds a user by id
func (r *FileRepository) FindUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stored, ok := r.data.Users[id]
	if !ok || stored.DeletedAt != nil {
		return User{}, errors.Newf(errors.ErrCodeNotFound, "user %s not found", id)
	}
	return stored.user(), nil
}

// CreateUser creates a new user, enforcing the case-insensitive (name, realm)
// uniqueness rule
func (r *FileRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, existing := range r.data.Users {
		if existing.RealmID == params.RealmID && existing.DeletedAt == nil &&
			strings.EqualFold(existing.Name, params.Name) {
			return User{}, errors.Newf(errors.ErrCodeDuplicateName, "user name %q already taken", params.Name)
		}
	}

	now := time.Now().UTC()
	user := User{
		ID:             uuid.New(),
		RealmID:        params.RealmID,
		Name:           params.Name,
		NameLocked:     params.NameLocked,
		Email:          params.Email,
		DisplayName:    params.DisplayName,
		FirstName:      params.FirstName,
		LastName:       params.LastName,
		Avatar:         params.Avatar,
		Cover:          params.Cover,
		Active:         params.Active,
		PasswordHash:   params.PasswordHash,
		CreatedAt:      now,
		LastModifiedAt: now,
	}

	r.data.Users[user.ID] = storeUser(user)
	if err := r.save(); err != nil {
		delete(r.data.Users, user.ID)
		return User{}, err
	}
	return user, nil
}

// SaveUserWithAttributes updates a user's fields and extra attributes
func (r *FileRepository) SaveUserWithAttributes(ctx context.Context, user User, extra map[string]string) (User, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, ok := r.data.Users[user.ID]
	if !ok || stored.DeletedAt != nil {
		return User{}, errors.Newf(errors.ErrCodeNotFound, "user %s not found", user.ID)
	}

	user.CreatedAt = stored.CreatedAt
	user.LastModifiedAt = time.Now().UTC()
	r.data.Users[user.ID] = storeUser(user)

	if len(extra) > 0 {
		key := user.ID.String()
		attrs := r.data.Extra[key]
		if attrs == nil {
			attrs = make(map[string]string)
			r.data.Extra[key] = attrs
		}
		for k, v := range extra {
			attrs[k] = v
		}
	}

	if err := r.save(); err != nil {
		r.data.Users[user.ID] = stored
		return User{}, err
	}
	return user, nil
}

// FindUserExtraAttributes returns the free-form attributes stored for a user
func (r *FileRepository) FindUserExtraAttributes(ctx context.Context, userID uuid.UUID) (map[string]string, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stored := r.data.Extra[userID.String()]
	out := make(map[string]string, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

// FindRobotByID finds a robot by id
func (r *FileRepository) FindRobotByID(ctx context.Context, id uuid.UUID) (Robot, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stored, ok := r.data.Robots[id]
	if !ok {
		return Robot{}, errors.Newf(errors.ErrCodeNotFound, "robot %s not found", id)
	}
	return stored.robot(), nil
}

// CreateRobot creates a new robot
func (r *FileRepository) CreateRobot(ctx context.Context, params CreateRobotParams) (Robot, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, existing := range r.data.Robots {
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

	r.data.Robots[robot.ID] = storeRobot(robot)
	if err := r.save(); err != nil {
		delete(r.data.Robots, robot.ID)
		return Robot{}, err
	}
	return robot, nil
}

// FindRealmByID finds a realm by id
func (r *FileRepository) FindRealmByID(ctx context.Context, id uuid.UUID) (Realm, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	realm, ok := r.data.Realms[id]
	if !ok {
		return Realm{}, errors.Newf(errors.ErrCodeNotFound, "realm %s not found", id)
	}
	return realm, nil
}

// FindMasterRealm returns the distinguished master realm
func (r *FileRepository) FindMasterRealm(ctx context.Context) (Realm, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, realm := range r.data.Realms {
		if realm.Master {
			return realm, nil
		}
	}
	return Realm{}, errors.New(errors.ErrCodeNotFound, "master realm not found")
}

// CreateRealm creates a new realm
func (r *FileRepository) CreateRealm(ctx context.Context, name string, master bool) (Realm, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, existing := range r.data.Realms {
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

	r.data.Realms[realm.ID] = realm
	if err := r.save(); err != nil {
		delete(r.data.Realms, realm.ID)
		return Realm{}, err
	}
	return realm, nil
}

// load reads IAM data from file
func (r *FileRepository) load() error {
	filePath := filepath.Join(r.dataDir, dataFileName)

	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, r.data); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}

// save writes IAM data to file atomically
func (r *FileRepository) save() error {
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, dataFileName+".tmp")
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, filepath.Join(r.dataDir, dataFileName)); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
