package iam

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/realm-idm/pkg/errors"
)

func setupFileRepo(t *testing.T) (*FileRepository, string) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir)
	require.NoError(t, err)
	return repo, dir
}

func TestFileRepositoryRealms(t *testing.T) {
	repo, _ := setupFileRepo(t)
	ctx := context.Background()

	realm, err := repo.CreateRealm(ctx, "master", true)
	require.NoError(t, err)
	assert.True(t, realm.Master)

	found, err := repo.FindMasterRealm(ctx)
	require.NoError(t, err)
	assert.Equal(t, realm.ID, found.ID)

	_, err = repo.CreateRealm(ctx, "Master", false)
	assert.Equal(t, errors.ErrCodeDuplicateName, errors.GetCode(err))
}

func TestFileRepositoryUserRoundTrip(t *testing.T) {
	repo, dir := setupFileRepo(t)
	ctx := context.Background()

	realm, err := repo.CreateRealm(ctx, "master", true)
	require.NoError(t, err)

	user, err := repo.CreateUser(ctx, CreateUserParams{
		RealmID:      realm.ID,
		Name:         "alice",
		Email:        "alice@example.com",
		Active:       true,
		PasswordHash: "$2a$10$fakehash",
	})
	require.NoError(t, err)

	user.DisplayName = "Alice"
	_, err = repo.SaveUserWithAttributes(ctx, user, map[string]string{"department": "engineering"})
	require.NoError(t, err)

	// Reopen from the same directory and check everything survived the reload.
	reopened, err := NewFileRepository(dir)
	require.NoError(t, err)

	loaded, err := reopened.FindUserByName(ctx, "ALICE", realm.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, loaded.ID)
	assert.Equal(t, "Alice", loaded.DisplayName)
	assert.Equal(t, "$2a$10$fakehash", loaded.PasswordHash)

	extra, err := reopened.FindUserExtraAttributes(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "engineering", extra["department"])
}

func TestFileRepositoryDuplicateUserName(t *testing.T) {
	repo, _ := setupFileRepo(t)
	ctx := context.Background()

	realm, err := repo.CreateRealm(ctx, "master", true)
	require.NoError(t, err)

	_, err = repo.CreateUser(ctx, CreateUserParams{RealmID: realm.ID, Name: "bob", Active: true})
	require.NoError(t, err)

	_, err = repo.CreateUser(ctx, CreateUserParams{RealmID: realm.ID, Name: "Bob", Active: true})
	assert.Equal(t, errors.ErrCodeDuplicateName, errors.GetCode(err))

	other, err := repo.CreateRealm(ctx, "tenant", false)
	require.NoError(t, err)

	// Same name in another realm is fine.
	_, err = repo.CreateUser(ctx, CreateUserParams{RealmID: other.ID, Name: "bob", Active: true})
	assert.NoError(t, err)
}

func TestFileRepositoryRobotRoundTrip(t *testing.T) {
	repo, dir := setupFileRepo(t)
	ctx := context.Background()

	realm, err := repo.CreateRealm(ctx, "master", true)
	require.NoError(t, err)

	robot, err := repo.CreateRobot(ctx, CreateRobotParams{
		RealmID:    realm.ID,
		Name:       "deployer",
		Active:     true,
		SecretHash: "$2a$10$robotsecret",
	})
	require.NoError(t, err)

	reopened, err := NewFileRepository(dir)
	require.NoError(t, err)

	loaded, err := reopened.FindRobotByID(ctx, robot.ID)
	require.NoError(t, err)
	assert.Equal(t, "deployer", loaded.Name)
	assert.Equal(t, "$2a$10$robotsecret", loaded.SecretHash)
}
