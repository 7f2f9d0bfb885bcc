package grant

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/realm-idm/pkg/errors"
	"github.com/tendant/realm-idm/pkg/federation"
	"github.com/tendant/realm-idm/pkg/iam"
	"github.com/tendant/realm-idm/pkg/idp"
	"github.com/tendant/realm-idm/pkg/keypair"
	"github.com/tendant/realm-idm/pkg/rbac"
	"github.com/tendant/realm-idm/pkg/token"
)

type boundSession struct {
	username string
}

// fakeDirectory is an in-process stand-in for an LDAP directory. It tracks
// open sessions so tests can assert that every bind is released.
type fakeDirectory struct {
	password   string
	identities map[string]*idp.Identity
	open       int
}

func (d *fakeDirectory) Bind(ctx context.Context, username, password string) (idp.Session, error) {
	if _, ok := d.identities[username]; !ok || password != d.password {
		return nil, errors.New(errors.ErrCodeBindFailed, "directory bind failed")
	}
	d.open++
	return &boundSession{username: username}, nil
}

func (d *fakeDirectory) ResolveIdentity(ctx context.Context, session idp.Session) (*idp.Identity, error) {
	return d.identities[session.(*boundSession).username], nil
}

func (d *fakeDirectory) Unbind(session idp.Session) {
	d.open--
}

type fakeCodeFlow struct {
	codes map[string]*idp.Identity
}

func (f *fakeCodeFlow) Exchange(ctx context.Context, code string) (*idp.Identity, error) {
	identity, ok := f.codes[code]
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidCredentials, "authorization code rejected")
	}
	return identity, nil
}

type fakeFlowFactory struct {
	directories map[uuid.UUID]*fakeDirectory
	codeFlows   map[uuid.UUID]*fakeCodeFlow
}

func (f *fakeFlowFactory) CredentialFlow(provider idp.Provider) (idp.CredentialFlow, error) {
	directory, ok := f.directories[provider.ID]
	if !ok {
		return nil, fmt.Errorf("no directory for provider %s", provider.Name)
	}
	return directory, nil
}

func (f *fakeFlowFactory) CodeFlow(ctx context.Context, provider idp.Provider) (idp.CodeFlow, error) {
	flow, ok := f.codeFlows[provider.ID]
	if !ok {
		return nil, fmt.Errorf("no code flow for provider %s", provider.Name)
	}
	return flow, nil
}

type engineFixture struct {
	users     *iam.InMemoryRepository
	providers *idp.InMemoryRepository
	store     *rbac.InMemoryStore
	tokens    *token.Service
	flows     *fakeFlowFactory
	engine    *Engine
	realm     iam.Realm
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()

	users := iam.NewInMemoryRepository()
	providers := idp.NewInMemoryRepository()
	store := rbac.NewInMemoryStore()
	tokens := token.NewService(keypair.NewService(t.TempDir()), store)
	flows := &fakeFlowFactory{
		directories: map[uuid.UUID]*fakeDirectory{},
		codeFlows:   map[uuid.UUID]*fakeCodeFlow{},
	}
	fed := federation.NewManager(providers, users, store)

	realm, err := users.CreateRealm(ctx, "master", true)
	require.NoError(t, err)

	return &engineFixture{
		users:     users,
		providers: providers,
		store:     store,
		tokens:    tokens,
		flows:     flows,
		engine:    NewEngine(users, providers, fed, tokens, flows),
		realm:     realm,
	}
}

func (f *engineFixture) createUser(t *testing.T, name, password string, active bool) iam.User {
	t.Helper()
	hash, err := iam.HashSecret(password)
	require.NoError(t, err)
	user, err := f.users.CreateUser(context.Background(), iam.CreateUserParams{
		RealmID:      f.realm.ID,
		Name:         name,
		Active:       active,
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return user
}

func (f *engineFixture) createLDAPProvider(t *testing.T, name string, directory *fakeDirectory) idp.Provider {
	t.Helper()
	provider, err := f.providers.CreateProvider(context.Background(), idp.Provider{
		RealmID:  f.realm.ID,
		Name:     name,
		Protocol: idp.ProtocolLDAP,
		Enabled:  true,
	})
	require.NoError(t, err)
	f.flows.directories[provider.ID] = directory
	return provider
}

func TestPasswordGrantLocalUser(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "jdoe", "s3cret", true)

	response, err := f.engine.Run(ctx, Request{
		GrantType: TypePassword,
		Username:  "jdoe",
		Password:  "s3cret",
		RealmID:   f.realm.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer", response.TokenType)
	assert.Positive(t, response.ExpiresIn)
	assert.NotEmpty(t, response.RefreshToken)

	claims, err := f.tokens.VerifyAccessToken(response.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.Subject)
	assert.Equal(t, iam.SubjectKindUser, claims.SubKind)
	assert.Equal(t, f.realm.ID.String(), claims.RealmID)
	assert.Equal(t, token.ScopeGlobal, claims.Scope)
}

func TestPasswordGrantDefaultsToMasterRealm(t *testing.T) {
	f := newEngineFixture(t)
	f.createUser(t, "jdoe", "s3cret", true)

	response, err := f.engine.Run(context.Background(), Request{
		GrantType: TypePassword,
		Username:  "jdoe",
		Password:  "s3cret",
	})
	require.NoError(t, err)

	claims, err := f.tokens.VerifyAccessToken(response.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.realm.ID.String(), claims.RealmID)
}

func TestPasswordGrantWrongPassword(t *testing.T) {
	f := newEngineFixture(t)
	f.createUser(t, "jdoe", "s3cret", true)

	_, err := f.engine.Run(context.Background(), Request{
		GrantType: TypePassword,
		Username:  "jdoe",
		Password:  "wrong",
		RealmID:   f.realm.ID,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCredentials))
}

func TestPasswordGrantUnknownUser(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Run(context.Background(), Request{
		GrantType: TypePassword,
		Username:  "nobody",
		Password:  "whatever",
		RealmID:   f.realm.ID,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCredentials),
		"unknown user and wrong password are indistinguishable")
}

func TestPasswordGrantInactiveUser(t *testing.T) {
	f := newEngineFixture(t)
	f.createUser(t, "jdoe", "s3cret", false)

	_, err := f.engine.Run(context.Background(), Request{
		GrantType: TypePassword,
		Username:  "jdoe",
		Password:  "s3cret",
		RealmID:   f.realm.ID,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInactive))
}

func TestPasswordGrantDirectoryFallback(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// The first directory does not know the user; the second one does.
	empty := &fakeDirectory{password: "s3cret", identities: map[string]*idp.Identity{}}
	corp := &fakeDirectory{
		password: "s3cret",
		identities: map[string]*idp.Identity{
			"jdoe": {ID: "uid=jdoe,dc=corp", Names: []string{"jdoe"}, Emails: []string{"jdoe@corp.example"}},
		},
	}
	f.createLDAPProvider(t, "alpha-ldap", empty)
	provider := f.createLDAPProvider(t, "beta-ldap", corp)

	response, err := f.engine.Run(ctx, Request{
		GrantType: TypePassword,
		Username:  "jdoe",
		Password:  "s3cret",
		RealmID:   f.realm.ID,
	})
	require.NoError(t, err)

	claims, err := f.tokens.VerifyAccessToken(response.AccessToken)
	require.NoError(t, err)

	user, err := f.users.FindUserByName(ctx, "jdoe", f.realm.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.Subject)
	assert.Equal(t, "jdoe@corp.example", user.Email)

	account, err := f.providers.FindAccount(ctx, provider.ID, "uid=jdoe,dc=corp")
	require.NoError(t, err)
	assert.Equal(t, user.ID, account.UserID)

	assert.Zero(t, empty.open, "failed binds leave no open session")
	assert.Zero(t, corp.open, "successful binds are released")
}

func TestPasswordGrantDirectoriesExhausted(t *testing.T) {
	f := newEngineFixture(t)

	directory := &fakeDirectory{password: "other", identities: map[string]*idp.Identity{
		"jdoe": {ID: "uid=jdoe", Names: []string{"jdoe"}},
	}}
	f.createLDAPProvider(t, "corp-ldap", directory)

	_, err := f.engine.Run(context.Background(), Request{
		GrantType: TypePassword,
		Username:  "jdoe",
		Password:  "wrong",
		RealmID:   f.realm.ID,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCredentials))
	assert.Zero(t, directory.open)
}

func TestRobotCredentialsGrant(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	hash, err := iam.HashSecret("robot-secret")
	require.NoError(t, err)
	robot, err := f.users.CreateRobot(ctx, iam.CreateRobotParams{
		RealmID:    f.realm.ID,
		Name:       "ci-runner",
		Active:     true,
		SecretHash: hash,
	})
	require.NoError(t, err)

	response, err := f.engine.Run(ctx, Request{
		GrantType:   TypeRobotCredentials,
		RobotID:     robot.ID,
		RobotSecret: "robot-secret",
	})
	require.NoError(t, err)

	claims, err := f.tokens.VerifyAccessToken(response.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, robot.ID.String(), claims.Subject)
	assert.Equal(t, iam.SubjectKindRobot, claims.SubKind)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := f.engine.Run(ctx, Request{
			GrantType:   TypeRobotCredentials,
			RobotID:     robot.ID,
			RobotSecret: "wrong",
		})
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCredentials))
	})

	t.Run("unknown robot", func(t *testing.T) {
		_, err := f.engine.Run(ctx, Request{
			GrantType:   TypeRobotCredentials,
			RobotID:     uuid.New(),
			RobotSecret: "robot-secret",
		})
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCredentials))
	})
}

func TestRobotCredentialsGrantInactive(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	hash, err := iam.HashSecret("robot-secret")
	require.NoError(t, err)
	robot, err := f.users.CreateRobot(ctx, iam.CreateRobotParams{
		RealmID:    f.realm.ID,
		Name:       "retired-runner",
		SecretHash: hash,
	})
	require.NoError(t, err)

	_, err = f.engine.Run(ctx, Request{
		GrantType:   TypeRobotCredentials,
		RobotID:     robot.ID,
		RobotSecret: "robot-secret",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInactive))
}

func TestRefreshTokenGrant(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.createUser(t, "jdoe", "s3cret", true)

	first, err := f.engine.Run(ctx, Request{
		GrantType: TypePassword,
		Username:  "jdoe",
		Password:  "s3cret",
		RealmID:   f.realm.ID,
	})
	require.NoError(t, err)

	second, err := f.engine.Run(ctx, Request{
		GrantType:    TypeRefreshToken,
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEmpty(t, second.RefreshToken)

	// A refresh token is single-use.
	_, err = f.engine.Run(ctx, Request{
		GrantType:    TypeRefreshToken,
		RefreshToken: first.RefreshToken,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTokenInvalid))
}

func TestRefreshTokenGrantDeactivatedUser(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "jdoe", "s3cret", true)

	response, err := f.engine.Run(ctx, Request{
		GrantType: TypePassword,
		Username:  "jdoe",
		Password:  "s3cret",
		RealmID:   f.realm.ID,
	})
	require.NoError(t, err)

	user.Active = false
	_, err = f.users.SaveUserWithAttributes(ctx, user, nil)
	require.NoError(t, err)

	_, err = f.engine.Run(ctx, Request{
		GrantType:    TypeRefreshToken,
		RefreshToken: response.RefreshToken,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInactive))
}

func TestRefreshTokenGrantRejectsAccessToken(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.createUser(t, "jdoe", "s3cret", true)

	response, err := f.engine.Run(ctx, Request{
		GrantType: TypePassword,
		Username:  "jdoe",
		Password:  "s3cret",
		RealmID:   f.realm.ID,
	})
	require.NoError(t, err)

	_, err = f.engine.Run(ctx, Request{
		GrantType:    TypeRefreshToken,
		RefreshToken: response.AccessToken,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTokenInvalid))
}

func TestRefreshTokenGrantGarbage(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Run(context.Background(), Request{
		GrantType:    TypeRefreshToken,
		RefreshToken: "not-a-token",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTokenInvalid))
}

func TestIdentityProviderGrant(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	provider, err := f.providers.CreateProvider(ctx, idp.Provider{
		RealmID:  f.realm.ID,
		Name:     "corp-oidc",
		Protocol: idp.ProtocolOIDC,
		Enabled:  true,
	})
	require.NoError(t, err)
	f.flows.codeFlows[provider.ID] = &fakeCodeFlow{codes: map[string]*idp.Identity{
		"good-code": {ID: "ext-1", Names: []string{"jdoe"}, Emails: []string{"jdoe@corp.example"}},
	}}

	response, err := f.engine.Run(ctx, Request{
		GrantType:  TypeIdentityProvider,
		ProviderID: provider.ID,
		Code:       "good-code",
	})
	require.NoError(t, err)

	claims, err := f.tokens.VerifyAccessToken(response.AccessToken)
	require.NoError(t, err)

	user, err := f.users.FindUserByName(ctx, "jdoe", f.realm.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.Subject)

	t.Run("bad code", func(t *testing.T) {
		_, err := f.engine.Run(ctx, Request{
			GrantType:  TypeIdentityProvider,
			ProviderID: provider.ID,
			Code:       "bad-code",
		})
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCredentials))
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := f.engine.Run(ctx, Request{
			GrantType:  TypeIdentityProvider,
			ProviderID: uuid.New(),
			Code:       "good-code",
		})
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidGrant))
	})
}

func TestUnknownGrantType(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Run(context.Background(), Request{GrantType: "client_credentials"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidGrant))
}
