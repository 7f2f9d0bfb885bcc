package grant

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tendant/realm-idm/pkg/errors"
	"github.com/tendant/realm-idm/pkg/federation"
	"github.com/tendant/realm-idm/pkg/iam"
	"github.com/tendant/realm-idm/pkg/idp"
	"github.com/tendant/realm-idm/pkg/token"
)

// Supported grant types.
const (
	TypePassword         = "password"
	TypeRobotCredentials = "robot_credentials"
	TypeRefreshToken     = "refresh_token"
	TypeIdentityProvider = "identity_provider"
)

// Request is a decoded token grant request. Which fields matter depends on
// the grant type.
type Request struct {
	GrantType    string    `json:"grant_type"`
	Username     string    `json:"username,omitempty"`
	Password     string    `json:"password,omitempty"`
	RealmID      uuid.UUID `json:"realm_id,omitempty"`
	RobotID      uuid.UUID `json:"robot_id,omitempty"`
	RobotSecret  string    `json:"robot_secret,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ProviderID   uuid.UUID `json:"provider_id,omitempty"`
	Code         string    `json:"code,omitempty"`
	State        string    `json:"state,omitempty"`
}

// Engine runs token grant requests. Every successful grant ends the same
// way: an access/refresh token pair for the resolved principal, wrapped in a
// bearer response.
type Engine struct {
	users     iam.Repository
	providers idp.Repository
	fed       *federation.Manager
	tokens    *token.Service
	flows     idp.FlowFactory
}

// NewEngine creates a grant engine over the given services. The flow
// factory decides how identity provider flows are built; tests substitute
// fake directories through it.
func NewEngine(users iam.Repository, providers idp.Repository, fed *federation.Manager, tokens *token.Service, flows idp.FlowFactory) *Engine {
	return &Engine{
		users:     users,
		providers: providers,
		fed:       fed,
		tokens:    tokens,
		flows:     flows,
	}
}

// Run dispatches the request to its grant strategy. Unknown grant types fail
// with InvalidGrant.
func (e *Engine) Run(ctx context.Context, request Request) (*token.Response, error) {
	switch request.GrantType {
	case TypePassword:
		return e.passwordGrant(ctx, request)
	case TypeRobotCredentials:
		return e.robotCredentialsGrant(ctx, request)
	case TypeRefreshToken:
		return e.refreshTokenGrant(ctx, request)
	case TypeIdentityProvider:
		return e.identityProviderGrant(ctx, request)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidGrant, "unsupported grant type %q", request.GrantType)
	}
}

// passwordGrant verifies a username/password pair, first against the local
// user store and then against the realm's directories. Failures never reveal
// whether the name or the password was wrong.
func (e *Engine) passwordGrant(ctx context.Context, request Request) (*token.Response, error) {
	if request.Username == "" || request.Password == "" {
		return nil, errors.New(errors.ErrCodeInvalidGrant, "username and password are required")
	}

	realm, err := e.realmFor(ctx, request.RealmID)
	if err != nil {
		return nil, err
	}

	user, err := e.users.FindUserByName(ctx, request.Username, realm.ID)
	if err == nil && iam.CheckSecretHash(request.Password, user.PasswordHash) {
		return e.issueForUser(ctx, user, realm)
	}
	if err != nil && !errors.IsCode(err, errors.ErrCodeNotFound) {
		return nil, err
	}

	user, ok, err := e.directoryLogin(ctx, realm, request.Username, request.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidCredentials, "invalid credentials")
	}
	return e.issueForUser(ctx, user, realm)
}

// directoryLogin walks the realm's directories in order; the first provider
// that binds the credentials and resolves an identity wins, and the identity
// is federated into a local user. Every bound session is released before the
// loop moves on.
func (e *Engine) directoryLogin(ctx context.Context, realm iam.Realm, username, password string) (iam.User, bool, error) {
	providers, err := e.providers.FindLDAPProvidersForRealm(ctx, realm.ID)
	if err != nil {
		return iam.User{}, false, err
	}

	for _, provider := range providers {
		flow, err := e.flows.CredentialFlow(provider)
		if err != nil {
			slog.Error("Failed to build credential flow", "provider", provider.Name, "err", err)
			continue
		}

		session, err := flow.Bind(ctx, username, password)
		if err != nil {
			continue
		}

		identity, err := flow.ResolveIdentity(ctx, session)
		flow.Unbind(session)
		if err != nil {
			slog.Error("Failed to resolve directory identity", "provider", provider.Name, "err", err)
			continue
		}

		user, _, err := e.fed.Federate(ctx, provider.ID, *identity)
		if err != nil {
			return iam.User{}, false, err
		}
		return user, true, nil
	}

	return iam.User{}, false, nil
}

// robotCredentialsGrant verifies a robot id/secret pair.
func (e *Engine) robotCredentialsGrant(ctx context.Context, request Request) (*token.Response, error) {
	if request.RobotID == uuid.Nil || request.RobotSecret == "" {
		return nil, errors.New(errors.ErrCodeInvalidGrant, "robot id and secret are required")
	}

	robot, err := e.users.FindRobotByID(ctx, request.RobotID)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return nil, errors.New(errors.ErrCodeInvalidCredentials, "invalid credentials")
		}
		return nil, err
	}
	if !iam.CheckSecretHash(request.RobotSecret, robot.SecretHash) {
		return nil, errors.New(errors.ErrCodeInvalidCredentials, "invalid credentials")
	}
	if !robot.Active {
		return nil, errors.New(errors.ErrCodeInactive, "robot is not active")
	}

	realm, err := e.users.FindRealmByID(ctx, robot.RealmID)
	if err != nil {
		return nil, err
	}

	return e.issuePair(ctx, token.Subject{
		ID:        robot.ID,
		Kind:      iam.SubjectKindRobot,
		RealmID:   realm.ID,
		RealmName: realm.Name,
	})
}

// refreshTokenGrant exchanges a refresh token for a fresh pair. A refresh
// token is single-use: the second exchange of the same token fails.
func (e *Engine) refreshTokenGrant(ctx context.Context, request Request) (*token.Response, error) {
	if request.RefreshToken == "" {
		return nil, errors.New(errors.ErrCodeInvalidGrant, "refresh token is required")
	}

	claims, err := e.tokens.VerifyRefreshToken(request.RefreshToken)
	if err != nil {
		return nil, err
	}
	if e.tokens.IsRefreshTokenExchanged(claims) {
		return nil, errors.New(errors.ErrCodeTokenInvalid, "refresh token already exchanged")
	}

	subjectID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, errors.New(errors.ErrCodeTokenInvalid, "malformed token subject")
	}
	realmID, err := uuid.Parse(claims.RealmID)
	if err != nil {
		return nil, errors.New(errors.ErrCodeTokenInvalid, "malformed token realm")
	}

	// The principal is re-loaded so deactivation takes effect at the next
	// refresh, not only at expiry.
	switch claims.SubKind {
	case iam.SubjectKindUser:
		user, err := e.users.FindUserByID(ctx, subjectID)
		if err != nil {
			return nil, err
		}
		if !user.Active {
			return nil, errors.New(errors.ErrCodeInactive, "user is not active")
		}
	case iam.SubjectKindRobot:
		robot, err := e.users.FindRobotByID(ctx, subjectID)
		if err != nil {
			return nil, err
		}
		if !robot.Active {
			return nil, errors.New(errors.ErrCodeInactive, "robot is not active")
		}
	default:
		return nil, errors.New(errors.ErrCodeTokenInvalid, "unknown subject kind")
	}

	realm, err := e.users.FindRealmByID(ctx, realmID)
	if err != nil {
		return nil, err
	}

	response, err := e.issuePair(ctx, token.Subject{
		ID:        subjectID,
		Kind:      claims.SubKind,
		RealmID:   realm.ID,
		RealmName: realm.Name,
	})
	if err != nil {
		return nil, err
	}

	e.tokens.MarkRefreshTokenExchanged(claims)
	return response, nil
}

// identityProviderGrant exchanges an upstream authorization code for a
// verified identity, federates it into a local user and issues a pair.
func (e *Engine) identityProviderGrant(ctx context.Context, request Request) (*token.Response, error) {
	if request.ProviderID == uuid.Nil || request.Code == "" {
		return nil, errors.New(errors.ErrCodeInvalidGrant, "provider id and code are required")
	}

	provider, err := e.providers.FindProvider(ctx, request.ProviderID)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return nil, errors.New(errors.ErrCodeInvalidGrant, "unknown identity provider")
		}
		return nil, err
	}
	if !provider.Enabled {
		return nil, errors.New(errors.ErrCodeForbidden, "identity provider is disabled")
	}

	flow, err := e.flows.CodeFlow(ctx, provider)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidGrant, "provider does not support code exchange")
	}

	identity, err := flow.Exchange(ctx, request.Code)
	if err != nil {
		return nil, err
	}

	user, _, err := e.fed.Federate(ctx, provider.ID, *identity)
	if err != nil {
		return nil, err
	}

	realm, err := e.users.FindRealmByID(ctx, user.RealmID)
	if err != nil {
		return nil, err
	}
	return e.issueForUser(ctx, user, realm)
}

func (e *Engine) issueForUser(ctx context.Context, user iam.User, realm iam.Realm) (*token.Response, error) {
	if !user.Active {
		return nil, errors.New(errors.ErrCodeInactive, "user is not active")
	}
	return e.issuePair(ctx, token.Subject{
		ID:        user.ID,
		Kind:      iam.SubjectKindUser,
		RealmID:   realm.ID,
		RealmName: realm.Name,
	})
}

func (e *Engine) issuePair(ctx context.Context, subject token.Subject) (*token.Response, error) {
	access, accessClaims, err := e.tokens.IssueAccessToken(ctx, subject)
	if err != nil {
		return nil, err
	}
	refresh, _, err := e.tokens.IssueRefreshToken(accessClaims)
	if err != nil {
		return nil, err
	}
	return token.NewBearerResponse(access, accessClaims, refresh), nil
}

// realmFor resolves the realm a request addresses; an unset realm id means
// the master realm.
func (e *Engine) realmFor(ctx context.Context, id uuid.UUID) (iam.Realm, error) {
	if id == uuid.Nil {
		return e.users.FindMasterRealm(ctx)
	}
	return e.users.FindRealmByID(ctx, id)
}
