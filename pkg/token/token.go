package token

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tendant/realm-idm/pkg/errors"
	"github.com/tendant/realm-idm/pkg/iam"
	"github.com/tendant/realm-idm/pkg/keypair"
	"github.com/tendant/realm-idm/pkg/rbac"
)

const (
	// ScopeGlobal is the default scope carrying the full permission snapshot.
	ScopeGlobal = "global"

	KindAccess  = "access"
	KindRefresh = "refresh"
)

// TokenPermission is one entry of the permission snapshot embedded in an
// access token payload.
type TokenPermission struct {
	Name    string     `json:"name"`
	Target  *string    `json:"target,omitempty"`
	RealmID *uuid.UUID `json:"realm_id,omitempty"`
}

// AccessTokenClaims is the signed payload of an access token.
type AccessTokenClaims struct {
	Kind        string            `json:"kind"`
	SubKind     iam.SubjectKind   `json:"sub_kind"`
	RealmID     string            `json:"realm_id"`
	RealmName   string            `json:"realm_name,omitempty"`
	Scope       string            `json:"scope,omitempty"`
	Permissions []TokenPermission `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// RefreshTokenClaims is the signed payload of a refresh token. It carries a
// back-reference to the access token it was paired with.
type RefreshTokenClaims struct {
	Kind          string          `json:"kind"`
	SubKind       iam.SubjectKind `json:"sub_kind"`
	RealmID       string          `json:"realm_id"`
	Scope         string          `json:"scope,omitempty"`
	AccessTokenID string          `json:"access_token_id"`
	jwt.RegisteredClaims
}

// Subject identifies the principal a token pair is issued for.
type Subject struct {
	ID        uuid.UUID
	Kind      iam.SubjectKind
	RealmID   uuid.UUID
	RealmName string
}

// Service builds, signs and verifies access/refresh token payloads. Tokens
// are not persisted; validity is entirely signature plus embedded expiry.
type Service struct {
	keys          *keypair.Service
	store         rbac.Store
	issuer        string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	exchanged     *replayGuard
}

// Option is a function that configures a token Service
type Option func(*Service)

// WithIssuer sets the issuer claim on generated tokens
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		s.issuer = issuer
	}
}

// WithAccessTokenExpiry sets the access token lifetime
func WithAccessTokenExpiry(d time.Duration) Option {
	return func(s *Service) {
		s.accessExpiry = d
	}
}

// WithRefreshTokenExpiry sets the refresh token lifetime
func WithRefreshTokenExpiry(d time.Duration) Option {
	return func(s *Service) {
		s.refreshExpiry = d
	}
}

// NewService creates a token service on top of the signing key pair and the
// permission store.
func NewService(keys *keypair.Service, store rbac.Store, opts ...Option) *Service {
	service := &Service{
		keys:          keys,
		store:         store,
		issuer:        "realm-idm",
		accessExpiry:  time.Hour,
		refreshExpiry: 72 * time.Hour,
		exchanged:     newReplayGuard(),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service
}

// IssueAccessToken signs a new access token for the subject. The permission
// snapshot is resolved through the store for the global scope.
func (s *Service) IssueAccessToken(ctx context.Context, subject Subject) (string, *AccessTokenClaims, error) {
	permissions, err := s.loadPermissionSnapshot(ctx, subject, ScopeGlobal)
	if err != nil {
		return "", nil, err
	}

	now := time.Now().UTC()
	claims := &AccessTokenClaims{
		Kind:        KindAccess,
		SubKind:     subject.Kind,
		RealmID:     subject.RealmID.String(),
		RealmName:   subject.RealmName,
		Scope:       ScopeGlobal,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Minute)),
			Issuer:    s.issuer,
			Subject:   subject.ID.String(),
			ID:        uuid.New().String(),
		},
	}

	signed, err := s.keys.Sign(claims)
	if err != nil {
		slog.Error("Failed to sign access token", "err", err)
		return "", nil, err
	}

	return signed, claims, nil
}

// IssueRefreshToken signs a refresh token paired with the given access token
// payload.
func (s *Service) IssueRefreshToken(accessClaims *AccessTokenClaims) (string, *RefreshTokenClaims, error) {
	now := time.Now().UTC()
	claims := &RefreshTokenClaims{
		Kind:          KindRefresh,
		SubKind:       accessClaims.SubKind,
		RealmID:       accessClaims.RealmID,
		Scope:         accessClaims.Scope,
		AccessTokenID: accessClaims.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Minute)),
			Issuer:    s.issuer,
			Subject:   accessClaims.Subject,
			ID:        uuid.New().String(),
		},
	}

	signed, err := s.keys.Sign(claims)
	if err != nil {
		slog.Error("Failed to sign refresh token", "err", err)
		return "", nil, err
	}

	return signed, claims, nil
}

// VerifyAccessToken validates an access token and returns its payload.
func (s *Service) VerifyAccessToken(tokenStr string) (*AccessTokenClaims, error) {
	var claims AccessTokenClaims
	if err := s.keys.Verify(tokenStr, &claims); err != nil {
		return nil, err
	}
	if claims.Kind != KindAccess {
		return nil, errors.New(errors.ErrCodeTokenInvalid, "not an access token")
	}
	return &claims, nil
}

// VerifyRefreshToken validates a refresh token and returns its payload.
func (s *Service) VerifyRefreshToken(tokenStr string) (*RefreshTokenClaims, error) {
	var claims RefreshTokenClaims
	if err := s.keys.Verify(tokenStr, &claims); err != nil {
		return nil, err
	}
	if claims.Kind != KindRefresh {
		return nil, errors.New(errors.ErrCodeTokenInvalid, "not a refresh token")
	}
	return &claims, nil
}

// MarkRefreshTokenExchanged records that the refresh token with the given id
// has been exchanged, so a replay can be rejected until the token would have
// expired anyway.
func (s *Service) MarkRefreshTokenExchanged(claims *RefreshTokenClaims) {
	s.exchanged.mark(claims.ID, claims.ExpiresAt.Time)
}

// IsRefreshTokenExchanged reports whether the refresh token was already
// exchanged.
func (s *Service) IsRefreshTokenExchanged(claims *RefreshTokenClaims) bool {
	return s.exchanged.seen(claims.ID)
}

func (s *Service) loadPermissionSnapshot(ctx context.Context, subject Subject, scope string) ([]TokenPermission, error) {
	if scope != ScopeGlobal {
		return nil, nil
	}

	permissions, err := s.store.FindPermissionsForPrincipal(ctx, subject.ID, subject.Kind)
	if err != nil {
		return nil, err
	}

	out := make([]TokenPermission, 0, len(permissions))
	for _, permission := range permissions {
		out = append(out, TokenPermission{
			Name:    permission.Name,
			Target:  permission.Target,
			RealmID: permission.RealmID,
		})
	}
	return out, nil
}
