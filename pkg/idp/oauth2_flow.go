package idp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OAuth2Flow exchanges upstream authorization codes for verified identities.
// With an OIDC issuer configured the endpoints are discovered and the ID
// token signature is verified; otherwise the configured endpoints are used
// and claims come from the userinfo endpoint.
type OAuth2Flow struct {
	provider Provider
	config   *oauth2.Config
	remote   *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewOAuth2Flow creates a code flow for an OAuth2/OIDC provider
func NewOAuth2Flow(ctx context.Context, provider Provider) (*OAuth2Flow, error) {
	if provider.OAuth2 == nil {
		return nil, fmt.Errorf("provider %s has no OAuth2 options", provider.Name)
	}
	options := provider.OAuth2

	scopes := options.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	flow := &OAuth2Flow{
		provider: provider,
		config: &oauth2.Config{
			ClientID:     options.ClientID,
			ClientSecret: options.ClientSecret,
			RedirectURL:  options.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  options.AuthURL,
				TokenURL: options.TokenURL,
			},
		},
	}

	if options.Issuer != "" {
		remote, err := oidc.NewProvider(ctx, options.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover issuer %s: %w", options.Issuer, err)
		}
		flow.remote = remote
		flow.config.Endpoint = remote.Endpoint()
		flow.verifier = remote.Verifier(&oidc.Config{ClientID: options.ClientID})
	}

	return flow, nil
}

// AuthCodeURL builds the upstream authorization URL for the given state.
func (f *OAuth2Flow) AuthCodeURL(state string) string {
	return f.config.AuthCodeURL(state)
}

// Exchange redeems the authorization code upstream and decodes the identity
// claims from the ID token (verified) or the userinfo endpoint.
func (f *OAuth2Flow) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := f.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	claims, err := f.decodeClaims(ctx, token)
	if err != nil {
		return nil, err
	}

	identity := identityFromClaims(claims)
	if identity.ID == "" {
		return nil, fmt.Errorf("upstream identity has no stable id")
	}

	slog.Info("Resolved upstream identity", "provider", f.provider.Name, "external_id", identity.ID)
	return identity, nil
}

func (f *OAuth2Flow) decodeClaims(ctx context.Context, token *oauth2.Token) (map[string]interface{}, error) {
	claims := make(map[string]interface{})

	if rawIDToken, ok := token.Extra("id_token").(string); ok && f.verifier != nil {
		idToken, err := f.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("failed to verify ID token: %w", err)
		}
		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("failed to decode ID token claims: %w", err)
		}
		return claims, nil
	}

	if f.remote == nil {
		return nil, fmt.Errorf("no ID token and no userinfo endpoint available")
	}

	userInfo, err := f.remote.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	if err := userInfo.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo claims: %w", err)
	}
	return claims, nil
}

func identityFromClaims(claims map[string]interface{}) *Identity {
	identity := &Identity{Claims: claims}

	if sub, ok := claims["sub"].(string); ok {
		identity.ID = sub
	}
	for _, key := range []string{"preferred_username", "nickname", "name"} {
		if value, ok := claims[key].(string); ok && value != "" {
			identity.Names = append(identity.Names, value)
		}
	}
	if email, ok := claims["email"].(string); ok && email != "" {
		identity.Emails = append(identity.Emails, email)
	}

	return identity
}
