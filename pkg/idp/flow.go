package idp

import (
	"context"
	"fmt"
)

// Session is an opaque handle on an open directory connection. It is valid
// between Bind and Unbind only.
type Session interface{}

// CredentialFlow authenticates raw credentials against an external directory
// and resolves the verified identity. Every successful Bind must be paired
// with an Unbind, on every exit path; an unreleased bind is a resource leak.
type CredentialFlow interface {
	Bind(ctx context.Context, username, password string) (Session, error)
	ResolveIdentity(ctx context.Context, session Session) (*Identity, error)
	Unbind(session Session)
}

// CodeFlow exchanges an upstream authorization code for a verified identity.
type CodeFlow interface {
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// FlowFactory creates protocol flows for a provider. The grant engine takes
// a factory so tests can substitute fake directories and upstreams.
type FlowFactory interface {
	CredentialFlow(provider Provider) (CredentialFlow, error)
	CodeFlow(ctx context.Context, provider Provider) (CodeFlow, error)
}

// StandardFlowFactory creates the real LDAP and OAuth2/OIDC flows.
type StandardFlowFactory struct{}

// CredentialFlow returns an LDAP flow for the provider
func (StandardFlowFactory) CredentialFlow(provider Provider) (CredentialFlow, error) {
	if provider.Protocol != ProtocolLDAP {
		return nil, fmt.Errorf("provider %s does not support credential binding", provider.Name)
	}
	return NewLDAPFlow(provider)
}

// CodeFlow returns an OAuth2/OIDC flow for the provider
func (StandardFlowFactory) CodeFlow(ctx context.Context, provider Provider) (CodeFlow, error) {
	switch provider.Protocol {
	case ProtocolOAuth2, ProtocolOIDC:
		return NewOAuth2Flow(ctx, provider)
	default:
		return nil, fmt.Errorf("provider %s does not support code exchange", provider.Name)
	}
}
