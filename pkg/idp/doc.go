// Package idp models external identity providers and the flows that obtain
// verified identities from them.
//
// A provider is realm-scoped and speaks one protocol: ldap for credential
// binding against a directory, oauth2/oidc for authorization code exchange.
// Mapping rules attached to a provider drive how claims from its identities
// become local user attributes, roles and permissions; evaluating those
// rules is the job of pkg/federation.
//
// Flows are created through a FlowFactory so callers can substitute fake
// directories and upstreams in tests. The real factory builds LDAPFlow on
// go-ldap and OAuth2Flow on golang.org/x/oauth2 with go-oidc verification.
package idp
