package idp

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence operations for identity providers,
// their mapping rules, and the accounts linking external identities to
// local users.
type Repository interface {
	// Provider operations
	CreateProvider(ctx context.Context, provider Provider) (Provider, error)
	FindProvider(ctx context.Context, id uuid.UUID) (Provider, error)
	// FindLDAPProvidersForRealm returns the realm's enabled LDAP providers
	// in a stable order.
	FindLDAPProvidersForRealm(ctx context.Context, realmID uuid.UUID) ([]Provider, error)

	// Mapping rules
	AddAttributeMapping(ctx context.Context, mapping AttributeMapping) (AttributeMapping, error)
	AddRoleMapping(ctx context.Context, mapping RoleMapping) (RoleMapping, error)
	AddPermissionMapping(ctx context.Context, mapping PermissionMapping) (PermissionMapping, error)
	FindAttributeMappings(ctx context.Context, providerID uuid.UUID) ([]AttributeMapping, error)
	FindRoleMappings(ctx context.Context, providerID uuid.UUID) ([]RoleMapping, error)
	FindPermissionMappings(ctx context.Context, providerID uuid.UUID) ([]PermissionMapping, error)

	// Account links. (ProviderID, ProviderUserID) is unique; links are
	// created once and never deleted by the core.
	FindAccount(ctx context.Context, providerID uuid.UUID, providerUserID string) (Account, error)
	CreateAccount(ctx context.Context, account Account) (Account, error)
}
