package idp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/realm-idm/pkg/errors"
)

type accountKey struct {
	providerID     uuid.UUID
	providerUserID string
}

// InMemoryRepository implements Repository using in-memory storage
type InMemoryRepository struct {
	mu           sync.RWMutex
	providers    map[uuid.UUID]Provider
	attrRules    map[uuid.UUID][]AttributeMapping  // providerID -> rules
	roleRules    map[uuid.UUID][]RoleMapping       // providerID -> rules
	permRules    map[uuid.UUID][]PermissionMapping // providerID -> rules
	accounts     map[accountKey]Account
	accountsByID map[uuid.UUID]Account
}

// NewInMemoryRepository creates a new in-memory identity provider repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		providers:    make(map[uuid.UUID]Provider),
		attrRules:    make(map[uuid.UUID][]AttributeMapping),
		roleRules:    make(map[uuid.UUID][]RoleMapping),
		permRules:    make(map[uuid.UUID][]PermissionMapping),
		accounts:     make(map[accountKey]Account),
		accountsByID: make(map[uuid.UUID]Account),
	}
}

// CreateProvider registers a provider
func (r *InMemoryRepository) CreateProvider(ctx context.Context, provider Provider) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if provider.ID == uuid.Nil {
		provider.ID = uuid.New()
	}
	provider.CreatedAt = time.Now().UTC()
	r.providers[provider.ID] = provider
	return provider, nil
}

// FindProvider finds a provider by id
func (r *InMemoryRepository) FindProvider(ctx context.Context, id uuid.UUID) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[id]
	if !ok {
		return Provider{}, errors.Newf(errors.ErrCodeNotFound, "identity provider %s not found", id)
	}
	return provider, nil
}

// FindLDAPProvidersForRealm returns the realm's enabled LDAP providers
// ordered by name
func (r *InMemoryRepository) FindLDAPProvidersForRealm(ctx context.Context, realmID uuid.UUID) ([]Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	for _, provider := range r.providers {
		if provider.RealmID == realmID && provider.Protocol == ProtocolLDAP && provider.Enabled {
			out = append(out, provider)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AddAttributeMapping registers an attribute mapping rule
func (r *InMemoryRepository) AddAttributeMapping(ctx context.Context, mapping AttributeMapping) (AttributeMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}
	r.attrRules[mapping.ProviderID] = append(r.attrRules[mapping.ProviderID], mapping)
	return mapping, nil
}

// AddRoleMapping registers a role mapping rule
func (r *InMemoryRepository) AddRoleMapping(ctx context.Context, mapping RoleMapping) (RoleMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}
	r.roleRules[mapping.ProviderID] = append(r.roleRules[mapping.ProviderID], mapping)
	return mapping, nil
}

// AddPermissionMapping registers a permission mapping rule
func (r *InMemoryRepository) AddPermissionMapping(ctx context.Context, mapping PermissionMapping) (PermissionMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}
	r.permRules[mapping.ProviderID] = append(r.permRules[mapping.ProviderID], mapping)
	return mapping, nil
}

// FindAttributeMappings returns the provider's attribute mapping rules
func (r *InMemoryRepository) FindAttributeMappings(ctx context.Context, providerID uuid.UUID) ([]AttributeMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]AttributeMapping(nil), r.attrRules[providerID]...), nil
}

// FindRoleMappings returns the provider's role mapping rules
func (r *InMemoryRepository) FindRoleMappings(ctx context.Context, providerID uuid.UUID) ([]RoleMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]RoleMapping(nil), r.roleRules[providerID]...), nil
}

// FindPermissionMappings returns the provider's permission mapping rules
func (r *InMemoryRepository) FindPermissionMappings(ctx context.Context, providerID uuid.UUID) ([]PermissionMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]PermissionMapping(nil), r.permRules[providerID]...), nil
}

// FindAccount finds the account linked to a (provider, external id) pair
func (r *InMemoryRepository) FindAccount(ctx context.Context, providerID uuid.UUID, providerUserID string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[accountKey{providerID, providerUserID}]
	if !ok {
		return Account{}, errors.Newf(errors.ErrCodeNotFound, "no account for provider %s user %q", providerID, providerUserID)
	}
	return account, nil
}

// CreateAccount links a (provider, external id) pair to a local user
func (r *InMemoryRepository) CreateAccount(ctx context.Context, account Account) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := accountKey{account.ProviderID, account.ProviderUserID}
	if existing, ok := r.accounts[key]; ok {
		return existing, errors.Newf(errors.ErrCodeDuplicateName, "account already linked for provider %s user %q", account.ProviderID, account.ProviderUserID)
	}

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.CreatedAt = time.Now().UTC()
	r.accounts[key] = account
	r.accountsByID[account.ID] = account
	return account, nil
}
