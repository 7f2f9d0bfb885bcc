package idp

import (
	"time"

	"github.com/google/uuid"
)

// Protocol identifies how identities are obtained from a provider.
type Protocol string

const (
	ProtocolLDAP   Protocol = "ldap"
	ProtocolOAuth2 Protocol = "oauth2"
	ProtocolOIDC   Protocol = "oidc"
)

// SyncMode controls how a mapping rule applies across logins: ALWAYS rules
// overwrite the local value on every login, ONCE rules apply only while the
// local value is unset.
type SyncMode string

const (
	SyncModeAlways SyncMode = "always"
	SyncModeOnce   SyncMode = "once"
)

// LDAPOptions holds directory connection options for an LDAP provider.
type LDAPOptions struct {
	URL          string   `json:"url"`
	StartTLS     bool     `json:"start_tls"`
	BindDN       string   `json:"bind_dn,omitempty"`
	BindPassword string   `json:"bind_password,omitempty"`
	BaseDN       string   `json:"base_dn"`
	UserFilter   string   `json:"user_filter,omitempty"` // %s is replaced by the login name
	IDAttribute  string   `json:"id_attribute,omitempty"`
	NameAttrs    []string `json:"name_attributes,omitempty"`
	EmailAttrs   []string `json:"email_attributes,omitempty"`
}

// OAuth2Options holds client options for an OAuth2/OIDC provider.
type OAuth2Options struct {
	Issuer       string   `json:"issuer,omitempty"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURL      string   `json:"auth_url,omitempty"`
	TokenURL     string   `json:"token_url,omitempty"`
	RedirectURL  string   `json:"redirect_url"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Provider is an external identity source scoped to a realm.
type Provider struct {
	ID        uuid.UUID      `json:"id"`
	RealmID   uuid.UUID      `json:"realm_id"`
	Name      string         `json:"name"`
	Protocol  Protocol       `json:"protocol"`
	Enabled   bool           `json:"enabled"`
	LDAP      *LDAPOptions   `json:"ldap,omitempty"`
	OAuth2    *OAuth2Options `json:"oauth2,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Identity is a verified external identity: a stable external id, candidate
// names and emails, and the full claim bag asserted by the provider.
type Identity struct {
	ID     string                 `json:"id"`
	Names  []string               `json:"names,omitempty"`
	Emails []string               `json:"emails,omitempty"`
	Claims map[string]interface{} `json:"claims,omitempty"`
}

// Account links one (provider, external id) pair to exactly one local user.
type Account struct {
	ID               uuid.UUID `json:"id"`
	ProviderID       uuid.UUID `json:"provider_id"`
	ProviderUserID   string    `json:"provider_user_id"`
	ProviderUserName string    `json:"provider_user_name,omitempty"`
	UserID           uuid.UUID `json:"user_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// AttributeMapping maps a claim path onto a local user attribute.
// TargetValue, when set, is used verbatim instead of the resolved claim
// value; the source path then only gates whether the rule fires.
type AttributeMapping struct {
	ID                 uuid.UUID `json:"id"`
	ProviderID         uuid.UUID `json:"provider_id"`
	SourcePath         string    `json:"source_path"`
	SourceValue        string    `json:"source_value,omitempty"`
	SourceValueIsRegex bool      `json:"source_value_is_regex,omitempty"`
	TargetName         string    `json:"target_name"`
	TargetValue        string    `json:"target_value,omitempty"`
	Mode               SyncMode  `json:"mode,omitempty"`
}

// RoleMapping grants a role on login. A rule without a claim filter is
// unconditional.
type RoleMapping struct {
	ID           uuid.UUID `json:"id"`
	ProviderID   uuid.UUID `json:"provider_id"`
	RoleID       uuid.UUID `json:"role_id"`
	ClaimPath    string    `json:"claim_path,omitempty"`
	ClaimValue   string    `json:"claim_value,omitempty"`
	ValueIsRegex bool      `json:"value_is_regex,omitempty"`
	Mode         SyncMode  `json:"mode,omitempty"`
}

// PermissionMapping grants a permission on login. A rule without a claim
// filter is unconditional.
type PermissionMapping struct {
	ID           uuid.UUID `json:"id"`
	ProviderID   uuid.UUID `json:"provider_id"`
	PermissionID uuid.UUID `json:"permission_id"`
	ClaimPath    string    `json:"claim_path,omitempty"`
	ClaimValue   string    `json:"claim_value,omitempty"`
	ValueIsRegex bool      `json:"value_is_regex,omitempty"`
	Mode         SyncMode  `json:"mode,omitempty"`
}
