package idp

import (
	"context"
	"encoding/json"
	goerrors "errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/realm-idm/pkg/errors"
)

const pgUniqueViolation = "23505"

// PostgresRepository implements Repository using a pgx connection pool.
// Provider connection options are stored as jsonb.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL-based provider repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const providerColumns = `id, realm_id, name, protocol, enabled,
	ldap_options, oauth2_options, created_at`

func scanProvider(row pgx.Row) (Provider, error) {
	var p Provider
	var ldapOptions, oauth2Options []byte
	err := row.Scan(&p.ID, &p.RealmID, &p.Name, &p.Protocol, &p.Enabled,
		&ldapOptions, &oauth2Options, &p.CreatedAt)
	if err != nil {
		return Provider{}, err
	}
	if len(ldapOptions) > 0 {
		p.LDAP = &LDAPOptions{}
		if err := json.Unmarshal(ldapOptions, p.LDAP); err != nil {
			return Provider{}, err
		}
	}
	if len(oauth2Options) > 0 {
		p.OAuth2 = &OAuth2Options{}
		if err := json.Unmarshal(oauth2Options, p.OAuth2); err != nil {
			return Provider{}, err
		}
	}
	return p, nil
}

// CreateProvider creates a new identity provider
func (r *PostgresRepository) CreateProvider(ctx context.Context, provider Provider) (Provider, error) {
	var ldapOptions, oauth2Options []byte
	var err error
	if provider.LDAP != nil {
		if ldapOptions, err = json.Marshal(provider.LDAP); err != nil {
			return Provider{}, err
		}
	}
	if provider.OAuth2 != nil {
		if oauth2Options, err = json.Marshal(provider.OAuth2); err != nil {
			return Provider{}, err
		}
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO idp_providers (id, realm_id, name, protocol, enabled,
			ldap_options, oauth2_options, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 RETURNING `+providerColumns,
		uuid.New(), provider.RealmID, provider.Name, provider.Protocol,
		provider.Enabled, ldapOptions, oauth2Options)

	created, err := scanProvider(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if goerrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Provider{}, errors.Wrapf(err, errors.ErrCodeDuplicateName, "provider name %q already taken", provider.Name)
		}
		return Provider{}, err
	}
	return created, nil
}

// FindProvider finds a provider by id
func (r *PostgresRepository) FindProvider(ctx context.Context, id uuid.UUID) (Provider, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM idp_providers WHERE id = $1`, id)

	provider, err := scanProvider(row)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return Provider{}, errors.Newf(errors.ErrCodeNotFound, "provider %s not found", id)
		}
		return Provider{}, err
	}
	return provider, nil
}

// FindLDAPProvidersForRealm returns the realm's enabled LDAP providers
// ordered by name.
func (r *PostgresRepository) FindLDAPProvidersForRealm(ctx context.Context, realmID uuid.UUID) ([]Provider, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+providerColumns+` FROM idp_providers
		 WHERE realm_id = $1 AND protocol = $2 AND enabled
		 ORDER BY name`, realmID, ProtocolLDAP)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []Provider
	for rows.Next() {
		provider, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}
	return providers, rows.Err()
}

// AddAttributeMapping adds an attribute mapping rule to a provider
func (r *PostgresRepository) AddAttributeMapping(ctx context.Context, mapping AttributeMapping) (AttributeMapping, error) {
	mapping.ID = uuid.New()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO idp_attribute_mappings (id, provider_id, source_path,
			source_value, source_value_is_regex, target_name, target_value, mode)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		mapping.ID, mapping.ProviderID, mapping.SourcePath, mapping.SourceValue,
		mapping.SourceValueIsRegex, mapping.TargetName, mapping.TargetValue, mapping.Mode)
	if err != nil {
		return AttributeMapping{}, err
	}
	return mapping, nil
}

// AddRoleMapping adds a role mapping rule to a provider
func (r *PostgresRepository) AddRoleMapping(ctx context.Context, mapping RoleMapping) (RoleMapping, error) {
	mapping.ID = uuid.New()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO idp_role_mappings (id, provider_id, role_id, claim_path,
			claim_value, value_is_regex, mode)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		mapping.ID, mapping.ProviderID, mapping.RoleID, mapping.ClaimPath,
		mapping.ClaimValue, mapping.ValueIsRegex, mapping.Mode)
	if err != nil {
		return RoleMapping{}, err
	}
	return mapping, nil
}

// AddPermissionMapping adds a permission mapping rule to a provider
func (r *PostgresRepository) AddPermissionMapping(ctx context.Context, mapping PermissionMapping) (PermissionMapping, error) {
	mapping.ID = uuid.New()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO idp_permission_mappings (id, provider_id, permission_id,
			claim_path, claim_value, value_is_regex, mode)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		mapping.ID, mapping.ProviderID, mapping.PermissionID, mapping.ClaimPath,
		mapping.ClaimValue, mapping.ValueIsRegex, mapping.Mode)
	if err != nil {
		return PermissionMapping{}, err
	}
	return mapping, nil
}

// FindAttributeMappings returns a provider's attribute mapping rules
func (r *PostgresRepository) FindAttributeMappings(ctx context.Context, providerID uuid.UUID) ([]AttributeMapping, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, provider_id, source_path, source_value, source_value_is_regex,
			target_name, target_value, mode
		 FROM idp_attribute_mappings WHERE provider_id = $1`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []AttributeMapping
	for rows.Next() {
		var m AttributeMapping
		if err := rows.Scan(&m.ID, &m.ProviderID, &m.SourcePath, &m.SourceValue,
			&m.SourceValueIsRegex, &m.TargetName, &m.TargetValue, &m.Mode); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// FindRoleMappings returns a provider's role mapping rules
func (r *PostgresRepository) FindRoleMappings(ctx context.Context, providerID uuid.UUID) ([]RoleMapping, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, provider_id, role_id, claim_path, claim_value, value_is_regex, mode
		 FROM idp_role_mappings WHERE provider_id = $1`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []RoleMapping
	for rows.Next() {
		var m RoleMapping
		if err := rows.Scan(&m.ID, &m.ProviderID, &m.RoleID, &m.ClaimPath,
			&m.ClaimValue, &m.ValueIsRegex, &m.Mode); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// FindPermissionMappings returns a provider's permission mapping rules
func (r *PostgresRepository) FindPermissionMappings(ctx context.Context, providerID uuid.UUID) ([]PermissionMapping, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, provider_id, permission_id, claim_path, claim_value, value_is_regex, mode
		 FROM idp_permission_mappings WHERE provider_id = $1`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []PermissionMapping
	for rows.Next() {
		var m PermissionMapping
		if err := rows.Scan(&m.ID, &m.ProviderID, &m.PermissionID, &m.ClaimPath,
			&m.ClaimValue, &m.ValueIsRegex, &m.Mode); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// FindAccount finds the account linking a (provider, external id) pair
func (r *PostgresRepository) FindAccount(ctx context.Context, providerID uuid.UUID, providerUserID string) (Account, error) {
	var account Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, provider_id, provider_user_id, provider_user_name, user_id, created_at
		 FROM idp_accounts WHERE provider_id = $1 AND provider_user_id = $2`,
		providerID, providerUserID).
		Scan(&account.ID, &account.ProviderID, &account.ProviderUserID,
			&account.ProviderUserName, &account.UserID, &account.CreatedAt)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return Account{}, errors.Newf(errors.ErrCodeNotFound, "no account for provider %s user %q", providerID, providerUserID)
		}
		return Account{}, err
	}
	return account, nil
}

// CreateAccount links a (provider, external id) pair to a local user. The
// unique index on (provider_id, provider_user_id) surfaces as
// ErrCodeDuplicateName.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account Account) (Account, error) {
	var created Account
	err := r.pool.QueryRow(ctx,
		`INSERT INTO idp_accounts (id, provider_id, provider_user_id,
			provider_user_name, user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 RETURNING id, provider_id, provider_user_id, provider_user_name, user_id, created_at`,
		uuid.New(), account.ProviderID, account.ProviderUserID,
		account.ProviderUserName, account.UserID).
		Scan(&created.ID, &created.ProviderID, &created.ProviderUserID,
			&created.ProviderUserName, &created.UserID, &created.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if goerrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Account{}, errors.Wrapf(err, errors.ErrCodeDuplicateName, "account already linked for provider %s user %q", account.ProviderID, account.ProviderUserID)
		}
		return Account{}, err
	}
	return created, nil
}
