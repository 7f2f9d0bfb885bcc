package federation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tendant/realm-idm/pkg/claims"
	"github.com/tendant/realm-idm/pkg/errors"
	"github.com/tendant/realm-idm/pkg/iam"
	"github.com/tendant/realm-idm/pkg/idp"
	"github.com/tendant/realm-idm/pkg/rbac"
)

// syntheticNameLength is the length of generated fallback usernames.
const syntheticNameLength = 30

// Manager maps verified external identities onto local users. Each
// federation pass links the identity to a user (provisioning one on first
// login), applies the provider's attribute mapping rules, and synchronizes
// the roles and permissions governed by the provider.
type Manager struct {
	providers idp.Repository
	users     iam.Repository
	store     rbac.Store
}

// NewManager creates a federation manager over the given repositories.
func NewManager(providers idp.Repository, users iam.Repository, store rbac.Store) *Manager {
	return &Manager{
		providers: providers,
		users:     users,
		store:     store,
	}
}

// Federate resolves the external identity to a local user. An identity seen
// before resolves through its account link and has its mapped attributes
// refreshed; an unseen identity gets a new user and a new link. Role and
// permission mapping rules are evaluated on every login.
func (m *Manager) Federate(ctx context.Context, providerID uuid.UUID, identity idp.Identity) (iam.User, idp.Account, error) {
	provider, err := m.providers.FindProvider(ctx, providerID)
	if err != nil {
		return iam.User{}, idp.Account{}, err
	}
	if !provider.Enabled {
		return iam.User{}, idp.Account{}, errors.New(errors.ErrCodeForbidden, "identity provider is disabled")
	}
	if identity.ID == "" {
		return iam.User{}, idp.Account{}, errors.New(errors.ErrCodeInvalidInput, "external identity has no stable id")
	}

	rules, err := m.providers.FindAttributeMappings(ctx, provider.ID)
	if err != nil {
		return iam.User{}, idp.Account{}, err
	}
	attrs := resolveAttributes(identity, rules)

	user, account, err := m.resolveUser(ctx, provider, identity, attrs)
	if err != nil {
		return iam.User{}, idp.Account{}, err
	}

	if err := m.syncRoles(ctx, provider.ID, identity, user.ID); err != nil {
		return iam.User{}, idp.Account{}, err
	}
	if err := m.syncPermissions(ctx, provider.ID, identity, user.ID); err != nil {
		return iam.User{}, idp.Account{}, err
	}

	return user, account, nil
}

// resolveUser finds the user behind the account link, or provisions user and
// link on first login. Concurrent first logins for the same identity race on
// the account link; the loser re-reads the winner's link.
func (m *Manager) resolveUser(ctx context.Context, provider idp.Provider, identity idp.Identity, attrs map[string]resolvedAttribute) (iam.User, idp.Account, error) {
	account, err := m.providers.FindAccount(ctx, provider.ID, identity.ID)
	if err == nil {
		user, err := m.users.FindUserByID(ctx, account.UserID)
		if err != nil {
			return iam.User{}, idp.Account{}, err
		}
		user, err = m.updateUser(ctx, user, attrs)
		return user, account, err
	}
	if !errors.IsCode(err, errors.ErrCodeNotFound) {
		return iam.User{}, idp.Account{}, err
	}

	user, err := m.createUser(ctx, provider, identity, attrs)
	if err != nil {
		return iam.User{}, idp.Account{}, err
	}

	account, err = m.providers.CreateAccount(ctx, idp.Account{
		ProviderID:       provider.ID,
		ProviderUserID:   identity.ID,
		ProviderUserName: firstOf(identity.Names),
		UserID:           user.ID,
	})
	if err != nil {
		if !errors.IsCode(err, errors.ErrCodeDuplicateName) {
			return iam.User{}, idp.Account{}, err
		}
		// Lost the race against a concurrent first login.
		account, err = m.providers.FindAccount(ctx, provider.ID, identity.ID)
		if err != nil {
			return iam.User{}, idp.Account{}, err
		}
		user, err = m.users.FindUserByID(ctx, account.UserID)
		return user, account, err
	}

	slog.Info("provisioned federated user",
		"user_id", user.ID,
		"realm_id", user.RealmID,
		"provider_id", provider.ID)
	return user, account, nil
}

// resolvedAttribute is one mapped attribute value after rule evaluation.
type resolvedAttribute struct {
	values []string
	mode   idp.SyncMode
}

// resolveAttributes evaluates the provider's attribute rules against the
// claim bag. A rule whose source path does not resolve, or whose values are
// all filtered away, contributes nothing. A fixed target value replaces the
// resolved claim values; the source path then only gates the rule.
func resolveAttributes(identity idp.Identity, rules []idp.AttributeMapping) map[string]resolvedAttribute {
	out := make(map[string]resolvedAttribute, len(rules))
	for _, rule := range rules {
		if rule.TargetName == "" {
			continue
		}
		value, ok := claims.ResolveMatch(identity.Claims, rule.SourcePath, rule.SourceValue, rule.SourceValueIsRegex)
		if !ok {
			continue
		}
		values := value.Strings()
		if rule.TargetValue != "" {
			values = []string{rule.TargetValue}
		}
		if len(values) == 0 {
			continue
		}
		out[rule.TargetName] = resolvedAttribute{values: values, mode: effectiveMode(rule.Mode)}
	}
	return out
}

// userColumns are the attribute names stored on the user record itself;
// every other target name lands in the free-form attribute bag. Name and
// email feed candidate selection at creation time and are never overwritten
// afterwards.
var userColumns = map[string]bool{
	"name":         true,
	"email":        true,
	"first_name":   true,
	"last_name":    true,
	"display_name": true,
	"avatar":       true,
	"cover":        true,
}

func userField(user *iam.User, name string) *string {
	switch name {
	case "first_name":
		return &user.FirstName
	case "last_name":
		return &user.LastName
	case "display_name":
		return &user.DisplayName
	case "avatar":
		return &user.Avatar
	case "cover":
		return &user.Cover
	}
	return nil
}

func paramsField(params *iam.CreateUserParams, name string) *string {
	switch name {
	case "first_name":
		return &params.FirstName
	case "last_name":
		return &params.LastName
	case "display_name":
		return &params.DisplayName
	case "avatar":
		return &params.Avatar
	case "cover":
		return &params.Cover
	}
	return nil
}

// updateUser refreshes the user's mapped attributes on a repeat login. ONCE
// rules leave an already-set value alone; ALWAYS rules overwrite it.
func (m *Manager) updateUser(ctx context.Context, user iam.User, attrs map[string]resolvedAttribute) (iam.User, error) {
	if len(attrs) == 0 {
		return user, nil
	}

	extra, err := m.users.FindUserExtraAttributes(ctx, user.ID)
	if err != nil {
		return iam.User{}, err
	}
	if extra == nil {
		extra = map[string]string{}
	}

	for name, attr := range attrs {
		value := attr.values[0]
		if userColumns[name] {
			field := userField(&user, name)
			if field == nil {
				continue
			}
			if *field != "" && attr.mode == idp.SyncModeOnce {
				continue
			}
			*field = value
		} else {
			if extra[name] != "" && attr.mode == idp.SyncModeOnce {
				continue
			}
			extra[name] = value
		}
	}

	return m.users.SaveUserWithAttributes(ctx, user, extra)
}

// createUser provisions a user for a first login. Candidate usernames come
// from the identity plus any name-targeting rules; candidate emails likewise.
func (m *Manager) createUser(ctx context.Context, provider idp.Provider, identity idp.Identity, attrs map[string]resolvedAttribute) (iam.User, error) {
	params := iam.CreateUserParams{
		RealmID: provider.RealmID,
		Active:  true,
	}
	extra := map[string]string{}
	names := append([]string(nil), identity.Names...)
	emails := append([]string(nil), identity.Emails...)

	for name, attr := range attrs {
		switch {
		case name == "name":
			names = append(names, attr.values...)
		case name == "email":
			emails = append(emails, attr.values...)
		case userColumns[name]:
			if field := paramsField(&params, name); field != nil {
				*field = attr.values[0]
			}
		default:
			extra[name] = attr.values[0]
		}
	}

	params.Email = firstValidEmail(emails)
	return m.createWithUniqueName(ctx, params, extra, validNames(names))
}

// createWithUniqueName walks the candidate names until one is free, then
// falls back to a synthetic name. A user created from a candidate keeps that
// name locked; a synthetic name stays unlocked so the user can pick a real
// one later. The loop is bounded by candidates plus the single fallback.
func (m *Manager) createWithUniqueName(ctx context.Context, params iam.CreateUserParams, extra map[string]string, candidates []string) (iam.User, error) {
	attempts := len(candidates) + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if len(candidates) > 0 {
			params.Name = candidates[0]
			params.NameLocked = true
			candidates = candidates[1:]
		} else {
			params.Name = syntheticName()
			params.NameLocked = false
		}
		if params.DisplayName == "" {
			params.DisplayName = params.Name
		}

		user, err := m.users.CreateUser(ctx, params)
		if err == nil {
			if len(extra) > 0 {
				return m.users.SaveUserWithAttributes(ctx, user, extra)
			}
			return user, nil
		}
		if !errors.IsCode(err, errors.ErrCodeDuplicateName) {
			return iam.User{}, err
		}
		lastErr = err
	}
	return iam.User{}, lastErr
}

// syncRoles replaces the user's direct roles with the set granted by the
// provider's role rules. An empty computed set leaves existing roles alone.
func (m *Manager) syncRoles(ctx context.Context, providerID uuid.UUID, identity idp.Identity, userID uuid.UUID) error {
	rules, err := m.providers.FindRoleMappings(ctx, providerID)
	if err != nil {
		return err
	}

	ids := make([]uuid.UUID, 0, len(rules))
	for _, rule := range rules {
		if ruleFires(identity, rule.ClaimPath, rule.ClaimValue, rule.ValueIsRegex, rule.Mode) {
			ids = append(ids, rule.RoleID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return m.store.ReplaceUserRoles(ctx, userID, ids)
}

// syncPermissions replaces the user's direct permissions with the set
// granted by the provider's permission rules. An empty computed set leaves
// existing permissions alone.
func (m *Manager) syncPermissions(ctx context.Context, providerID uuid.UUID, identity idp.Identity, userID uuid.UUID) error {
	rules, err := m.providers.FindPermissionMappings(ctx, providerID)
	if err != nil {
		return err
	}

	ids := make([]uuid.UUID, 0, len(rules))
	for _, rule := range rules {
		if ruleFires(identity, rule.ClaimPath, rule.ClaimValue, rule.ValueIsRegex, rule.Mode) {
			ids = append(ids, rule.PermissionID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return m.store.ReplaceUserPermissions(ctx, userID, ids)
}

// ruleFires decides whether a grant rule applies for this login. Rules
// without a complete claim filter are unconditional. ONCE rules also fire
// when the claim no longer matches, so a grant applied at first login is not
// revoked by a later claim change.
func ruleFires(identity idp.Identity, path, match string, isRegex bool, mode idp.SyncMode) bool {
	if path == "" || match == "" {
		return true
	}
	value, ok := claims.ResolveMatch(identity.Claims, path, match, isRegex)
	if ok && !value.Empty() {
		return true
	}
	return effectiveMode(mode) == idp.SyncModeOnce
}

func effectiveMode(mode idp.SyncMode) idp.SyncMode {
	if mode == "" {
		return idp.SyncModeAlways
	}
	return mode
}

func validNames(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, name := range candidates {
		if iam.IsValidUserName(name) {
			out = append(out, name)
		}
	}
	return out
}

func firstValidEmail(candidates []string) string {
	for _, email := range candidates {
		if iam.IsValidUserEmail(email) {
			return email
		}
	}
	return ""
}

func firstOf(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[0]
}

func syntheticName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:syntheticNameLength]
}
