package idp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/go-ldap/ldap/v3"

	"github.com/tendant/realm-idm/pkg/errors"
)

const defaultUserFilter = "(|(uid=%s)(sAMAccountName=%s))"

var (
	defaultNameAttrs  = []string{"uid", "cn"}
	defaultEmailAttrs = []string{"mail"}
)

// LDAPFlow authenticates credentials against one LDAP directory.
type LDAPFlow struct {
	provider Provider
	options  LDAPOptions
}

type ldapSession struct {
	conn  *ldap.Conn
	entry *ldap.Entry
}

// NewLDAPFlow creates a credential flow for an LDAP provider
func NewLDAPFlow(provider Provider) (*LDAPFlow, error) {
	if provider.LDAP == nil {
		return nil, fmt.Errorf("provider %s has no LDAP options", provider.Name)
	}
	return &LDAPFlow{provider: provider, options: *provider.LDAP}, nil
}

// Bind opens a directory connection, locates the user entry and binds with
// the supplied credentials. Any authentication or lookup failure is
// ErrCodeBindFailed; the connection is closed before returning an error so
// the caller only has to Unbind successful sessions.
func (f *LDAPFlow) Bind(ctx context.Context, username, password string) (Session, error) {
	conn, err := ldap.DialURL(f.options.URL)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeBindFailed, "failed to dial directory %s", f.options.URL)
	}

	if f.options.StartTLS {
		tlsConfig := &tls.Config{}
		if u, err := url.Parse(f.options.URL); err == nil {
			tlsConfig.ServerName = u.Hostname()
		}
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, errors.ErrCodeBindFailed, "failed to start TLS")
		}
	}

	if f.options.BindDN != "" {
		if err := conn.Bind(f.options.BindDN, f.options.BindPassword); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, errors.ErrCodeBindFailed, "service bind failed")
		}
	}

	entry, err := f.searchUser(conn, username)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := conn.Bind(entry.DN, password); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, errors.ErrCodeBindFailed, "user bind failed")
	}

	return &ldapSession{conn: conn, entry: entry}, nil
}

func (f *LDAPFlow) searchUser(conn *ldap.Conn, username string) (*ldap.Entry, error) {
	filter := f.options.UserFilter
	if filter == "" {
		filter = defaultUserFilter
	}
	escaped := ldap.EscapeFilter(username)
	// The filter may reference the login name more than once.
	rendered := fmt.Sprintf(filter, escaped, escaped)

	result, err := conn.Search(ldap.NewSearchRequest(
		f.options.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 2, 0, false,
		rendered,
		nil,
		nil,
	))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBindFailed, "directory search failed")
	}
	if len(result.Entries) != 1 {
		return nil, errors.Newf(errors.ErrCodeBindFailed, "directory search matched %d entries", len(result.Entries))
	}
	return result.Entries[0], nil
}

// ResolveIdentity maps the bound entry's attributes onto an identity.
func (f *LDAPFlow) ResolveIdentity(ctx context.Context, session Session) (*Identity, error) {
	s, ok := session.(*ldapSession)
	if !ok || s.entry == nil {
		return nil, fmt.Errorf("invalid LDAP session")
	}

	identity := &Identity{
		Claims: make(map[string]interface{}),
	}

	for _, attr := range s.entry.Attributes {
		if len(attr.Values) == 1 {
			identity.Claims[attr.Name] = attr.Values[0]
			continue
		}
		values := make([]interface{}, len(attr.Values))
		for i, v := range attr.Values {
			values[i] = v
		}
		identity.Claims[attr.Name] = values
	}

	idAttr := f.options.IDAttribute
	if idAttr != "" {
		identity.ID = s.entry.GetAttributeValue(idAttr)
	}
	if identity.ID == "" {
		identity.ID = s.entry.DN
	}

	nameAttrs := f.options.NameAttrs
	if len(nameAttrs) == 0 {
		nameAttrs = defaultNameAttrs
	}
	for _, attr := range nameAttrs {
		identity.Names = append(identity.Names, s.entry.GetAttributeValues(attr)...)
	}

	emailAttrs := f.options.EmailAttrs
	if len(emailAttrs) == 0 {
		emailAttrs = defaultEmailAttrs
	}
	for _, attr := range emailAttrs {
		identity.Emails = append(identity.Emails, s.entry.GetAttributeValues(attr)...)
	}

	return identity, nil
}

// Unbind releases the directory connection.
func (f *LDAPFlow) Unbind(session Session) {
	s, ok := session.(*ldapSession)
	if !ok || s.conn == nil {
		return
	}
	if err := s.conn.Unbind(); err != nil {
		slog.Warn("Failed to unbind directory connection", "provider", f.provider.Name, "err", err)
		s.conn.Close()
	}
}
