// Package federation maps verified external identities onto local users.
//
// A federation pass is the just-in-time provisioning step between an
// identity provider flow and token issuance: it links the external
// identity to a local user through a provider account, applies the
// provider's attribute mapping rules, and synchronizes the roles and
// permissions the provider governs.
package federation
