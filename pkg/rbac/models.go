package rbac

import (
	"github.com/google/uuid"
)

// Role is a named bundle of permissions scoped to a realm. A nil RealmID
// marks a built-in role visible in every realm.
type Role struct {
	ID      uuid.UUID  `json:"id"`
	RealmID *uuid.UUID `json:"realm_id,omitempty"`
	Name    string     `json:"name"`
}

// Permission is a named capability scoped to a realm. A nil RealmID marks a
// built-in permission. Target optionally narrows the permission to a
// resource subset; a write is authorized only when the stored target equals
// the resource's own target exactly.
type Permission struct {
	ID      uuid.UUID  `json:"id"`
	RealmID *uuid.UUID `json:"realm_id,omitempty"`
	Name    string     `json:"name"`
	Target  *string    `json:"target,omitempty"`
}

// CreateRoleParams contains parameters for creating a role
type CreateRoleParams struct {
	RealmID *uuid.UUID `json:"realm_id,omitempty"`
	Name    string     `json:"name"`
}

// CreatePermissionParams contains parameters for creating a permission
type CreatePermissionParams struct {
	RealmID *uuid.UUID `json:"realm_id,omitempty"`
	Name    string     `json:"name"`
	Target  *string    `json:"target,omitempty"`
}
