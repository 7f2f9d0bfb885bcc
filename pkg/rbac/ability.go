package rbac

import (
	"github.com/google/uuid"

	"github.com/tendant/realm-idm/pkg/iam"
)

// Ability is one granted capability in a principal's resolved capability set.
type Ability struct {
	PermissionID uuid.UUID  `json:"permission_id"`
	Name         string     `json:"name"`
	RealmID      *uuid.UUID `json:"realm_id,omitempty"`
	Target       *string    `json:"target,omitempty"`
}

// AbilitySet is the in-memory capability set of a principal, built from the
// pre-merged permission list the store computes. It answers "has permission
// X [for target T]" queries for one request; it holds no live references to
// storage.
type AbilitySet struct {
	byName map[string]Ability
}

// NewAbilitySet builds a capability set from granted permissions. When the
// same permission name is granted more than once the first record wins (set
// semantics, no ordering guarantee beyond that).
func NewAbilitySet(permissions []Permission) *AbilitySet {
	set := &AbilitySet{byName: make(map[string]Ability, len(permissions))}
	for _, permission := range permissions {
		if _, ok := set.byName[permission.Name]; ok {
			continue
		}
		set.byName[permission.Name] = Ability{
			PermissionID: permission.ID,
			Name:         permission.Name,
			RealmID:      permission.RealmID,
			Target:       permission.Target,
		}
	}
	return set
}

// Has reports whether the permission is granted.
func (s *AbilitySet) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Find returns the ability record for the permission, including its target
// constraint, or false if it is not granted.
func (s *AbilitySet) Find(name string) (Ability, bool) {
	ability, ok := s.byName[name]
	return ability, ok
}

// CanWriteTarget reports whether a write against a resource with the given
// target is authorized: the permission must be granted and, if it carries a
// target constraint, the constraint must equal the resource target exactly.
// No wildcard matching.
func (s *AbilitySet) CanWriteTarget(name, resourceTarget string) bool {
	ability, ok := s.byName[name]
	if !ok {
		return false
	}
	if ability.Target == nil {
		return true
	}
	return *ability.Target == resourceTarget
}

// Abilities returns all granted abilities.
func (s *AbilitySet) Abilities() []Ability {
	out := make([]Ability, 0, len(s.byName))
	for _, ability := range s.byName {
		out = append(out, ability)
	}
	return out
}

// IsPermittedForResourceRealm enforces the realm boundary rule: a principal
// acting out of the master realm may touch resources of any realm, everyone
// else only resources of their own realm. An absent acting realm is never
// permitted.
func IsPermittedForResourceRealm(acting *iam.Realm, resourceRealmID uuid.UUID) bool {
	if acting == nil {
		return false
	}
	if acting.Master {
		return true
	}
	return acting.ID == resourceRealmID
}
