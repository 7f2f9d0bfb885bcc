package iam

import (
	"time"

	"github.com/google/uuid"
)

// Realm is the isolation boundary for resources. Principals of the master
// realm may act across all realms.
type Realm struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Master    bool      `json:"master"`
	CreatedAt time.Time `json:"created_at"`
}

// SubjectKind discriminates the principal kind carried in token payloads.
type SubjectKind string

const (
	SubjectKindUser  SubjectKind = "user"
	SubjectKindRobot SubjectKind = "robot"
)

// User represents a user principal. Name is unique within its realm.
type User struct {
	ID             uuid.UUID  `json:"id"`
	RealmID        uuid.UUID  `json:"realm_id"`
	Name           string     `json:"name"`
	NameLocked     bool       `json:"name_locked"`
	Email          string     `json:"email,omitempty"`
	DisplayName    string     `json:"display_name,omitempty"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	Avatar         string     `json:"avatar,omitempty"`
	Cover          string     `json:"cover,omitempty"`
	Active         bool       `json:"active"`
	PasswordHash   string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	LastModifiedAt time.Time  `json:"last_modified_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Robot represents a machine principal authenticating with id and secret.
type Robot struct {
	ID         uuid.UUID `json:"id"`
	RealmID    uuid.UUID `json:"realm_id"`
	Name       string    `json:"name"`
	Active     bool      `json:"active"`
	SecretHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateUserParams contains parameters for creating a new user
type CreateUserParams struct {
	RealmID      uuid.UUID `json:"realm_id"`
	Name         string    `json:"name"`
	NameLocked   bool      `json:"name_locked"`
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	Cover        string    `json:"cover,omitempty"`
	Active       bool      `json:"active"`
	PasswordHash string    `json:"-"`
}

// CreateRobotParams contains parameters for creating a new robot
type CreateRobotParams struct {
	RealmID    uuid.UUID `json:"realm_id"`
	Name       string    `json:"name"`
	Active     bool      `json:"active"`
	SecretHash string    `json:"-"`
}
