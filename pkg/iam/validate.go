package iam

import (
	"net/mail"
	"regexp"
)

var userNamePattern = regexp.MustCompile(`^[a-zA-Z0-9-_.]{3,128}$`)

// IsValidUserName reports whether a federated name candidate has a valid
// username shape. Candidates failing this check are discarded during
// just-in-time account creation.
func IsValidUserName(name string) bool {
	return userNamePattern.MatchString(name)
}

// IsValidUserEmail reports whether a federated email candidate has a valid
// address shape.
func IsValidUserEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
