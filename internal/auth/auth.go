// Package auth defines the collaborator contracts the backplane consumes:
// an authenticator resolving transport credentials to users and an
// authorizer answering per-channel access.
package auth

import (
	"context"
	"errors"
)

// ErrForbidden is returned when a credential does not resolve to a user.
var ErrForbidden = errors.New("forbidden")

// User is the identity record the authenticator resolves a caller to.
type User struct {
	ID                 int64  `json:"id"`
	Email              string `json:"email"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	ProfileImageURL    string `json:"profile_image_url"`
	ExternalProfileURL string `json:"external_profile_url"`
	Superuser          bool   `json:"-"`
}

// Authenticator maps a transport-level credential to a user.
type Authenticator interface {
	// Resolve returns the user for a credential, or ErrForbidden.
	Resolve(ctx context.Context, credential string) (*User, error)
}

// Authorizer answers whether a user may observe a channel.
// Superusers bypass all checks; the caller enforces that.
type Authorizer interface {
	Permits(ctx context.Context, user *User, channel string) bool
}
