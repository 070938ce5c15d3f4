package roles

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingConfiguration indicates the guild id or verification role is unset.
	ErrMissingConfiguration = errors.New("roles: missing configuration")
	// ErrEntityNotFound indicates the guild, role or member does not exist.
	ErrEntityNotFound = errors.New("roles: entity not found")
	// ErrProviderCallFailed indicates a network or permission failure from the platform.
	ErrProviderCallFailed = errors.New("roles: provider call failed")
)

// Entity names the missing object in a NotFoundError.
type Entity string

const (
	EntityGuild  Entity = "guild"
	EntityRole   Entity = "role"
	EntityMember Entity = "member"
)

// NotFoundError names which lookup failed.
type NotFoundError struct {
	Entity Entity
	Name   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("roles: %s %q not found", e.Entity, e.Name)
}

// Is matches ErrEntityNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrEntityNotFound }

func providerError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProviderCallFailed, op, err)
}
