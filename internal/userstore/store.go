package userstore

import (
	"errors"

	"github.com/npezzotti/go-chatserver/internal/types"
)

var (
	// ErrUserExists is returned by Register on a username collision.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidCredentials is returned by Authenticate for an unknown user
	// or a wrong password. Callers must not be able to tell which.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Store is the credential backend consumed by the chat server.
type Store interface {
	Register(username, password string) error
	Authenticate(username, password string) (types.User, error)
	Close() error
}
