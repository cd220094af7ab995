// Package auth manages the Mapillary access token, preferring the system
// keychain and falling back to the environment.
package auth

import "errors"

var (
	// ErrTokenNotFound is returned when no token is stored
	ErrTokenNotFound = errors.New("no access token found")

	// ErrStoreUnavailable is returned when a store cannot perform the operation
	ErrStoreUnavailable = errors.New("token store unavailable")

	// ErrInvalidToken is returned for empty or malformed tokens
	ErrInvalidToken = errors.New("invalid access token")
)

// TokenStore is the interface for storing and retrieving the access token
type TokenStore interface {
	// Store saves the access token
	Store(token string) error

	// Retrieve gets the stored access token
	Retrieve() (string, error)

	// Delete removes the stored access token
	Delete() error

	// Exists checks if a token is stored
	Exists() bool
}

// Manager handles token storage with fallback mechanisms
type Manager struct {
	stores []TokenStore
}

// NewManager creates a token manager with the available storage backends,
// most secure first.
func NewManager() *Manager {
	var stores []TokenStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}
	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}
}

// Store saves the token in the first store that accepts it.
func (m *Manager) Store(token string) error {
	if token == "" {
		return ErrInvalidToken
	}

	var lastErr error = ErrStoreUnavailable
	for _, store := range m.stores {
		if err := store.Store(token); err == nil {
			return nil
		} else if !errors.Is(err, ErrStoreUnavailable) {
			lastErr = err
		}
	}
	return lastErr
}

// Retrieve returns the token from the first store that has one.
func (m *Manager) Retrieve() (string, error) {
	for _, store := range m.stores {
		if token, err := store.Retrieve(); err == nil && token != "" {
			return token, nil
		}
	}
	return "", ErrTokenNotFound
}

// Delete removes the token from all stores that hold one.
func (m *Manager) Delete() error {
	deleted := false
	for _, store := range m.stores {
		if !store.Exists() {
			continue
		}
		if err := store.Delete(); err == nil {
			deleted = true
		}
	}
	if !deleted {
		return ErrTokenNotFound
	}
	return nil
}

// Exists reports whether any store holds a token.
func (m *Manager) Exists() bool {
	for _, store := range m.stores {
		if store.Exists() {
			return true
		}
	}
	return false
}
