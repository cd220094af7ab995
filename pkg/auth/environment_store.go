package auth

import "os"

// TokenEnvVar is the environment variable carrying the access token
const TokenEnvVar = "MAPGRAB_ACCESS_TOKEN"

// EnvironmentStore implements TokenStore using environment variables.
// Read-only: storing and deleting are not supported.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based token store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(token string) error {
	return ErrStoreUnavailable
}

// Retrieve gets the token from the environment
func (e *EnvironmentStore) Retrieve() (string, error) {
	token := os.Getenv(TokenEnvVar)
	if token == "" {
		return "", ErrTokenNotFound
	}
	return token, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete() error {
	return ErrStoreUnavailable
}

// Exists checks if the environment carries a token
func (e *EnvironmentStore) Exists() bool {
	return os.Getenv(TokenEnvVar) != ""
}
