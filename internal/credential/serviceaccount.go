// Package credential loads service-account credentials and turns them into
// OAuth2 access tokens for the realtime database REST API.
package credential

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenURI is Google's OAuth2 token endpoint.
const DefaultTokenURI = "https://oauth2.googleapis.com/token"

// Credential errors.
var (
	ErrNotFound = errors.New("credential file not found")
	ErrInvalid  = errors.New("invalid credential")
)

// ServiceAccount is a service-account key as downloaded from the cloud
// console.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	ClientID     string `json:"client_id"`
	TokenURI     string `json:"token_uri"`

	key *rsa.PrivateKey
}

// Load reads and parses the service-account file at path.
func Load(path string) (*ServiceAccount, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no path configured", ErrNotFound)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	sa, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sa, nil
}

// Parse parses a service-account key from JSON.
func Parse(data []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, err.Error())
	}

	if sa.Type != "" && sa.Type != "service_account" {
		return nil, fmt.Errorf("%w: unexpected type %q", ErrInvalid, sa.Type)
	}
	if sa.ClientEmail == "" {
		return nil, fmt.Errorf("%w: missing client_email", ErrInvalid)
	}
	if sa.PrivateKey == "" {
		return nil, fmt.Errorf("%w: missing private_key", ErrInvalid)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("%w: private_key: %s", ErrInvalid, err.Error())
	}
	sa.key = key

	if sa.TokenURI == "" {
		sa.TokenURI = DefaultTokenURI
	}

	return &sa, nil
}
