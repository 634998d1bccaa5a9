// Package encryption seals project credentials at rest with fernet tokens.
package encryption

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/framer-cd/framer/domain"
)

// Credentials never expire once sealed
const tokenTTL = 100 * 365 * 24 * time.Hour

// Sealer encrypts and decrypts secrets with a single fernet key
type Sealer struct {
	key *fernet.Key
}

// NewSealer creates a sealer from an encoded fernet key
func NewSealer(encodedKey string) (*Sealer, error) {
	if encodedKey == "" {
		return nil, fmt.Errorf("encryption key cannot be empty")
	}

	key, err := fernet.DecodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	return &Sealer{key: key}, nil
}

// Seal returns a base64 token for plaintext; empty input stays empty
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	token, err := fernet.EncryptAndSign([]byte(plaintext), s.key)
	if err != nil {
		return "", fmt.Errorf("encryption failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(token), nil
}

// Open reverses Seal
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	token, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("invalid token format: %w", err)
	}

	plaintext := fernet.VerifyAndDecrypt(token, tokenTTL, []*fernet.Key{s.key})
	if plaintext == nil {
		return "", fmt.Errorf("failed to decrypt token: invalid or expired")
	}
	return string(plaintext), nil
}

type sealedGitAuth struct {
	HTTP *domain.GitHTTPAuthConfig `json:"http,omitempty"`
	SSH  *domain.GitSSHAuthConfig  `json:"ssh,omitempty"`
}

// SealGitAuth serializes and seals git credentials. A nil or empty config
// yields empty strings so the columns stay NULL-equivalent.
func (s *Sealer) SealGitAuth(auth *domain.GitAuthConfig) (authType string, sealed string, err error) {
	if auth == nil || (auth.HTTPAuth == nil && auth.SSHAuth == nil) {
		return "", "", nil
	}

	payload := sealedGitAuth{HTTP: auth.HTTPAuth, SSH: auth.SSHAuth}
	kind := domain.GitAuthTypeHTTP
	if auth.SSHAuth != nil {
		kind = domain.GitAuthTypeSSH
		payload.HTTP = nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("failed to serialize credentials: %w", err)
	}

	sealed, err = s.Seal(string(data))
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	return kind.String(), sealed, nil
}

// OpenGitAuth reverses SealGitAuth
func (s *Sealer) OpenGitAuth(authType, sealed string) (*domain.GitAuthConfig, error) {
	if authType == "" || sealed == "" {
		return nil, nil
	}

	kind, err := domain.ParseGitAuthType(authType)
	if err != nil {
		return nil, err
	}

	data, err := s.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var payload sealedGitAuth
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("failed to deserialize credentials: %w", err)
	}

	switch kind {
	case domain.GitAuthTypeSSH:
		return &domain.GitAuthConfig{SSHAuth: payload.SSH}, nil
	default:
		return &domain.GitAuthConfig{HTTPAuth: payload.HTTP}, nil
	}
}
