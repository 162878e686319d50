package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"

	pkgerrors "github.com/reclamflow/feed/pkg/errors"
)

const (
	keyringService  = "reclamflow"
	accessTokenItem = "access_token"
)

// TokenSource yields the bearer token of the current session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a token handed over through the environment or a flag.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	token := strings.TrimSpace(string(s))
	if token == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "access token missing")
	}
	return token, nil
}

// KeyringToken reads the token saved in the operating system keyring.
type KeyringToken struct {
	ring keyring.Keyring
}

// OpenKeyringToken opens the keyring with the platform backends and an
// encrypted file fallback rooted at fileDir.
func OpenKeyringToken(fileDir string) (*KeyringToken, error) {
	if fileDir == "" {
		fileDir = "~/.config/reclamflow/credentials"
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("reclamflow-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringToken(ring), nil
}

func NewKeyringToken(ring keyring.Keyring) *KeyringToken {
	return &KeyringToken{ring: ring}
}

func (k *KeyringToken) Token(context.Context) (string, error) {
	item, err := k.ring.Get(accessTokenItem)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "no access token saved in keyring")
	}
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading keyring")
	}
	token := strings.TrimSpace(string(item.Data))
	if token == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "no access token saved in keyring")
	}
	return token, nil
}

// Save stores the token so later sessions can pick it up.
func (k *KeyringToken) Save(token string) error {
	err := k.ring.Set(keyring.Item{
		Key:   accessTokenItem,
		Data:  []byte(strings.TrimSpace(token)),
		Label: "Reclamflow access token",
	})
	if err != nil {
		return fmt.Errorf("saving access token: %w", err)
	}
	return nil
}
