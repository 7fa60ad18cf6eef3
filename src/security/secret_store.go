package security

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"newstrader/src/model"
)

var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves credential references. Plaintext never leaves the caller.
type SecretStore interface {
	Get(ctx context.Context, ref string) (string, error)
	Put(ctx context.Context, ref, secret string) error
}

// SecretRecords persists sealed secrets.
type SecretRecords interface {
	FindByRef(ctx context.Context, ref string) (*model.EncryptedSecret, error)
	Upsert(ctx context.Context, secret *model.EncryptedSecret) error
}

// DBSecretStore seals secrets with XChaCha20-Poly1305. The reference is bound
// as additional data so a row cannot be swapped onto another reference.
type DBSecretStore struct {
	records SecretRecords
	aead    cipher.AEAD
}

func NewDBSecretStore(records SecretRecords, key []byte) (*DBSecretStore, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init secret cipher: %w", err)
	}
	return &DBSecretStore{records: records, aead: aead}, nil
}

// NewDBSecretStoreFromConfig reads the key from EXCHANGE_CREDENTIALS_KEY.
func NewDBSecretStoreFromConfig(records SecretRecords, cfg Config) (*DBSecretStore, error) {
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}
	return NewDBSecretStore(records, key)
}

func (s *DBSecretStore) Put(ctx context.Context, ref, secret string) error {
	if ref == "" {
		return errors.New("put secret: empty reference")
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("put secret %s: nonce: %w", ref, err)
	}
	sealed := s.aead.Seal(nil, nonce, []byte(secret), []byte(ref))
	if err := s.records.Upsert(ctx, &model.EncryptedSecret{Ref: ref, Nonce: nonce, Ciphertext: sealed}); err != nil {
		return fmt.Errorf("put secret %s: %w", ref, err)
	}
	return nil
}

func (s *DBSecretStore) Get(ctx context.Context, ref string) (string, error) {
	row, err := s.records.FindByRef(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", ref, err)
	}
	if row == nil {
		return "", fmt.Errorf("get secret %s: %w", ref, ErrSecretNotFound)
	}
	plain, err := s.aead.Open(nil, row.Nonce, row.Ciphertext, []byte(ref))
	if err != nil {
		return "", fmt.Errorf("get secret %s: decrypt failed", ref)
	}
	return string(plain), nil
}
