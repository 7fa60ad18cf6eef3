package security

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newstrader/src/model"
)

type memRecords struct {
	mu   sync.Mutex
	rows map[string]model.EncryptedSecret
}

func (m *memRecords) FindByRef(_ context.Context, ref string) (*model.EncryptedSecret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[ref]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *memRecords) Upsert(_ context.Context, s *model.EncryptedSecret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = map[string]model.EncryptedSecret{}
	}
	m.rows[s.Ref] = *s
	return nil
}

func newStore(t *testing.T) (*DBSecretStore, *memRecords) {
	t.Helper()
	records := &memRecords{}
	store, err := NewDBSecretStoreFromConfig(records, GetConfig())
	require.NoError(t, err)
	return store, records
}

func TestSecretRoundTrip(t *testing.T) {
	store, records := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "kraken/main", `{"api_key":"k","api_secret":"s"}`))
	assert.NotContains(t, string(records.rows["kraken/main"].Ciphertext), "api_secret")

	got, err := store.Get(ctx, "kraken/main")
	require.NoError(t, err)
	assert.Equal(t, `{"api_key":"k","api_secret":"s"}`, got)
}

func TestSecretMissingAndEmptyRef(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.Error(t, store.Put(context.Background(), "", "x"))
}

func TestSecretBoundToReference(t *testing.T) {
	store, records := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "a", "secret-a"))

	row := records.rows["a"]
	row.Ref = "b"
	records.rows["b"] = row

	_, err := store.Get(ctx, "b")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-a")
}

func TestConfigKeyValidation(t *testing.T) {
	_, err := Config{ExchangeCRKey: "not base64!"}.Key()
	assert.Error(t, err)
	_, err = Config{ExchangeCRKey: "c2hvcnQ="}.Key()
	assert.Error(t, err)
	key, err := GetConfig().Key()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}
