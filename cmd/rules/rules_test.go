package rules

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newstrader/src/database"
	"newstrader/src/model"
	"newstrader/src/repository"
)

func newStore(t *testing.T) *repository.FilterRuleRepository {
	t.Helper()
	db, err := database.Open(database.Config{Driver: database.DriverSQLite, SQLitePath: "file::memory:", GormLogLevel: 1})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.FilterRule{}))
	return repository.NewFilterRuleRepository().WithDB(db)
}

const rulesYAML = `rules:
  - kind: keyword
    pattern: foxify
    action: sound
    sound_id: pause
  - kind: keyword
    pattern: binance will list
    action: ignore
`

func TestImportReplacesRulesAndExportRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Create(ctx, &model.FilterRule{Kind: model.FilterKindKeyword, Pattern: "old", Action: model.ActionIgnore}))

	n, err := Import(ctx, store, strings.NewReader(rulesYAML))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stored, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "foxify", stored[0].Pattern)
	assert.Equal(t, "pause", stored[0].SoundID)

	var out bytes.Buffer
	require.NoError(t, Export(ctx, store, &out))
	assert.Contains(t, out.String(), "pattern: foxify")
	assert.Contains(t, out.String(), "sound_id: pause")
}

func TestImportInvalidFileKeepsRules(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Create(ctx, &model.FilterRule{Kind: model.FilterKindKeyword, Pattern: "keep", Action: model.ActionIgnore}))

	_, err := Import(ctx, store, strings.NewReader("rules:\n  - kind: keyword\n    pattern: x\n    action: coin\n"))
	require.Error(t, err)

	stored, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "keep", stored[0].Pattern)
}
