package docstore

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardfile/internal/card"
	"github.com/roach88/cardfile/internal/schema"
	"github.com/roach88/cardfile/internal/storeerr"
)

var _ KeyedValidator = (*schema.Validator)(nil)

// writeForeign stores c under key with extra top-level members the Card
// type does not model.
func writeForeign(t *testing.T, env testEnv, key string, c card.Card, extra map[string]any) {
	t.Helper()
	data, err := json.Marshal(c)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	for k, v := range extra {
		doc[k] = v
	}
	data, err = json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(env.store.Path(key), data, 0o644))
}

func TestEdit_KeepsUnmodelledMembers(t *testing.T) {
	env := newTestStore(t)
	writeForeign(t, env, "0001", testCard(1, card.CityMoscow), map[string]any{"source_chat": "-100"})

	var c card.Card
	require.NoError(t, env.store.Edit("0001", &c, func() error {
		c.Fio = "Анна"
		return nil
	}))

	data, err := os.ReadFile(env.store.Path("0001"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "Анна", doc["fio"])
	assert.Equal(t, "-100", doc["source_chat"])
}

func TestEdit_NoChangeIsByteIdentical(t *testing.T) {
	env := newTestStore(t)
	require.NoError(t, env.store.Write("0001", testCard(1, card.CityOther)))
	before, err := os.ReadFile(env.store.Path("0001"))
	require.NoError(t, err)

	var c card.Card
	require.NoError(t, env.store.Edit("0001", &c, func() error { return nil }))

	after, err := os.ReadFile(env.store.Path("0001"))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestEdit_CallbackErrorWritesNothing(t *testing.T) {
	env := newTestStore(t)
	require.NoError(t, env.store.Write("0001", testCard(1, card.CityOther)))
	before, err := os.ReadFile(env.store.Path("0001"))
	require.NoError(t, err)

	boom := errors.New("boom")
	var c card.Card
	err = env.store.Edit("0001", &c, func() error {
		c.Fio = "never"
		return boom
	})
	assert.Same(t, boom, err)

	after, err := os.ReadFile(env.store.Path("0001"))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestEdit_Missing(t *testing.T) {
	env := newTestStore(t)
	var c card.Card
	err := env.store.Edit("0009", &c, func() error { return nil })
	assert.True(t, storeerr.IsNotFound(err))
}

func TestWrite_NumberMustMatchKey(t *testing.T) {
	env := newTestStore(t)

	err := env.store.Write("0002", testCard(1, card.CityMoscow))
	require.Error(t, err)
	assert.True(t, storeerr.IsValidation(err))
	assert.NoFileExists(t, env.store.Path("0002"))
}

func TestRead_NumberMustMatchKey(t *testing.T) {
	env := newTestStore(t)
	require.NoError(t, env.store.Write("0001", testCard(1, card.CityMoscow)))
	data, err := os.ReadFile(env.store.Path("0001"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(env.store.Path("0002"), data, 0o644))

	var c card.Card
	err = env.store.Read("0002", &c)
	assert.True(t, storeerr.IsNotFound(err))
	assert.True(t, storeerr.IsValidation(errors.Unwrap(err)))

	lines := env.journalLines(t)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Invalid card 0002")
	assert.Contains(t, lines[0], `does not match key`)
}
