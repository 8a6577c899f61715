package docstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardfile/internal/card"
	"github.com/roach88/cardfile/internal/schema"
	"github.com/roach88/cardfile/internal/storeerr"
)

type testEnv struct {
	store   *Store
	journal string
}

func newTestStore(t *testing.T) testEnv {
	t.Helper()
	root := t.TempDir()
	journalPath := filepath.Join(root, "logs", "errors.log")
	j, err := OpenJournal(journalPath)
	require.NoError(t, err)

	s, err := Open(filepath.Join(root, "cards"), schema.MustNew(), WithJournal(j))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return testEnv{store: s, journal: journalPath}
}

func (e testEnv) journalLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(e.journal)
	require.NoError(t, err)
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func testCard(id int64, city card.City) card.Card {
	number, _ := card.FormatNumber(id)
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return card.Card{
		ID:          id,
		Number:      number,
		City:        city,
		AccountMeta: card.NewAccountMeta(500 + id),
		Status:      card.StatusCitySelected,
		Decision:    card.DecisionPending,
		History: []card.HistoryEntry{
			card.NewHistoryEntryAt(ts, card.SourceSystem, card.TypeCommand, "card created", nil),
		},
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	env := newTestStore(t)
	want := testCard(1, card.CityMoscow)
	want.Fio = "Пётр Петров"
	want.History = append(want.History, card.HistoryEntry{
		TS: "2025-01-02T03:05:00.000000Z", Source: card.SourceUser, Type: card.TypeVideo,
		Text: "clip", Meta: card.Meta{"message_id": float64(42)},
	})

	require.NoError(t, env.store.Write("0001", want))

	var got card.Card
	require.NoError(t, env.store.Read("0001", &got))
	assert.Equal(t, want, got)
}

func TestWrite_KeepsUnicodeReadable(t *testing.T) {
	env := newTestStore(t)
	c := testCard(1, card.CityOther)
	c.Extra = "<анекдот> & ещё"
	require.NoError(t, env.store.Write("0001", c))

	raw, err := os.ReadFile(env.store.Path("0001"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"city": "Не Москва"`)
	assert.Contains(t, string(raw), `<анекдот> & ещё`)
}

func TestWrite_InvalidLeavesPreviousContent(t *testing.T) {
	env := newTestStore(t)
	good := testCard(1, card.CityMoscow)
	require.NoError(t, env.store.Write("0001", good))
	before, err := os.ReadFile(env.store.Path("0001"))
	require.NoError(t, err)

	bad := good
	bad.City = "Paris"
	err = env.store.Write("0001", bad)
	require.Error(t, err)
	assert.True(t, storeerr.IsValidation(err), "got %v", err)

	after, err := os.ReadFile(env.store.Path("0001"))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	keys, err := env.store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001"}, keys)
	entries, err := os.ReadDir(env.store.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be removed")
}

func TestWrite_InvalidWithoutPrevious(t *testing.T) {
	env := newTestStore(t)
	bad := testCard(2, card.CityMoscow)
	bad.Number = "2"

	err := env.store.Write("0002", bad)
	assert.True(t, storeerr.IsValidation(err))

	var got card.Card
	err = env.store.Read("0002", &got)
	assert.True(t, storeerr.IsNotFound(err))
}

func TestWrite_UnencodableValue(t *testing.T) {
	env := newTestStore(t)
	err := env.store.Write("0001", map[string]any{"c": make(chan int)})
	require.Error(t, err)
	assert.True(t, storeerr.IsValidation(err))
}

func TestWrite_IOFailure(t *testing.T) {
	env := newTestStore(t)
	require.NoError(t, os.Mkdir(env.store.Path("0001"), 0o755))

	err := env.store.Write("0001", testCard(1, card.CityMoscow))
	require.Error(t, err)
	assert.True(t, storeerr.IsIO(err), "got %v", err)
}

func TestRead_Missing(t *testing.T) {
	env := newTestStore(t)
	var got card.Card
	err := env.store.Read("0404", &got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storeerr.ErrNotFound))
	assert.Empty(t, env.journalLines(t), "absent keys are not journaled")
}

var journalLine = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6}Z - Invalid card 0002: .+$`)

func TestRead_CorruptJSONIsJournaled(t *testing.T) {
	env := newTestStore(t)
	require.NoError(t, os.WriteFile(env.store.Path("0002"), []byte(`{"id": 2, "number": `), 0o644))

	var got card.Card
	err := env.store.Read("0002", &got)
	require.Error(t, err)
	assert.True(t, storeerr.IsNotFound(err))

	lines := env.journalLines(t)
	require.Len(t, lines, 1)
	assert.Regexp(t, journalLine, lines[0])
	assert.Contains(t, lines[0], "invalid JSON")
}

func TestRead_SchemaViolationIsJournaled(t *testing.T) {
	env := newTestStore(t)
	doc := `{"id": 2, "number": "0002", "city": "Москва", "fio": "", "account_meta": {},
		"extra": "", "status": "new", "decision": "pending", "history": []}`
	require.NoError(t, os.WriteFile(env.store.Path("0002"), []byte(doc), 0o644))

	_, err := env.store.ReadRaw("0002")
	require.Error(t, err)
	assert.True(t, storeerr.IsNotFound(err))

	var se *storeerr.Error
	require.True(t, errors.As(errors.Unwrap(err), &se))
	assert.Equal(t, storeerr.CodeValidation, se.Code)
	assert.Contains(t, se.Detail, "user_id")

	lines := env.journalLines(t)
	require.Len(t, lines, 1)
	assert.Regexp(t, journalLine, lines[0])
}

func TestRead_InvalidKey(t *testing.T) {
	env := newTestStore(t)
	for _, key := range []string{"", "../0001", "a/b", ".."} {
		_, err := env.store.ReadRaw(key)
		assert.True(t, storeerr.IsNotFound(err), key)
	}
	assert.True(t, storeerr.IsValidation(env.store.Write("../x", testCard(1, card.CityMoscow))))
}

func TestKeys_SkipsForeignAndTempFiles(t *testing.T) {
	env := newTestStore(t)
	require.NoError(t, env.store.Write("0002", testCard(2, card.CityMoscow)))
	require.NoError(t, env.store.Write("0001", testCard(1, card.CityOther)))

	dir := env.store.Dir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0003.json.abc.tmp"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.json"), 0o755))

	keys, err := env.store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001", "0002"}, keys)
}

func TestKeys_MissingDirectory(t *testing.T) {
	env := newTestStore(t)
	require.NoError(t, os.RemoveAll(env.store.Dir()))
	_, err := env.store.Keys()
	assert.True(t, storeerr.IsIO(err))
}

// Readers racing a writer must only ever observe one of the complete
// versions, never a mix or a missing file.
func TestReadDuringWrites_NeverTorn(t *testing.T) {
	env := newTestStore(t)
	v1 := testCard(1, card.CityMoscow)
	v1.Extra = strings.Repeat("a", 8192)
	v2 := testCard(1, card.CityMoscow)
	v2.Extra = strings.Repeat("b", 8192)
	require.NoError(t, env.store.Write("0001", v1))

	raw1, err := encode(v1)
	require.NoError(t, err)
	raw2, err := encode(v2)
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			next := v1
			if i%2 == 0 {
				next = v2
			}
			assert.NoError(t, env.store.Write("0001", next))
		}
	}()

	for i := 0; i < 200; i++ {
		data, err := env.store.ReadRaw("0001")
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, raw1) || bytes.Equal(data, raw2), "torn read")
	}
	close(stop)
	wg.Wait()

	assert.Empty(t, env.journalLines(t))
}

type stubValidator struct{ ok bool }

func (v stubValidator) Validate([]byte) schema.Result {
	if v.ok {
		return schema.Result{OK: true}
	}
	return schema.Result{Detail: "stub says no"}
}

func TestStore_AcceptsAnyValidator(t *testing.T) {
	dir := t.TempDir()
	var journal bytes.Buffer

	s, err := Open(dir, stubValidator{ok: true})
	require.NoError(t, err)
	require.NoError(t, s.Write("note", map[string]string{"hello": "world"}))

	var got map[string]string
	require.NoError(t, s.Read("note", &got))
	assert.Equal(t, "world", got["hello"])

	strictStore, err := Open(dir, stubValidator{ok: false}, WithJournal(NewJournal(&journal)))
	require.NoError(t, err)
	err = strictStore.Read("note", &got)
	assert.True(t, storeerr.IsNotFound(err))
	assert.Contains(t, journal.String(), "Invalid card note: stub says no")
}
