package card

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		id   int64
		want string
	}{
		{1, "0001"},
		{7, "0007"},
		{42, "0042"},
		{9999, "9999"},
	}
	for _, tt := range tests {
		got, err := FormatNumber(tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestFormatNumber_RejectsOverflow(t *testing.T) {
	_, err := FormatNumber(10234)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNumberOverflow)
}

func TestFormatNumber_RejectsNonPositive(t *testing.T) {
	_, err := FormatNumber(0)
	assert.ErrorIs(t, err, ErrInvalidNumber)

	_, err = FormatNumber(-3)
	assert.ErrorIs(t, err, ErrInvalidNumber)
}

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"7", "0007"},
		{"0007", "0007"},
		{"#12", "0012"},
		{"[0345]", "0345"},
		{" 9999 ", "9999"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeNumber(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeNumber_Errors(t *testing.T) {
	_, err := NormalizeNumber("")
	assert.ErrorIs(t, err, ErrInvalidNumber)

	_, err = NormalizeNumber("abc")
	assert.ErrorIs(t, err, ErrInvalidNumber)

	_, err = NormalizeNumber("10234")
	assert.ErrorIs(t, err, ErrNumberOverflow)
}

func TestParseCity(t *testing.T) {
	for _, in := range []string{"A", "a", "moscow", "Москва"} {
		c, err := ParseCity(in)
		require.NoError(t, err, in)
		assert.Equal(t, CityMoscow, c)
	}
	for _, in := range []string{"B", "other", "Не Москва"} {
		c, err := ParseCity(in)
		require.NoError(t, err, in)
		assert.Equal(t, CityOther, c)
	}

	_, err := ParseCity("Paris")
	assert.Error(t, err)
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, StatusSentToReview.Valid())
	assert.False(t, Status("archived").Valid())
	assert.True(t, StatusApproved.Terminal())
	assert.False(t, StatusFioAdded.Terminal())

	assert.True(t, DecisionPending.Valid())
	assert.False(t, Decision("maybe").Valid())

	assert.True(t, SourceAdmin.Valid())
	assert.False(t, Source("bot").Valid())

	assert.True(t, TypeVideo.Valid())
	assert.True(t, TypeAudio.Valid())
	assert.False(t, EntryType("sticker").Valid())
}

func TestNewHistoryEntryAt(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 20, 30, 123456000, time.FixedZone("MSK", 3*3600))
	e := NewHistoryEntryAt(ts, SourceUser, TypeText, "  hello  ", nil)

	assert.Equal(t, "2025-03-01T07:20:30.123456Z", e.TS)
	assert.Equal(t, "hello", e.Text)
	assert.NotNil(t, e.Meta, "nil meta must become an empty object")

	parsed, err := e.Time()
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}

func TestHistoryEntry_MetaSerializesAsObject(t *testing.T) {
	e := NewHistoryEntryAt(time.Unix(0, 0), SourceSystem, TypeCommand, "x", nil)
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"meta":{}`)
}

func TestHistoryEntry_NilMetaLiteralSerializesAsObject(t *testing.T) {
	e := HistoryEntry{TS: "2025-01-01T00:00:00.000000Z", Source: SourceUser, Type: TypeText, Text: "hi"}
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"meta":{}`)

	data, err = Meta{"note": "<b>"}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"note":"<b>"}`, string(data))
}

func TestNormalizeText_NFC(t *testing.T) {
	decomposed := "\u0438\u0306" // и + combining breve
	assert.Equal(t, "\u0439", NormalizeText(decomposed))
}

func TestNewAccountMeta(t *testing.T) {
	m := NewAccountMeta(12345)
	assert.Equal(t, int64(12345), m.UserID)
	assert.Equal(t, "tg://user?id=12345", m.Link)
}

func TestLastEntry(t *testing.T) {
	c := &Card{}
	_, ok := c.LastEntry()
	assert.False(t, ok)

	c.History = append(c.History,
		HistoryEntry{Text: "first"},
		HistoryEntry{Text: "second"},
	)
	last, ok := c.LastEntry()
	require.True(t, ok)
	assert.Equal(t, "second", last.Text)
}

func TestFormatModeration(t *testing.T) {
	c := &Card{
		Number:      "0003",
		Fio:         "Иванов Иван",
		City:        CityOther,
		Status:      StatusSentToReview,
		AccountMeta: AccountMeta{UserID: 77, Username: "ivan"},
	}
	out := FormatModeration(c)
	assert.Contains(t, out, "[0003] Иванов Иван")
	assert.Contains(t, out, "город: Не Москва")
	assert.Contains(t, out, "username: @ivan")
	assert.Contains(t, out, "user_id: 77")
	assert.Contains(t, out, "bio: нет")
	assert.Contains(t, out, "extra: нет")
}

func TestFormatDetailed_ListsHistoryInOrder(t *testing.T) {
	c := &Card{
		Number:   "0001",
		City:     CityMoscow,
		Status:   StatusApproved,
		Decision: DecisionApproved,
		History: []HistoryEntry{
			{TS: "t1", Source: SourceSystem, Type: TypeCommand, Text: "created"},
			{TS: "t2", Source: SourceAdmin, Type: TypeCommand, Text: "approved"},
		},
	}
	out := FormatDetailed(c)
	assert.Contains(t, out, "решение: approved")
	assert.Contains(t, out, "история (2):")
	assert.Less(t, strings.Index(out, "[system/command] created"), strings.Index(out, "[admin/command] approved"))
	assert.Contains(t, FormatListLine(c), "[0001] (без ФИО) | approved | approved")
}
