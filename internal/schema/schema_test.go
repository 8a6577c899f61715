package schema

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validCard returns a minimal document that satisfies the contract.
func validCard() map[string]any {
	return map[string]any{
		"id":     1,
		"number": "0001",
		"city":   "Москва",
		"fio":    "",
		"account_meta": map[string]any{
			"user_id":  100,
			"username": "alice",
		},
		"extra":    "",
		"status":   "city_selected",
		"decision": "pending",
		"history": []any{
			map[string]any{
				"ts":     "2025-01-02T03:04:05.000000Z",
				"source": "system",
				"type":   "command",
				"text":   "card created",
				"meta":   map[string]any{},
			},
		},
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestValidate_AcceptsValidCard(t *testing.T) {
	v := MustNew()
	res := v.Validate(mustJSON(t, validCard()))
	assert.True(t, res.OK, res.Detail)
	assert.Empty(t, res.Detail)
}

func TestValidate_AllowsUnknownFields(t *testing.T) {
	v := MustNew()
	doc := validCard()
	doc["legacy_flag"] = true
	doc["account_meta"].(map[string]any)["nickname"] = "al"

	res := v.Validate(mustJSON(t, doc))
	assert.True(t, res.OK, res.Detail)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(doc map[string]any)
		field  string
	}{
		{"missing id", func(d map[string]any) { delete(d, "id") }, "id"},
		{"zero id", func(d map[string]any) { d["id"] = 0 }, "id"},
		{"fractional id", func(d map[string]any) { d["id"] = 1.5 }, "id"},
		{"missing history", func(d map[string]any) { delete(d, "history") }, "history"},
		{"three digit number", func(d map[string]any) { d["number"] = "001" }, "number"},
		{"five digit number", func(d map[string]any) { d["number"] = "10234" }, "number"},
		{"unknown city", func(d map[string]any) { d["city"] = "Paris" }, "city"},
		{"unknown status", func(d map[string]any) { d["status"] = "archived" }, "status"},
		{"unknown decision", func(d map[string]any) { d["decision"] = "maybe" }, "decision"},
		{"fio not string", func(d map[string]any) { d["fio"] = 5 }, "fio"},
		{"missing user_id", func(d map[string]any) {
			delete(d["account_meta"].(map[string]any), "user_id")
		}, "user_id"},
		{"string user_id", func(d map[string]any) {
			d["account_meta"].(map[string]any)["user_id"] = "100"
		}, "user_id"},
		{"history source", func(d map[string]any) {
			entry(d)["source"] = "bot"
		}, "source"},
		{"history type", func(d map[string]any) {
			entry(d)["type"] = "sticker"
		}, "type"},
		{"history ts missing", func(d map[string]any) {
			delete(entry(d), "ts")
		}, "ts"},
		{"history ts malformed", func(d map[string]any) {
			entry(d)["ts"] = "yesterday"
		}, "ts"},
		{"history meta not object", func(d map[string]any) {
			entry(d)["meta"] = "x"
		}, "meta"},
	}

	v := MustNew()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validCard()
			tt.mutate(doc)
			res := v.Validate(mustJSON(t, doc))
			assert.False(t, res.OK)
			assert.Contains(t, res.Detail, tt.field)
		})
	}
}

func entry(doc map[string]any) map[string]any {
	return doc["history"].([]any)[0].(map[string]any)
}

func TestValidate_NotJSON(t *testing.T) {
	v := MustNew()

	res := v.Validate([]byte(`{"id": 1,`))
	assert.False(t, res.OK)
	assert.Contains(t, res.Detail, "invalid JSON")

	res = v.Validate([]byte(`[1, 2]`))
	assert.False(t, res.OK)
	assert.Contains(t, res.Detail, "object")
}

// The repository records video and audio entries, which the narrower
// five-type contract does not list. The default validator accepts them; the
// strict one does not.
func TestValidate_HistoryTypeSets(t *testing.T) {
	loose := MustNew()
	strict, err := NewStrict()
	require.NoError(t, err)

	for _, typ := range []string{"text", "photo", "file", "voice", "command"} {
		doc := validCard()
		entry(doc)["type"] = typ
		assert.True(t, loose.Validate(mustJSON(t, doc)).OK, typ)
		assert.True(t, strict.Validate(mustJSON(t, doc)).OK, typ)
	}

	for _, typ := range []string{"video", "audio"} {
		doc := validCard()
		entry(doc)["type"] = typ
		assert.True(t, loose.Validate(mustJSON(t, doc)).OK, typ)

		res := strict.Validate(mustJSON(t, doc))
		assert.False(t, res.OK, typ)
		assert.Contains(t, res.Detail, "type")
	}
}

func TestValidateKey(t *testing.T) {
	v := MustNew()
	doc := validCard()
	data := mustJSON(t, doc)
	key := doc["number"].(string)
	require.True(t, v.Validate(data).OK)
	assert.True(t, v.ValidateKey(key, data).OK)

	res := v.ValidateKey("0009", data)
	assert.False(t, res.OK)
	assert.Contains(t, res.Detail, "does not match key")

	doc["id"] = 9
	res = v.ValidateKey(key, mustJSON(t, doc))
	assert.False(t, res.OK)
	assert.Contains(t, res.Detail, "does not match id")
}

func TestValidate_ConcurrentUse(t *testing.T) {
	v := MustNew()
	data := mustJSON(t, validCard())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.True(t, v.Validate(data).OK)
			}
		}()
	}
	wg.Wait()
}
