package card

import (
	"bytes"
	"encoding/json"
	"time"
)

// TimestampLayout is the on-disk form of HistoryEntry.TS: UTC with
// microsecond precision and a literal Z.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Meta is the open metadata object attached to a history entry
// (message ids, admin ids, attachment references).
type Meta map[string]any

// MarshalJSON writes a nil Meta as an empty object; the schema rejects null.
func (m Meta) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(m)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// HistoryEntry is one immutable event in a card's audit trail.
//
// TS is kept as the exact string read from disk so that re-serializing an
// untouched card reproduces the original timestamp text.
type HistoryEntry struct {
	TS     string    `json:"ts" yaml:"ts"`
	Source Source    `json:"source" yaml:"source"`
	Type   EntryType `json:"type" yaml:"type"`
	Text   string    `json:"text" yaml:"text"`
	Meta   Meta      `json:"meta" yaml:"meta"`
}

// NewHistoryEntry stamps an entry with the current UTC time.
func NewHistoryEntry(source Source, typ EntryType, text string, meta Meta) HistoryEntry {
	return NewHistoryEntryAt(time.Now(), source, typ, text, meta)
}

// NewHistoryEntryAt stamps an entry with t. Text is NFC-normalized and a nil
// meta becomes an empty object.
func NewHistoryEntryAt(t time.Time, source Source, typ EntryType, text string, meta Meta) HistoryEntry {
	if meta == nil {
		meta = Meta{}
	}
	return HistoryEntry{
		TS:     FormatTimestamp(t),
		Source: source,
		Type:   typ,
		Text:   NormalizeText(text),
		Meta:   meta,
	}
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Time parses TS. Any RFC 3339 timestamp is accepted, not only the layout
// this package writes.
func (e HistoryEntry) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.TS)
}
