package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Overlay applies the change between before and after to raw. before and
// after are encodings of the same typed view taken around an edit; raw is
// the stored document that view was decoded from.
//
// Values the edit left alone keep their stored bytes. An object member raw
// lacks is only added if the edit changed it, so zero values filled in by
// decoding are not written back. Members the view does not model are kept.
// Arrays are matched by position.
func Overlay(raw, before, after []byte) ([]byte, error) {
	return overlay(raw, before, after)
}

func overlay(raw, before, after json.RawMessage) (json.RawMessage, error) {
	if bytes.Equal(before, after) {
		return raw, nil
	}
	k := kind(after)
	if k != kind(raw) || k != kind(before) {
		return after, nil
	}
	switch k {
	case '{':
		return overlayObject(raw, before, after)
	case '[':
		return overlayArray(raw, before, after)
	}
	return after, nil
}

// kind returns the first significant byte of a JSON value.
func kind(data []byte) byte {
	for _, c := range data {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return c
	}
	return 0
}

type member struct {
	key   string
	value json.RawMessage
}

// members splits a JSON object into its members in document order.
func members(data []byte) ([]member, map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	var list []member
	byKey := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected token %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, nil, err
		}
		list = append(list, member{key: key, value: value})
		byKey[key] = value
	}
	return list, byKey, nil
}

func overlayObject(raw, before, after json.RawMessage) (json.RawMessage, error) {
	rawList, rawBy, err := members(raw)
	if err != nil {
		return nil, fmt.Errorf("stored object: %w", err)
	}
	_, beforeBy, err := members(before)
	if err != nil {
		return nil, err
	}
	afterList, afterBy, err := members(after)
	if err != nil {
		return nil, err
	}

	out := make([]member, 0, len(afterList)+len(rawList))
	for _, m := range afterList {
		r, inRaw := rawBy[m.key]
		b, inBefore := beforeBy[m.key]
		switch {
		case inRaw && inBefore:
			v, err := overlay(r, b, m.value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.key, err)
			}
			out = append(out, member{key: m.key, value: v})
		case !inRaw && inBefore && bytes.Equal(b, m.value):
			// Filled in by decoding; the stored document never had it.
		default:
			out = append(out, m)
		}
	}
	for _, m := range rawList {
		_, inAfter := afterBy[m.key]
		_, inBefore := beforeBy[m.key]
		if !inAfter && !inBefore {
			out = append(out, m)
		}
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range out {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := compact(m.key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(m.value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func overlayArray(raw, before, after json.RawMessage) (json.RawMessage, error) {
	var rawItems, beforeItems, afterItems []json.RawMessage
	if err := json.Unmarshal(raw, &rawItems); err != nil {
		return nil, fmt.Errorf("stored array: %w", err)
	}
	if err := json.Unmarshal(before, &beforeItems); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(after, &afterItems); err != nil {
		return nil, err
	}

	out := make([]json.RawMessage, len(afterItems))
	for i, a := range afterItems {
		if i >= len(rawItems) || i >= len(beforeItems) {
			out[i] = a
			continue
		}
		v, err := overlay(rawItems[i], beforeItems[i], a)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = v
	}
	return compact(out)
}

// compact renders v as single-line JSON without HTML escaping.
func compact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
