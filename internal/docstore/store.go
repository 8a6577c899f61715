// Package docstore persists JSON documents as one file per key with atomic
// replace and schema gating.
//
// Write never exposes a partial or structurally invalid document: content is
// written to a temp file, flushed, re-read and validated, and only then
// renamed over the live file. Read treats a file that fails to decode or
// validate exactly like a missing one, after recording the reason in the
// structural-error journal.
package docstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/cardfile/internal/fsutil"
	"github.com/roach88/cardfile/internal/schema"
	"github.com/roach88/cardfile/internal/storeerr"
)

// Ext is the file extension of stored documents.
const Ext = ".json"

// Validator gates every document crossing the store boundary.
type Validator interface {
	Validate(data []byte) schema.Result
}

// KeyedValidator is a Validator that also checks a document against the key
// it is stored under. Stores use the key check on every read and write.
type KeyedValidator interface {
	Validator
	ValidateKey(key string, data []byte) schema.Result
}

// Store is a directory of JSON documents keyed by file stem.
type Store struct {
	dir       string
	validator Validator
	journal   *Journal
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithJournal sets the structural-error journal. Without one, invalid
// documents are only logged.
func WithJournal(j *Journal) Option {
	return func(s *Store) { s.journal = j }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open returns a store rooted at dir, creating the directory if needed.
func Open(dir string, v Validator, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storeerr.IO("open", dir, err)
	}
	s := &Store{dir: dir, validator: v, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file that holds key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key+Ext)
}

func checkKey(op, key string) error {
	if key == "" || key != filepath.Base(key) || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return storeerr.Validation(op, key, "invalid key")
	}
	return nil
}

// Write validates and atomically persists v under key. On any failure the
// previous document, if there was one, is left untouched.
func (s *Store) Write(key string, v any) error {
	if err := checkKey("write", key); err != nil {
		return err
	}

	data, err := encode(v)
	if err != nil {
		return storeerr.Validation("write", key, err.Error())
	}

	check := func(tmp string) error {
		written, err := os.ReadFile(tmp)
		if err != nil {
			return storeerr.IO("write", key, fmt.Errorf("re-read temp: %w", err))
		}
		if res := s.validate(key, written); !res.OK {
			return storeerr.Validation("write", key, res.Detail)
		}
		return nil
	}

	err = fsutil.WriteAtomic(s.Path(key), data, 0o644, check)
	if err == nil {
		return nil
	}
	if storeerr.CodeOf(err) != "" {
		if storeerr.IsValidation(err) {
			s.logger.Error("document rejected by schema", "key", key, "error", err)
		}
		return err
	}
	s.logger.Error("document write failed", "key", key, "error", err)
	return storeerr.IO("write", key, err)
}

// encode renders v as indented JSON without HTML escaping, so Cyrillic and
// punctuation stay readable on disk.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadRaw returns the validated bytes stored under key.
//
// A missing key is CodeNotFound. A file that is not valid JSON or fails the
// schema is journaled and also reported as CodeNotFound, wrapping the
// validation error as its cause. Other read errors are CodeIOFailure.
func (s *Store) ReadRaw(key string) ([]byte, error) {
	if err := checkKey("read", key); err != nil {
		return nil, storeerr.NotFound("read", key, err)
	}

	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storeerr.NotFound("read", key, nil)
	}
	if err != nil {
		return nil, storeerr.IO("read", key, err)
	}

	if res := s.validate(key, data); !res.OK {
		s.reject(key, res.Detail)
		return nil, storeerr.NotFound("read", key, storeerr.Validation("read", key, res.Detail))
	}
	return data, nil
}

func (s *Store) validate(key string, data []byte) schema.Result {
	res := s.validator.Validate(data)
	if !res.OK {
		return res
	}
	if kv, ok := s.validator.(KeyedValidator); ok {
		return kv.ValidateKey(key, data)
	}
	return res
}

// Read decodes the document under key into v. Errors are as for ReadRaw.
func (s *Store) Read(key string, v any) error {
	data, err := s.ReadRaw(key)
	if err != nil {
		return err
	}
	return s.decode(key, data, v)
}

func (s *Store) decode(key string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		detail := fmt.Sprintf("decode: %v", err)
		s.reject(key, detail)
		return storeerr.NotFound("read", key, storeerr.Validation("read", key, detail))
	}
	return nil
}

// Edit decodes the document under key into v, lets fn change v and writes
// the result back under the same key. The stored document is merged rather
// than replaced (see Overlay): members v does not model survive, and so do
// the exact bytes of values fn left alone.
//
// Read errors are as for Read. If fn fails nothing is written and its
// error is returned unchanged.
func (s *Store) Edit(key string, v any, fn func() error) error {
	raw, err := s.ReadRaw(key)
	if err != nil {
		return err
	}
	if err := s.decode(key, raw, v); err != nil {
		return err
	}
	before, err := compact(v)
	if err != nil {
		return storeerr.Validation("edit", key, err.Error())
	}
	if err := fn(); err != nil {
		return err
	}
	after, err := compact(v)
	if err != nil {
		return storeerr.Validation("edit", key, err.Error())
	}

	merged, err := Overlay(raw, before, after)
	if err != nil {
		return storeerr.Validation("edit", key, err.Error())
	}
	return s.Write(key, json.RawMessage(merged))
}

func (s *Store) reject(key, detail string) {
	s.logger.Warn("invalid document on disk", "key", key, "detail", detail)
	s.journal.Record(key, detail)
}

// Keys lists every document key in ascending name order. Temp files and
// foreign files are skipped.
func (s *Store) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, storeerr.IO("scan", s.dir, err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || fsutil.IsTemp(name) || filepath.Ext(name) != Ext {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, Ext))
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the journal.
func (s *Store) Close() error {
	return s.journal.Close()
}
