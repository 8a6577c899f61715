// Package repository is the card domain layer over the sequence allocator
// and the document store.
//
// Create allocates an id and persists a fresh card. Load, Update and the
// workflow helpers address cards by number. QueryByCity, List and
// FindByUser scan the whole store on every call.
//
// Update is a read-modify-write with no lock between the read and the
// write: two concurrent updates to one card race and the later write wins,
// including over the other call's history entry. UpdateIfRevision detects
// the lost update for callers that opt in to revision tracking.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/cardfile/internal/card"
	"github.com/roach88/cardfile/internal/docstore"
	"github.com/roach88/cardfile/internal/storeerr"
)

var (
	// ErrStaleRevision is returned by UpdateIfRevision when the stored
	// revision differs from the one the caller loaded.
	ErrStaleRevision = errors.New("stale revision")

	// ErrAlreadyDecided is returned when approving or rejecting a card whose
	// decision is no longer pending or whose status is already final.
	ErrAlreadyDecided = errors.New("card already decided")
)

// scanWorkers bounds concurrent file loads during a directory scan.
const scanWorkers = 8

// Allocator issues card ids.
type Allocator interface {
	Next(ctx context.Context) (int64, error)
}

// Index accelerates city lookups. It is derived data: the repository
// always loads and validates the files it names.
type Index interface {
	Upsert(ctx context.Context, c *card.Card) error
	NumbersByCity(ctx context.Context, city card.City) ([]string, error)
	Rebuild(ctx context.Context, cards []card.Card) error
}

// Repository creates, loads, updates and queries cards.
type Repository struct {
	docs   *docstore.Store
	ids    Allocator
	index  Index
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Repository.
type Option func(*Repository)

// WithIndex routes city queries through idx and keeps it current on writes.
func WithIndex(idx Index) Option {
	return func(r *Repository) { r.index = idx }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// WithClock overrides the time source for synthesized history entries.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// New returns a repository over docs with ids from ids.
func New(docs *docstore.Store, ids Allocator, opts ...Option) *Repository {
	r := &Repository{docs: docs, ids: ids, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create allocates the next id and persists a new card for meta in city.
// The card is returned only if it was written. Allocation failures
// (lock timeout, counter I/O) leave no card behind.
func (r *Repository) Create(ctx context.Context, meta card.AccountMeta, city card.City) (*card.Card, error) {
	if !city.Valid() {
		return nil, storeerr.Validation("create", "", fmt.Sprintf("unknown city %q", city))
	}

	id, err := r.ids.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("create card: %w", err)
	}
	number, err := card.FormatNumber(id)
	if err != nil {
		r.logger.Error("allocated id does not fit a card number", "id", id, "error", err)
		return nil, storeerr.Validation("create", "", err.Error())
	}

	c := &card.Card{
		ID:          id,
		Number:      number,
		City:        city,
		AccountMeta: meta,
		Status:      card.StatusCitySelected,
		Decision:    card.DecisionPending,
		History: []card.HistoryEntry{
			card.NewHistoryEntryAt(r.now(), card.SourceSystem, card.TypeCommand,
				fmt.Sprintf("card created, city=%s", city), nil),
		},
	}
	if err := r.docs.Write(number, c); err != nil {
		return nil, fmt.Errorf("create card %s: %w", number, err)
	}

	r.indexUpsert(ctx, c)
	r.logger.Info("card created", "number", number, "city", string(city), "user_id", meta.UserID)
	return c, nil
}

// Load returns the card with the given number. number may be unpadded or
// carry decoration such as "#7"; it is normalized to 4 digits first.
func (r *Repository) Load(number string) (*card.Card, error) {
	key, err := card.NormalizeNumber(number)
	if err != nil {
		return nil, storeerr.NotFound("load", number, err)
	}
	var c card.Card
	if err := r.docs.Read(key, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Update applies patch to the stored card and appends entry if non-nil.
// An empty patch with a nil entry rewrites the card unchanged.
func (r *Repository) Update(number string, patch Patch, entry *card.HistoryEntry) error {
	return r.mutate(number, func(c *card.Card) error {
		patch.apply(c)
		if entry != nil {
			c.History = append(c.History, *entry)
		}
		return nil
	})
}

// UpdateIfRevision is Update for callers tracking revisions: it fails with
// ErrStaleRevision unless the stored card is still at expected, and bumps
// the revision on success.
//
// The check and the write are not atomic; this narrows the lost-update
// window to the duration of one write rather than closing it.
func (r *Repository) UpdateIfRevision(number string, expected int64, patch Patch, entry *card.HistoryEntry) error {
	return r.mutate(number, func(c *card.Card) error {
		if c.Revision != expected {
			return fmt.Errorf("%w: have %d, want %d", ErrStaleRevision, c.Revision, expected)
		}
		patch.apply(c)
		if entry != nil {
			c.History = append(c.History, *entry)
		}
		c.Revision++
		return nil
	})
}

// mutate loads the card, lets fn change it in memory and writes it back
// under the key it was loaded from. Fields the Card type does not model
// are carried over from the stored document. If fn fails nothing is
// written.
func (r *Repository) mutate(number string, fn func(c *card.Card) error) error {
	key, err := card.NormalizeNumber(number)
	if err != nil {
		return fmt.Errorf("update card %s: %w", number, storeerr.NotFound("load", number, err))
	}
	var c card.Card
	if err := r.docs.Edit(key, &c, func() error { return fn(&c) }); err != nil {
		return fmt.Errorf("update card %s: %w", key, err)
	}
	r.indexUpsert(context.Background(), &c)
	r.logger.Debug("card updated", "number", key, "status", string(c.Status), "history", len(c.History))
	return nil
}

func (r *Repository) indexUpsert(ctx context.Context, c *card.Card) {
	if r.index == nil {
		return
	}
	if err := r.index.Upsert(ctx, c); err != nil {
		r.logger.Warn("city index update failed", "number", c.Number, "error", err)
	}
}

// QueryByCity returns every valid card in city ordered by id. Unreadable
// files are logged and skipped.
func (r *Repository) QueryByCity(ctx context.Context, city card.City) ([]card.Card, error) {
	keys, err := r.cityKeys(ctx, city)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, keys, func(c *card.Card) bool { return c.City == city })
}

func (r *Repository) cityKeys(ctx context.Context, city card.City) ([]string, error) {
	if r.index != nil {
		keys, err := r.index.NumbersByCity(ctx, city)
		if err == nil {
			return keys, nil
		}
		r.logger.Warn("city index lookup failed, scanning directory", "city", string(city), "error", err)
	}
	return r.docs.Keys()
}

// List returns every valid card ordered by id.
func (r *Repository) List(ctx context.Context) ([]card.Card, error) {
	keys, err := r.docs.Keys()
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, keys, nil)
}

// FindByUser returns the cards submitted by userID ordered by id.
func (r *Repository) FindByUser(ctx context.Context, userID int64) ([]card.Card, error) {
	keys, err := r.docs.Keys()
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, keys, func(c *card.Card) bool { return c.AccountMeta.UserID == userID })
}

// RebuildIndex repopulates the index from the directory. It is a no-op
// without an index.
func (r *Repository) RebuildIndex(ctx context.Context) (int, error) {
	if r.index == nil {
		return 0, nil
	}
	cards, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	if err := r.index.Rebuild(ctx, cards); err != nil {
		return 0, fmt.Errorf("rebuild index: %w", err)
	}
	return len(cards), nil
}

// collect loads keys concurrently, keeps the cards accepted by keep (all if
// keep is nil) and sorts them by id. The result is freshly allocated.
func (r *Repository) collect(ctx context.Context, keys []string, keep func(*card.Card) bool) ([]card.Card, error) {
	loaded := make([]*card.Card, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanWorkers)
	for i, key := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var c card.Card
			if err := r.docs.Read(key, &c); err != nil {
				r.logger.Warn("skipping unreadable card", "key", key, "error", err)
				return nil
			}
			loaded[i] = &c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]card.Card, 0, len(keys))
	for _, c := range loaded {
		if c != nil && (keep == nil || keep(c)) {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
