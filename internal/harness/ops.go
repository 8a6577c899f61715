package harness

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/roach88/cardfile/internal/card"
	"github.com/roach88/cardfile/internal/repository"
)

// argError marks a malformed step rather than a failed operation.
type argError struct {
	msg string
}

func (e *argError) Error() string { return e.msg }

func argErrorf(format string, a ...any) error {
	return &argError{msg: fmt.Sprintf(format, a...)}
}

var knownOps = map[string]bool{
	"next": true, "create": true, "load": true, "update": true,
	"set_fio": true, "set_extra": true, "append_history": true,
	"approve": true, "reject": true,
	"query": true, "list": true, "find_user": true,
	"corrupt": true, "hold_lock": true, "release_lock": true,
	"reindex": true, "counts": true,
}

// args gives typed access to YAML-decoded step arguments.
type args map[string]any

func (a args) str(key string) (string, bool, error) {
	v, ok := a[key]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, argErrorf("%s: expected string, got %T", key, v)
	}
	return s, true, nil
}

func (a args) requireStr(key string) (string, error) {
	s, ok, err := a.str(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", argErrorf("%s is required", key)
	}
	return s, nil
}

func (a args) int64(key string) (int64, bool, error) {
	v, ok := a[key]
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), true, nil
	case int64:
		return n, true, nil
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true, nil
		}
	}
	return 0, false, argErrorf("%s: expected integer, got %v", key, v)
}

func (a args) requireInt64(key string) (int64, error) {
	n, ok, err := a.int64(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, argErrorf("%s is required", key)
	}
	return n, nil
}

// number accepts "0007", "7" or 7. It is not normalized here so that
// malformed numbers reach the repository.
func (a args) number() (string, error) {
	v, ok := a["number"]
	if !ok {
		return "", argErrorf("number is required")
	}
	switch n := v.(type) {
	case string:
		return n, nil
	case int:
		return fmt.Sprint(n), nil
	}
	return "", argErrorf("number: expected string or integer, got %T", v)
}

// city resolves aliases; unknown names pass through so the store rejects
// them.
func (a args) city(key string) (*card.City, error) {
	raw, ok, err := a.str(key)
	if err != nil || !ok {
		return nil, err
	}
	c, err := card.ParseCity(raw)
	if err != nil {
		c = card.City(raw)
	}
	return &c, nil
}

func (a args) meta(keys ...string) card.Meta {
	m := card.Meta{}
	for _, k := range keys {
		if v, ok := a[k]; ok {
			m[k] = v
		}
	}
	return m
}

// entry builds a history entry from textKey plus optional source and type
// arguments. It returns nil when textKey is absent.
func (a args) entry(now time.Time, textKey string, defSource card.Source, defType card.EntryType) (*card.HistoryEntry, error) {
	text, ok, err := a.str(textKey)
	if err != nil || !ok {
		return nil, err
	}
	source, typ := defSource, defType
	if s, ok, err := a.str("source"); err != nil {
		return nil, err
	} else if ok {
		source = card.Source(s)
	}
	if s, ok, err := a.str("type"); err != nil {
		return nil, err
	} else if ok {
		typ = card.EntryType(s)
	}
	e := card.NewHistoryEntryAt(now, source, typ, text, nil)
	return &e, nil
}

func (h *Harness) dispatch(ctx context.Context, step Step) (map[string]any, error) {
	a := args(step.Args)
	switch step.Op {
	case "next":
		id, err := h.ids.Next(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": id}, nil

	case "create":
		return h.create(ctx, a)

	case "load":
		number, err := a.number()
		if err != nil {
			return nil, err
		}
		c, err := h.repo.Load(number)
		if err != nil {
			return nil, err
		}
		return cardView(c), nil

	case "update":
		return nil, h.update(a)

	case "set_fio", "set_extra":
		number, err := a.number()
		if err != nil {
			return nil, err
		}
		field := "fio"
		if step.Op == "set_extra" {
			field = "extra"
		}
		text, err := a.requireStr(field)
		if err != nil {
			return nil, err
		}
		if field == "fio" {
			return nil, h.repo.SetFio(number, text, nil)
		}
		return nil, h.repo.SetExtra(number, text, nil)

	case "append_history":
		number, err := a.number()
		if err != nil {
			return nil, err
		}
		e, err := a.entry(h.clock.Now(), "text", card.SourceUser, card.TypeText)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, argErrorf("text is required")
		}
		return nil, h.repo.AppendHistory(number, *e)

	case "approve", "reject":
		number, err := a.number()
		if err != nil {
			return nil, err
		}
		meta := a.meta("admin_id")
		decide := h.repo.Approve
		if step.Op == "reject" {
			decide = h.repo.Reject
		}
		c, err := decide(number, meta)
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": string(c.Status), "decision": string(c.Decision)}, nil

	case "query":
		city, err := a.city("city")
		if err != nil {
			return nil, err
		}
		if city == nil {
			return nil, argErrorf("city is required")
		}
		cards, err := h.repo.QueryByCity(ctx, *city)
		return numbersResult(cards, err)

	case "list":
		return numbersResult(h.repo.List(ctx))

	case "find_user":
		uid, err := a.requireInt64("user_id")
		if err != nil {
			return nil, err
		}
		return numbersResult(h.repo.FindByUser(ctx, uid))

	case "corrupt":
		return nil, h.corrupt(a)

	case "hold_lock":
		if h.held != nil {
			return nil, argErrorf("lock already held")
		}
		u, err := h.locker.Lock(ctx)
		if err != nil {
			return nil, err
		}
		h.held = u
		return nil, nil

	case "release_lock":
		if h.held == nil {
			return nil, argErrorf("lock not held")
		}
		err := h.held.Unlock()
		h.held = nil
		return nil, err

	case "reindex":
		if h.idx == nil {
			return nil, argErrorf("reindex requires index: true")
		}
		n, err := h.repo.RebuildIndex(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"indexed": n}, nil

	case "counts":
		if h.idx == nil {
			return nil, argErrorf("counts requires index: true")
		}
		counts, err := h.idx.Counts(ctx)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(counts))
		for status, n := range counts {
			out[string(status)] = n
		}
		return out, nil
	}
	return nil, argErrorf("unknown op %q", step.Op)
}

func (h *Harness) create(ctx context.Context, a args) (map[string]any, error) {
	uid, err := a.requireInt64("user_id")
	if err != nil {
		return nil, err
	}
	city, err := a.city("city")
	if err != nil {
		return nil, err
	}
	if city == nil {
		return nil, argErrorf("city is required")
	}

	meta := card.NewAccountMeta(uid)
	for key, dst := range map[string]*string{
		"username":   &meta.Username,
		"first_name": &meta.FirstName,
		"last_name":  &meta.LastName,
	} {
		s, ok, err := a.str(key)
		if err != nil {
			return nil, err
		}
		if ok {
			*dst = s
		}
	}

	c, err := h.repo.Create(ctx, meta, *city)
	if err != nil {
		return nil, err
	}
	return map[string]any{"number": c.Number, "status": string(c.Status)}, nil
}

func (h *Harness) update(a args) error {
	number, err := a.number()
	if err != nil {
		return err
	}

	var patch repository.Patch
	if patch.City, err = a.city("city"); err != nil {
		return err
	}
	for key, dst := range map[string]**string{"fio": &patch.Fio, "extra": &patch.Extra} {
		s, ok, err := a.str(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = &s
		}
	}
	if s, ok, err := a.str("status"); err != nil {
		return err
	} else if ok {
		patch.Status = repository.Ptr(card.Status(s))
	}
	if s, ok, err := a.str("decision"); err != nil {
		return err
	} else if ok {
		patch.Decision = repository.Ptr(card.Decision(s))
	}

	entry, err := a.entry(h.clock.Now(), "note", card.SourceUser, card.TypeText)
	if err != nil {
		return err
	}

	rev, ok, err := a.int64("expect_revision")
	if err != nil {
		return err
	}
	if ok {
		return h.repo.UpdateIfRevision(number, rev, patch, entry)
	}
	return h.repo.Update(number, patch, entry)
}

func (h *Harness) corrupt(a args) error {
	raw, err := a.number()
	if err != nil {
		return err
	}
	key, err := card.NormalizeNumber(raw)
	if err != nil {
		return argErrorf("number: %v", err)
	}
	content, ok, err := a.str("content")
	if err != nil {
		return err
	}
	if !ok {
		content = "{corrupt"
	}
	return os.WriteFile(h.docs.Path(key), []byte(content), 0o644)
}

func numbersResult(cards []card.Card, err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	numbers := make([]string, len(cards))
	for i, c := range cards {
		numbers[i] = c.Number
	}
	return map[string]any{"numbers": numbers}, nil
}

// cardView is the subset of a card recorded in traces and matched by
// card_state. Timestamps are left out.
func cardView(c *card.Card) map[string]any {
	return map[string]any{
		"number":   c.Number,
		"city":     string(c.City),
		"fio":      c.Fio,
		"extra":    c.Extra,
		"status":   string(c.Status),
		"decision": string(c.Decision),
		"history":  len(c.History),
		"revision": c.Revision,
	}
}
