// Package schema holds the structural contract every persisted card must
// satisfy before it is considered durable.
//
// The contract is written in CUE (card.cue) and compiled once per Validator.
// Validation is pure: it reports a Result and never returns an error or
// panics, so callers can treat "invalid" as an ordinary outcome.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed card.cue
var cardSchema string

// Result is the outcome of a validation.
type Result struct {
	OK     bool
	Detail string
}

func ok() Result { return Result{OK: true} }

func fail(format string, args ...any) Result {
	return Result{Detail: fmt.Sprintf(format, args...)}
}

// Validator checks JSON documents against the card contract.
//
// A cue.Context is not safe for concurrent use, so every validation is
// serialized behind mu.
type Validator struct {
	mu  sync.Mutex
	ctx *cue.Context
	def cue.Value
}

// New returns a validator that accepts every history type the repository
// writes, including video and audio.
func New() (*Validator, error) {
	return newValidator("#Card")
}

// NewStrict returns a validator that limits history types to text, photo,
// file, voice and command.
func NewStrict() (*Validator, error) {
	return newValidator("#StrictCard")
}

// MustNew is New for package-level initialization and tests.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

func newValidator(def string) (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(cardSchema, cue.Filename("card.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile card schema: %w", err)
	}
	d := root.LookupPath(cue.ParsePath(def))
	if !d.Exists() {
		return nil, fmt.Errorf("card schema: definition %s not found", def)
	}
	return &Validator{ctx: ctx, def: d}, nil
}

// Validate checks a JSON document.
func (v *Validator) Validate(data []byte) Result {
	if !json.Valid(data) {
		return fail("invalid JSON")
	}
	expr, err := cuejson.Extract("card.json", data)
	if err != nil {
		return fail("invalid JSON: %v", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	doc := v.ctx.BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return fail("invalid JSON: %v", err)
	}
	if doc.IncompleteKind() != cue.StructKind {
		return fail("document must be an object")
	}

	unified := v.def.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fail("%s", describe(err))
	}
	return ok()
}

// ValidateKey checks that a card stored under key carries that number and
// that the number is the padded form of its id. Call it on documents that
// already passed Validate.
func (v *Validator) ValidateKey(key string, data []byte) Result {
	var head struct {
		ID     int64  `json:"id"`
		Number string `json:"number"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fail("invalid JSON: %v", err)
	}
	if head.Number != key {
		return fail("number %q does not match key %q", head.Number, key)
	}
	if want := fmt.Sprintf("%04d", head.ID); head.Number != want {
		return fail("number %q does not match id %d", head.Number, head.ID)
	}
	return ok()
}

// describe flattens a CUE error list into one line, keeping each message's
// path so the journal says which field failed.
func describe(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	seen := make(map[string]bool, len(errs))
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if p := strings.Join(e.Path(), "."); p != "" {
			msg = p + ": " + msg
		}
		if !seen[msg] {
			seen[msg] = true
			msgs = append(msgs, msg)
		}
	}
	return strings.Join(msgs, "; ")
}
