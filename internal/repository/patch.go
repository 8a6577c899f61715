package repository

import "github.com/roach88/cardfile/internal/card"

// Patch is a shallow update over a card's top-level fields. Nil fields are
// left untouched; non-nil fields overwrite. Identity fields (ID, Number) and
// History are not patchable.
type Patch struct {
	City        *card.City
	Fio         *string
	AccountMeta *card.AccountMeta
	Extra       *string
	Status      *card.Status
	Decision    *card.Decision
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.City == nil && p.Fio == nil && p.AccountMeta == nil &&
		p.Extra == nil && p.Status == nil && p.Decision == nil
}

func (p Patch) apply(c *card.Card) {
	if p.City != nil {
		c.City = *p.City
	}
	if p.Fio != nil {
		c.Fio = card.NormalizeText(*p.Fio)
	}
	if p.AccountMeta != nil {
		c.AccountMeta = *p.AccountMeta
	}
	if p.Extra != nil {
		c.Extra = card.NormalizeText(*p.Extra)
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Decision != nil {
		c.Decision = *p.Decision
	}
}

// Ptr returns a pointer to v, for building patches inline.
func Ptr[T any](v T) *T {
	return &v
}
