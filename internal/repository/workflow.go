package repository

import (
	"fmt"

	"github.com/roach88/cardfile/internal/card"
)

// SetFio records the applicant's name and advances the card to fio_added.
func (r *Repository) SetFio(number, fio string, meta card.Meta) error {
	entry := card.NewHistoryEntryAt(r.now(), card.SourceUser, card.TypeText, fio, meta)
	return r.Update(number, Patch{
		Fio:    Ptr(fio),
		Status: Ptr(card.StatusFioAdded),
	}, &entry)
}

// SetExtra records the supplementary note and sends the card to review.
func (r *Repository) SetExtra(number, extra string, meta card.Meta) error {
	entry := card.NewHistoryEntryAt(r.now(), card.SourceUser, card.TypeText, extra, meta)
	return r.Update(number, Patch{
		Extra:  Ptr(extra),
		Status: Ptr(card.StatusSentToReview),
	}, &entry)
}

// AppendHistory adds entry without touching any field.
func (r *Repository) AppendHistory(number string, entry card.HistoryEntry) error {
	return r.Update(number, Patch{}, &entry)
}

// Approve moves a pending card to approved. meta typically carries the
// moderator's id and username.
func (r *Repository) Approve(number string, meta card.Meta) (*card.Card, error) {
	return r.decide(number, card.DecisionApproved, card.StatusApproved, "application approved", meta)
}

// Reject moves a pending card to rejected.
func (r *Repository) Reject(number string, meta card.Meta) (*card.Card, error) {
	return r.decide(number, card.DecisionRejected, card.StatusRejected, "application rejected", meta)
}

func (r *Repository) decide(number string, d card.Decision, s card.Status, text string, meta card.Meta) (*card.Card, error) {
	var decided *card.Card
	err := r.mutate(number, func(c *card.Card) error {
		if c.Decision != card.DecisionPending {
			return fmt.Errorf("%w: %s", ErrAlreadyDecided, c.Decision)
		}
		// A hand-edited card can reach a final status with the decision
		// still pending; it is decided all the same.
		if c.Status.Terminal() {
			return fmt.Errorf("%w: status %s", ErrAlreadyDecided, c.Status)
		}
		c.Decision = d
		c.Status = s
		c.History = append(c.History, card.NewHistoryEntryAt(r.now(), card.SourceAdmin, card.TypeCommand, text, meta))
		decided = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decided, nil
}
