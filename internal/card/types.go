package card

import (
	"fmt"
	"strings"
)

// City is the category a card is registered under.
type City string

const (
	CityMoscow City = "Москва"
	CityOther  City = "Не Москва"
)

// Cities lists every supported city in display order.
var Cities = []City{CityMoscow, CityOther}

// Valid reports whether c is a supported city.
func (c City) Valid() bool {
	return c == CityMoscow || c == CityOther
}

// ParseCity accepts either the wire value or a short alias
// ("A"/"moscow" and "B"/"other").
func ParseCity(s string) (City, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "a", "moscow", strings.ToLower(string(CityMoscow)):
		return CityMoscow, nil
	case "b", "other", strings.ToLower(string(CityOther)):
		return CityOther, nil
	}
	return "", fmt.Errorf("unknown city %q", s)
}

// Status tracks how far a card has progressed through registration and review.
type Status string

const (
	StatusNew          Status = "new"
	StatusCitySelected Status = "city_selected"
	StatusFioAdded     Status = "fio_added"
	StatusExtraAdded   Status = "extra_added"
	StatusSentToReview Status = "sent_to_review"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusNew, StatusCitySelected, StatusFioAdded, StatusExtraAdded,
	StatusSentToReview, StatusApproved, StatusRejected,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether s is approved or rejected.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Decision is the moderation outcome of a card.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

var Decisions = []Decision{DecisionPending, DecisionApproved, DecisionRejected}

func (d Decision) Valid() bool {
	return d == DecisionPending || d == DecisionApproved || d == DecisionRejected
}

// Source identifies who produced a history entry.
type Source string

const (
	SourceUser   Source = "user"
	SourceAdmin  Source = "admin"
	SourceSystem Source = "system"
)

var Sources = []Source{SourceUser, SourceAdmin, SourceSystem}

func (s Source) Valid() bool {
	return s == SourceUser || s == SourceAdmin || s == SourceSystem
}

// EntryType is the kind of message a history entry records.
type EntryType string

const (
	TypeText    EntryType = "text"
	TypePhoto   EntryType = "photo"
	TypeFile    EntryType = "file"
	TypeVoice   EntryType = "voice"
	TypeCommand EntryType = "command"
	TypeVideo   EntryType = "video"
	TypeAudio   EntryType = "audio"
)

// EntryTypes is the full set the repository produces.
var EntryTypes = []EntryType{
	TypeText, TypePhoto, TypeFile, TypeVoice, TypeCommand, TypeVideo, TypeAudio,
}

func (t EntryType) Valid() bool {
	for _, v := range EntryTypes {
		if v == t {
			return true
		}
	}
	return false
}

// AccountMeta describes the messaging account that submitted the card.
// Only UserID is required; profile fields may be filled in after creation.
type AccountMeta struct {
	UserID                int64  `json:"user_id" yaml:"user_id"`
	Username              string `json:"username,omitempty" yaml:"username,omitempty"`
	FirstName             string `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName              string `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	LanguageCode          string `json:"language_code,omitempty" yaml:"language_code,omitempty"`
	Bio                   string `json:"bio,omitempty" yaml:"bio,omitempty"`
	AdditionalProfileInfo string `json:"additional_profile_info,omitempty" yaml:"additional_profile_info,omitempty"`
	ProfilePhotoFileID    string `json:"profile_photo_file_id,omitempty" yaml:"profile_photo_file_id,omitempty"`
	IsPremium             bool   `json:"is_premium" yaml:"is_premium"`
	IsBot                 bool   `json:"is_bot" yaml:"is_bot"`
	Link                  string `json:"link,omitempty" yaml:"link,omitempty"`
}

// NewAccountMeta returns metadata for userID with the deep link filled in.
func NewAccountMeta(userID int64) AccountMeta {
	return AccountMeta{
		UserID: userID,
		Link:   fmt.Sprintf("tg://user?id=%d", userID),
	}
}

// Card is one persisted application record.
type Card struct {
	ID          int64          `json:"id"`
	Number      string         `json:"number"`
	City        City           `json:"city"`
	Fio         string         `json:"fio"`
	AccountMeta AccountMeta    `json:"account_meta"`
	Extra       string         `json:"extra"`
	Status      Status         `json:"status"`
	Decision    Decision       `json:"decision"`
	History     []HistoryEntry `json:"history"`

	// Revision is only maintained by versioned updates. Zero means the card
	// has never been written through that path.
	Revision int64 `json:"revision,omitempty"`
}

// LastEntry returns the most recently appended history entry, if any.
func (c *Card) LastEntry() (HistoryEntry, bool) {
	if len(c.History) == 0 {
		return HistoryEntry{}, false
	}
	return c.History[len(c.History)-1], true
}
