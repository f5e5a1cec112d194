package model

import (
	"strings"
	"time"
)

// MaskedEmailState is the lifecycle state of a masked email alias.
type MaskedEmailState string

const (
	// StatePending aliases are deleted by the server after 24 hours
	// unless they receive a message.
	StatePending  MaskedEmailState = "pending"
	StateEnabled  MaskedEmailState = "enabled"
	StateDisabled MaskedEmailState = "disabled"
	StateDeleted  MaskedEmailState = "deleted"
)

// Valid reports whether s is one of the known states.
func (s MaskedEmailState) Valid() bool {
	switch s {
	case StatePending, StateEnabled, StateDisabled, StateDeleted:
		return true
	}
	return false
}

// MaskedEmail is the local representation of a Fastmail masked email.
type MaskedEmail struct {
	// ID is the server-assigned identifier.
	ID string `json:"id" db:"id"`

	// Email is the alias address.
	Email string `json:"email" db:"email"`

	State MaskedEmailState `json:"state" db:"state"`

	// ForDomain is the website or domain the alias was created for.
	ForDomain string `json:"forDomain" db:"for_domain"`

	Description string `json:"description" db:"description"`

	// URL is an optional deep link associated with the alias.
	URL string `json:"url,omitempty" db:"url"`

	// CreatedBy names the client that created the alias.
	CreatedBy string `json:"createdBy,omitempty" db:"created_by"`

	CreatedAt     *time.Time `json:"createdAt,omitempty" db:"created_at"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty" db:"last_message_at"`

	// CreatedAtRaw is the creation time exactly as the server sent it.
	CreatedAtRaw string `json:"-" db:"created_at_raw"`

	// FetchedAt is when this record was last retrieved from the server.
	FetchedAt time.Time `json:"-" db:"fetched_at"`
}

// CreatedDate returns the creation date as YYYY-MM-DD, or "" if unknown.
// An unparsed server timestamp yields its first ten characters.
func (m MaskedEmail) CreatedDate() string {
	if m.CreatedAt != nil {
		return m.CreatedAt.UTC().Format("2006-01-02")
	}
	raw := strings.TrimSpace(m.CreatedAtRaw)
	if len(raw) > 10 {
		raw = raw[:10]
	}
	return raw
}

// timestampLayouts are the forms Fastmail has used for timestamps. Zoneless
// forms are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
}

// ParseTimestamp parses a server timestamp. It returns nil for an empty or
// unrecognised value.
func ParseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// NewMaskedEmail holds the properties for a create request.
type NewMaskedEmail struct {
	State       MaskedEmailState
	ForDomain   string
	Description string
	URL         string

	// EmailPrefix asks the server to start the address with this string.
	EmailPrefix string
}

// MaskedEmailUpdate holds the properties to change on an existing alias.
// Nil fields are left untouched.
type MaskedEmailUpdate struct {
	State       *MaskedEmailState
	ForDomain   *string
	Description *string
	URL         *string
}

// Empty reports whether the update changes nothing.
func (u MaskedEmailUpdate) Empty() bool {
	return u.State == nil && u.ForDomain == nil &&
		u.Description == nil && u.URL == nil
}

// FilterEnabled returns only the enabled aliases from emails.
func FilterEnabled(emails []MaskedEmail) []MaskedEmail {
	out := make([]MaskedEmail, 0, len(emails))
	for _, e := range emails {
		if e.State == StateEnabled {
			out = append(out, e)
		}
	}
	return out
}
