package store

import (
	"context"
	"errors"

	"github.com/nhle/tmail/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Well-known kv keys.
const (
	KeyMaskedEmailState = "state/maskedemail"
	KeySessionState     = "session/state"
)

// MaskedEmailFilter controls filtering for masked email queries.
type MaskedEmailFilter struct {
	States []model.MaskedEmailState // any of these states, or all when empty
	Query  *string                  // search email, description and domain
	Limit  int
}

// Store defines the persistence interface for the local masked email
// cache and the history of actions taken through tmail.
type Store interface {
	// === Masked emails ===

	ReplaceMaskedEmails(ctx context.Context, emails []model.MaskedEmail) error
	UpsertMaskedEmail(ctx context.Context, me model.MaskedEmail) error
	GetMaskedEmails(ctx context.Context, filter MaskedEmailFilter) ([]model.MaskedEmail, error)
	GetMaskedEmailByAddress(ctx context.Context, email string) (*model.MaskedEmail, error)
	CountMaskedEmails(ctx context.Context) (map[model.MaskedEmailState]int, error)

	// === Key/value ===

	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error

	// === History ===

	RecordEvent(ctx context.Context, e model.Event) error
	GetEvents(ctx context.Context, limit int) ([]model.Event, error)

	Purge(ctx context.Context) error
	Close() error
}
