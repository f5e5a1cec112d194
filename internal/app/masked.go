package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/nhle/tmail/internal/model"
	"github.com/nhle/tmail/internal/store"
)

// ListOptions filters List and ListCached.
type ListOptions struct {
	// All includes pending, disabled and deleted aliases.
	All bool

	// Search keeps aliases whose address, description or domain contains
	// this text, case-insensitively.
	Search string
}

// Refresh fetches every masked email and replaces the cached snapshot.
func (a *App) Refresh(ctx context.Context) ([]model.MaskedEmail, error) {
	adapter, err := a.Adapter()
	if err != nil {
		return nil, err
	}

	emails, state, err := adapter.List(ctx)
	if err != nil {
		return nil, err
	}
	a.noteSessionState(ctx)

	if a.store != nil {
		if err := a.store.ReplaceMaskedEmails(ctx, emails); err != nil {
			a.Log.WithError(err).Warn("updating cache")
		} else if err := a.store.SetValue(ctx, store.KeyMaskedEmailState, state); err != nil {
			a.Log.WithError(err).Warn("storing masked email state")
		}
	}

	a.Log.WithField("count", len(emails)).Debug("fetched masked emails")
	return emails, nil
}

// List fetches masked emails from the server and filters them.
func (a *App) List(ctx context.Context, opts ListOptions) ([]model.MaskedEmail, error) {
	emails, err := a.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(emails, opts), nil
}

// ListCached returns masked emails from the cache without any network
// access.
func (a *App) ListCached(ctx context.Context, opts ListOptions) ([]model.MaskedEmail, error) {
	if a.store == nil {
		return nil, fmt.Errorf("the local cache is disabled (cache.enabled: false)")
	}

	filter := store.MaskedEmailFilter{}
	if !opts.All {
		filter.States = []model.MaskedEmailState{model.StateEnabled}
	}
	if opts.Search != "" {
		q := opts.Search
		filter.Query = &q
	}
	return a.store.GetMaskedEmails(ctx, filter)
}

// Filter applies opts to emails, keeping their order.
func Filter(emails []model.MaskedEmail, opts ListOptions) []model.MaskedEmail {
	if !opts.All {
		emails = model.FilterEnabled(emails)
	}
	q := strings.ToLower(strings.TrimSpace(opts.Search))
	if q == "" {
		return emails
	}

	out := make([]model.MaskedEmail, 0, len(emails))
	for _, me := range emails {
		if strings.Contains(strings.ToLower(me.Email), q) ||
			strings.Contains(strings.ToLower(me.Description), q) ||
			strings.Contains(strings.ToLower(me.ForDomain), q) {
			out = append(out, me)
		}
	}
	return out
}

// Create asks the server for a new masked email.
func (a *App) Create(ctx context.Context, req model.NewMaskedEmail) (*model.MaskedEmail, error) {
	if req.State != "" && req.State != model.StateEnabled && req.State != model.StatePending {
		return nil, fmt.Errorf("a new masked email must be enabled or pending, not %s", req.State)
	}

	adapter, err := a.Adapter()
	if err != nil {
		return nil, err
	}

	me, err := adapter.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	a.noteSessionState(ctx)

	a.cache(ctx, *me)
	a.record(ctx, model.ActionCreated, me.Email, describe(me.Description, me.ForDomain))
	a.Log.WithField("email", me.Email).Info("masked email created")

	return me, nil
}

// Find resolves an address to a masked email, from the cache first and
// from the server on a miss.
func (a *App) Find(ctx context.Context, email string) (*model.MaskedEmail, error) {
	email = strings.TrimSpace(email)

	if a.store != nil {
		me, err := a.store.GetMaskedEmailByAddress(ctx, email)
		if err == nil {
			return me, nil
		}
		if !store.IsNotFound(err) {
			a.Log.WithError(err).Warn("reading cache")
		}
	}

	emails, err := a.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	for i := range emails {
		if strings.EqualFold(emails[i].Email, email) {
			return &emails[i], nil
		}
	}

	return nil, &NotFoundError{Email: email}
}

// Update changes the description, domain or URL of the alias at email.
func (a *App) Update(
	ctx context.Context,
	email string,
	u model.MaskedEmailUpdate,
) (*model.MaskedEmail, error) {
	if u.Empty() {
		return nil, fmt.Errorf("nothing to update: give a description or a website")
	}
	me, err := a.apply(ctx, email, u)
	if err != nil {
		return nil, err
	}

	var parts []string
	if u.Description != nil {
		parts = append(parts, fmt.Sprintf("description=%q", *u.Description))
	}
	if u.ForDomain != nil {
		parts = append(parts, fmt.Sprintf("forDomain=%q", *u.ForDomain))
	}
	if u.URL != nil {
		parts = append(parts, fmt.Sprintf("url=%q", *u.URL))
	}
	a.record(ctx, model.ActionUpdated, me.Email, strings.Join(parts, " "))

	return me, nil
}

// Enable moves the alias at email to the enabled state.
func (a *App) Enable(ctx context.Context, email string) (*model.MaskedEmail, error) {
	return a.setState(ctx, email, model.StateEnabled, model.ActionEnabled)
}

// Disable archives the alias at email: mail sent to it goes to trash.
func (a *App) Disable(ctx context.Context, email string) (*model.MaskedEmail, error) {
	return a.setState(ctx, email, model.StateDisabled, model.ActionDisabled)
}

// Destroy moves the alias at email to the deleted state.
func (a *App) Destroy(ctx context.Context, email string) (*model.MaskedEmail, error) {
	return a.setState(ctx, email, model.StateDeleted, model.ActionDestroyed)
}

func (a *App) setState(
	ctx context.Context,
	email string,
	state model.MaskedEmailState,
	action model.EventAction,
) (*model.MaskedEmail, error) {
	me, err := a.apply(ctx, email, model.MaskedEmailUpdate{State: &state})
	if err != nil {
		return nil, err
	}
	a.record(ctx, action, me.Email, "")
	return me, nil
}

// apply resolves email, sends u and updates the cached copy.
func (a *App) apply(
	ctx context.Context,
	email string,
	u model.MaskedEmailUpdate,
) (*model.MaskedEmail, error) {
	me, err := a.Find(ctx, email)
	if err != nil {
		return nil, err
	}

	adapter, err := a.Adapter()
	if err != nil {
		return nil, err
	}
	if err := adapter.Update(ctx, me.ID, u); err != nil {
		return nil, err
	}
	a.noteSessionState(ctx)

	updated := *me
	if u.State != nil {
		updated.State = *u.State
	}
	if u.Description != nil {
		updated.Description = *u.Description
	}
	if u.ForDomain != nil {
		updated.ForDomain = *u.ForDomain
	}
	if u.URL != nil {
		updated.URL = *u.URL
	}
	a.cache(ctx, updated)

	a.Log.WithField("email", updated.Email).Info("masked email updated")
	return &updated, nil
}

func (a *App) cache(ctx context.Context, me model.MaskedEmail) {
	if a.store == nil {
		return
	}
	if err := a.store.UpsertMaskedEmail(ctx, me); err != nil {
		a.Log.WithError(err).Warn("updating cache")
	}
}

// CachedAddresses returns cached addresses in the given states, for
// shell completion.
func (a *App) CachedAddresses(ctx context.Context, states ...model.MaskedEmailState) []string {
	if a.store == nil {
		return nil
	}
	emails, err := a.store.GetMaskedEmails(ctx, store.MaskedEmailFilter{States: states})
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(emails))
	for _, me := range emails {
		out = append(out, me.Email)
	}
	return out
}

// History returns the most recent actions taken through tmail.
func (a *App) History(ctx context.Context, limit int) ([]model.Event, error) {
	if a.store == nil {
		return nil, fmt.Errorf("history needs the local cache (cache.enabled: false)")
	}
	return a.store.GetEvents(ctx, limit)
}

func describe(description, domain string) string {
	switch {
	case description != "" && domain != "":
		return description + " (" + domain + ")"
	case domain != "":
		return domain
	}
	return description
}
