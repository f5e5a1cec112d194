package fastmail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"git.sr.ht/~rockorager/go-jmap"
	"github.com/google/uuid"

	"github.com/nhle/tmail/internal/model"
)

// Adapter exposes masked email operations for one Fastmail account.
// It is safe for concurrent use.
type Adapter struct {
	client *Client

	mu           sync.Mutex
	accountID    jmap.ID
	apiURL       string
	sessionState string
}

// NewAdapter creates a masked email adapter. When apiURL is empty it is
// discovered from the session on first use.
func NewAdapter(client *Client, accountID, apiURL string) *Adapter {
	return &Adapter{
		client:    client,
		accountID: jmap.ID(accountID),
		apiURL:    apiURL,
	}
}

// AccountID returns the account the adapter operates on.
func (a *Adapter) AccountID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return string(a.accountID)
}

// APIURL returns the JMAP API endpoint, empty until discovered.
func (a *Adapter) APIURL() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.apiURL
}

// SessionState returns the sessionState of the last API response.
func (a *Adapter) SessionState() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionState
}

// ValidateConnection verifies the token by fetching the session and
// resolving the masked email account. On success the adapter is bound
// to that account.
func (a *Adapter) ValidateConnection(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.validateLocked(ctx)
}

func (a *Adapter) validateLocked(ctx context.Context) (*Session, error) {
	session, err := a.client.Session(ctx)
	if err != nil {
		return nil, err
	}

	accountID, err := session.MaskedEmailAccount()
	if err != nil {
		return nil, err
	}

	a.accountID = accountID
	if session.APIURL != "" {
		a.apiURL = session.APIURL
	}
	a.sessionState = session.State

	return session, nil
}

// endpoint returns the account and API URL, discovering them from the
// session when either is unknown.
func (a *Adapter) endpoint(ctx context.Context) (jmap.ID, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accountID == "" || a.apiURL == "" {
		if _, err := a.validateLocked(ctx); err != nil {
			return "", "", err
		}
	}
	return a.accountID, a.apiURL, nil
}

// invoke sends a single method call built for the bound account and
// returns its typed response.
func (a *Adapter) invoke(
	ctx context.Context,
	build func(account jmap.ID) jmap.Method,
) (jmap.MethodResponse, error) {
	accountID, apiURL, err := a.endpoint(ctx)
	if err != nil {
		return nil, err
	}

	m := build(accountID)
	var req jmap.Request
	req.Invoke(m)

	resp, err := a.client.Call(ctx, apiURL, &req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", m.Name(), err)
	}

	a.mu.Lock()
	a.sessionState = resp.SessionState
	a.mu.Unlock()

	for _, inv := range resp.Responses {
		switch r := inv.Args.(type) {
		case *jmap.MethodError:
			return nil, wrapMethodError(m.Name(), r)
		case *GetResponse, *SetResponse:
			return r, nil
		}
	}

	return nil, fmt.Errorf("no %s response from server", m.Name())
}

// List returns every masked email in the account together with the
// JMAP state string of the collection.
func (a *Adapter) List(ctx context.Context) ([]model.MaskedEmail, string, error) {
	resp, err := a.invoke(ctx, func(account jmap.ID) jmap.Method {
		return &Get{Account: account}
	})
	if err != nil {
		return nil, "", fmt.Errorf("listing masked emails: %w", err)
	}

	getResp, ok := resp.(*GetResponse)
	if !ok {
		return nil, "", fmt.Errorf("listing masked emails: unexpected response %T", resp)
	}

	now := time.Now().UTC()
	emails := make([]model.MaskedEmail, 0, len(getResp.List))
	for _, me := range getResp.List {
		if me == nil {
			continue
		}
		emails = append(emails, toModel(me, now))
	}

	return emails, getResp.State, nil
}

// Create asks the server for a new masked email and returns it. The
// server only echoes server-set properties, so the requested ones are
// merged into the result.
func (a *Adapter) Create(
	ctx context.Context,
	req model.NewMaskedEmail,
) (*model.MaskedEmail, error) {
	state := req.State
	if state == "" {
		state = model.StateEnabled
	}

	wire := &MaskedEmail{
		State:       string(state),
		Description: req.Description,
		ForDomain:   req.ForDomain,
		URL:         req.URL,
		EmailPrefix: req.EmailPrefix,
	}
	creationID := jmap.ID(uuid.NewString())

	resp, err := a.invoke(ctx, func(account jmap.ID) jmap.Method {
		return &Set{
			Account: account,
			Create:  map[jmap.ID]*MaskedEmail{creationID: wire},
		}
	})
	if err != nil {
		return nil, fmt.Errorf("creating masked email: %w", err)
	}

	setResp, ok := resp.(*SetResponse)
	if !ok {
		return nil, fmt.Errorf("creating masked email: unexpected response %T", resp)
	}

	if created, ok := setResp.Created[creationID]; ok && created != nil {
		merged := *created
		if merged.State == "" {
			merged.State = wire.State
		}
		if merged.Description == "" {
			merged.Description = wire.Description
		}
		if merged.ForDomain == "" {
			merged.ForDomain = wire.ForDomain
		}
		if merged.URL == "" {
			merged.URL = wire.URL
		}
		if merged.Email == "" {
			return nil, fmt.Errorf("creating masked email: server returned no address")
		}
		me := toModel(&merged, time.Now().UTC())
		return &me, nil
	}

	if setErr, ok := setResp.NotCreated[creationID]; ok {
		return nil, fmt.Errorf("creating masked email: %w", wrapSetError(creationID, setErr))
	}

	return nil, fmt.Errorf("creating masked email: unexpected response: %+v", setResp)
}

// Update applies u to the masked email with the given id.
func (a *Adapter) Update(
	ctx context.Context,
	id string,
	u model.MaskedEmailUpdate,
) error {
	if u.Empty() {
		return nil
	}

	patch := jmap.Patch{}
	if u.State != nil {
		patch["state"] = string(*u.State)
	}
	if u.Description != nil {
		patch["description"] = *u.Description
	}
	if u.ForDomain != nil {
		patch["forDomain"] = *u.ForDomain
	}
	if u.URL != nil {
		patch["url"] = *u.URL
	}

	mid := jmap.ID(id)
	resp, err := a.invoke(ctx, func(account jmap.ID) jmap.Method {
		return &Set{
			Account: account,
			Update:  map[jmap.ID]jmap.Patch{mid: patch},
		}
	})
	if err != nil {
		return fmt.Errorf("updating masked email %s: %w", id, err)
	}

	setResp, ok := resp.(*SetResponse)
	if !ok {
		return fmt.Errorf("updating masked email %s: unexpected response %T", id, resp)
	}

	if _, ok := setResp.Updated[mid]; ok {
		return nil
	}
	if setErr, ok := setResp.NotUpdated[mid]; ok {
		return fmt.Errorf("updating masked email %s: %w", id, wrapSetError(mid, setErr))
	}

	return fmt.Errorf("updating masked email %s: unexpected response: %+v", id, setResp)
}

// SetState moves the masked email with the given id to state.
func (a *Adapter) SetState(
	ctx context.Context,
	id string,
	state model.MaskedEmailState,
) error {
	return a.Update(ctx, id, model.MaskedEmailUpdate{State: &state})
}

// toModel converts a wire object into the local representation.
func toModel(me *MaskedEmail, fetchedAt time.Time) model.MaskedEmail {
	return model.MaskedEmail{
		ID:            string(me.ID),
		Email:         me.Email,
		State:         model.MaskedEmailState(me.State),
		ForDomain:     me.ForDomain,
		Description:   me.Description,
		URL:           me.URL,
		CreatedBy:     me.CreatedBy,
		CreatedAt:     model.ParseTimestamp(me.CreatedAt),
		LastMessageAt: model.ParseTimestamp(me.LastMessageAt),
		CreatedAtRaw:  me.CreatedAt,
		FetchedAt:     fetchedAt,
	}
}
