package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nhle/tmail/internal/credential"
	"github.com/nhle/tmail/internal/fastmail"
	"github.com/nhle/tmail/internal/model"
	"github.com/nhle/tmail/internal/store"
)

// Login validates token against the session endpoint, then persists the
// token and the resolved account. Nothing is persisted on failure. The
// cache is cleared when the token belongs to a different account.
func (a *App) Login(ctx context.Context, token string) (*fastmail.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	adapter := fastmail.NewAdapter(a.newClient(token), "", "")
	session, err := adapter.ValidateConnection(ctx)
	if err != nil {
		return nil, fmt.Errorf("validating token: %w", err)
	}

	if a.store != nil && adapter.AccountID() != a.Config.AccountID {
		if err := a.store.Purge(ctx); err != nil {
			return nil, fmt.Errorf("clearing cache: %w", err)
		}
		a.Log.WithFields(logrus.Fields{
			"old": a.Config.AccountID,
			"new": adapter.AccountID(),
		}).Debug("account changed, cache cleared")
	}

	if err := a.tokens.Set(credential.TokenKey, token); err != nil {
		return nil, fmt.Errorf("saving API token: %w", err)
	}

	a.Config.AccountID = adapter.AccountID()
	a.Config.APIURL = adapter.APIURL()
	a.Config.Username = session.Username
	if err := model.SaveConfig(a.ConfigPath, a.Config); err != nil {
		return nil, err
	}

	a.adapter = adapter
	a.record(ctx, model.ActionLogin, "", session.Username)
	a.Log.WithField("account", a.Config.AccountID).Info("logged in")

	return session, nil
}

// Logout removes the stored token, forgets the account and drops the
// cache.
func (a *App) Logout(ctx context.Context) error {
	if err := a.tokens.Delete(credential.TokenKey); err != nil {
		return fmt.Errorf("removing API token: %w", err)
	}

	a.Config.AccountID = ""
	a.Config.APIURL = ""
	a.Config.Username = ""
	if err := model.SaveConfig(a.ConfigPath, a.Config); err != nil {
		return err
	}

	if a.store != nil {
		if err := a.store.Purge(ctx); err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}
	}

	a.adapter = nil
	a.record(ctx, model.ActionLogout, "", "")
	a.Log.Info("logged out")
	return nil
}

// Status describes the local login and cache state.
type Status struct {
	ConfigPath string
	Username   string
	AccountID  string
	APIURL     string

	// TokenSource is "environment", "credential store" or "".
	TokenSource string

	CacheEnabled bool
	CachePath    string
	CacheCounts  map[model.MaskedEmailState]int
	CacheState   string

	// Checked is set when the session was re-validated.
	Checked  bool
	CheckErr error
}

// LoggedIn reports whether a token is available and an account resolved.
func (s *Status) LoggedIn() bool {
	return s.TokenSource != "" && s.AccountID != ""
}

// Status reports the local state. With check set the session is fetched
// again to validate the token.
func (a *App) Status(ctx context.Context, check bool) (*Status, error) {
	st := &Status{
		ConfigPath:   a.ConfigPath,
		Username:     a.Config.Username,
		AccountID:    a.Config.AccountID,
		APIURL:       a.Config.APIURL,
		CacheEnabled: a.store != nil,
		CachePath:    a.Config.Cache.Path,
	}

	switch {
	case envToken() != "":
		st.TokenSource = "environment"
	case a.HasStoredToken():
		st.TokenSource = "credential store"
	}

	if a.store != nil {
		counts, err := a.store.CountMaskedEmails(ctx)
		if err != nil {
			return nil, err
		}
		st.CacheCounts = counts
		if state, err := a.store.GetValue(ctx, store.KeyMaskedEmailState); err == nil {
			st.CacheState = state
		}
	}

	if check {
		st.Checked = true
		adapter, err := a.Adapter()
		if err == nil {
			var session *fastmail.Session
			session, err = adapter.ValidateConnection(ctx)
			if err == nil {
				st.Username = session.Username
				st.AccountID = adapter.AccountID()
				st.APIURL = adapter.APIURL()
			}
		}
		st.CheckErr = err
	}

	return st, nil
}
