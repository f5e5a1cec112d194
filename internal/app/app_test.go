package app

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/tmail/internal/credential"
	"github.com/nhle/tmail/internal/fastmail"
	"github.com/nhle/tmail/internal/model"
	"github.com/nhle/tmail/internal/store"
	"github.com/nhle/tmail/internal/testutil"
)

const testToken = "fmu1-test-token"

func newTestApp(t *testing.T, srv *testutil.FakeJMAP) *App {
	t.Helper()
	t.Setenv(EnvToken, "")

	dir := t.TempDir()
	cfg := model.DefaultAppConfig()
	cfg.SessionURL = srv.SessionURL()
	cfg.MaxRetries = 1
	cfg.Credential = model.CredentialConfig{Backend: "file", FileDir: filepath.Join(dir, "credentials")}
	cfg.Cache.Path = filepath.Join(dir, "cache.db")

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, model.SaveConfig(path, cfg))

	a, err := New(Options{ConfigPath: path, Stderr: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	return a
}

func loggedInApp(t *testing.T, srv *testutil.FakeJMAP) *App {
	t.Helper()
	a := newTestApp(t, srv)
	_, err := a.Login(context.Background(), testToken)
	require.NoError(t, err)
	return a
}

func TestLogin(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	a := newTestApp(t, srv)
	ctx := context.Background()

	session, err := a.Login(ctx, "  "+testToken+"\n")
	require.NoError(t, err)
	assert.Equal(t, "user@fastmail.com", session.Username)

	tok, err := a.Token()
	require.NoError(t, err)
	assert.Equal(t, testToken, tok)

	cfg, err := model.LoadConfig(a.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, srv.AccountID, cfg.AccountID)
	assert.Equal(t, srv.APIURL(), cfg.APIURL)
	assert.Equal(t, "user@fastmail.com", cfg.Username)

	events, err := a.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionLogin, events[0].Action)
}

func TestLogin_OtherAccountClearsCache(t *testing.T) {
	first := testutil.NewFakeJMAP(t, testToken)
	first.Add(testutil.FakeMaskedEmail{Email: "old@fastmail.com"})
	second := testutil.NewFakeJMAP(t, testToken)
	second.AccountID = "u9999ffff"
	second.Username = "other@fastmail.com"
	second.Add(testutil.FakeMaskedEmail{Email: "fresh@fastmail.com"})

	a := loggedInApp(t, first)
	ctx := context.Background()
	_, err := a.List(ctx, ListOptions{})
	require.NoError(t, err)

	a.Config.SessionURL = second.SessionURL()
	_, err = a.Login(ctx, testToken)
	require.NoError(t, err)
	assert.Equal(t, "u9999ffff", a.Config.AccountID)

	cached, err := a.ListCached(ctx, ListOptions{All: true})
	require.NoError(t, err)
	assert.Empty(t, cached)

	_, err = a.Disable(ctx, "old@fastmail.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	for _, call := range second.Calls() {
		assert.NotEqual(t, "MaskedEmail/set", call.Method, "stale id sent to the new account")
	}
	assert.Equal(t, "enabled", first.Find("old@fastmail.com").State)

	events, err := a.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionLogin, events[0].Action)
	assert.Equal(t, "other@fastmail.com", events[0].Detail)
}

func TestLogin_SameAccountKeepsCache(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com"})
	a := loggedInApp(t, srv)
	ctx := context.Background()

	_, err := a.List(ctx, ListOptions{})
	require.NoError(t, err)

	_, err = a.Login(ctx, testToken)
	require.NoError(t, err)

	cached, err := a.ListCached(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "shop@fastmail.com", cached[0].Email)
}

func TestLogin_EmptyToken(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	a := newTestApp(t, srv)

	_, err := a.Login(context.Background(), "   ")
	assert.EqualError(t, err, "token cannot be empty")
	assert.Empty(t, srv.Calls())
}

func TestLogin_FailureKeepsExistingToken(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	a := loggedInApp(t, srv)

	_, err := a.Login(context.Background(), "bad-token")
	require.Error(t, err)
	assert.True(t, fastmail.IsAuthError(err))

	tok, err := a.Token()
	require.NoError(t, err)
	assert.Equal(t, testToken, tok)
}

func TestLogin_MissingCapability(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	srv.NoMaskedEmail = true
	a := newTestApp(t, srv)

	_, err := a.Login(context.Background(), testToken)
	assert.ErrorIs(t, err, fastmail.ErrCapabilityMissing)
	assert.False(t, a.HasStoredToken())
}

func TestToken_NotLoggedIn(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	a := newTestApp(t, srv)

	_, err := a.Token()
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	_, err = a.List(context.Background(), ListOptions{})
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestToken_EnvironmentOverride(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	srv.Add(testutil.FakeMaskedEmail{Email: "a@fastmail.com"})
	a := newTestApp(t, srv)
	t.Setenv(EnvToken, testToken)

	emails, err := a.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Len(t, emails, 1)
	assert.False(t, a.HasStoredToken())
}

func TestListAndCache(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com", Description: "Shop"})
	srv.Add(testutil.FakeMaskedEmail{Email: "old@fastmail.com", State: "disabled"})
	srv.Add(testutil.FakeMaskedEmail{Email: "new@fastmail.com", State: "pending"})
	a := loggedInApp(t, srv)
	ctx := context.Background()

	enabled, err := a.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "shop@fastmail.com", enabled[0].Email)

	all, err := a.List(ctx, ListOptions{All: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	calls := len(srv.Calls())
	cached, err := a.ListCached(ctx, ListOptions{All: true, Search: "OLD"})
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, model.StateDisabled, cached[0].State)
	assert.Len(t, srv.Calls(), calls, "cached list must not hit the server")

	st, err := a.Status(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, st.CacheCounts[model.StateEnabled])
	assert.Equal(t, "state-3", st.CacheState)
	assert.Equal(t, "credential store", st.TokenSource)
	assert.True(t, st.LoggedIn())
	assert.False(t, st.Checked)
}

func TestList_SpaceSeparatedCreatedAt(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com", CreatedAt: "2024-01-15 10:30:00"})
	a := loggedInApp(t, srv)
	ctx := context.Background()

	emails, err := a.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "2024-01-15", emails[0].CreatedDate())

	cached, err := a.Store().GetMaskedEmailByAddress(ctx, "shop@fastmail.com")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", cached.CreatedDate())
	assert.Equal(t, "2024-01-15 10:30:00", cached.CreatedAtRaw)

	me, err := a.Disable(ctx, "shop@fastmail.com")
	require.NoError(t, err)
	assert.Equal(t, model.StateDisabled, me.State)
	assert.Equal(t, "disabled", srv.Find("shop@fastmail.com").State)
}

func TestSessionStateStored(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	a := loggedInApp(t, srv)
	a.Log.SetLevel(logrus.DebugLevel)
	hook := test.NewLocal(a.Log)
	ctx := context.Background()

	_, err := a.List(ctx, ListOptions{})
	require.NoError(t, err)
	got, err := a.Store().GetValue(ctx, store.KeySessionState)
	require.NoError(t, err)
	assert.Equal(t, "session-1", got)

	srv.SetSessionState("session-2")
	_, err = a.List(ctx, ListOptions{})
	require.NoError(t, err)
	got, err = a.Store().GetValue(ctx, store.KeySessionState)
	require.NoError(t, err)
	assert.Equal(t, "session-2", got)

	var changed *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "session state changed" {
			changed = e
		}
	}
	require.NotNil(t, changed)
	assert.Equal(t, "session-1", changed.Data["old"])
	assert.Equal(t, "session-2", changed.Data["new"])
}

func TestList_TokenRevoked(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	a := loggedInApp(t, srv)

	srv.SetAPIStatus(401)
	_, err := a.List(context.Background(), ListOptions{})
	require.Error(t, err)
	assert.True(t, fastmail.IsAuthError(err), "got %v", err)
}

func TestCreate(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	a := loggedInApp(t, srv)
	ctx := context.Background()

	me, err := a.Create(ctx, model.NewMaskedEmail{Description: "News", ForDomain: "news.example"})
	require.NoError(t, err)
	assert.Equal(t, model.StateEnabled, me.State)

	cached, err := a.Store().GetMaskedEmailByAddress(ctx, me.Email)
	require.NoError(t, err)
	assert.Equal(t, "News", cached.Description)

	events, err := a.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionCreated, events[0].Action)
	assert.Equal(t, "News (news.example)", events[0].Detail)
}

func TestCreate_InvalidState(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	a := loggedInApp(t, srv)

	_, err := a.Create(context.Background(), model.NewMaskedEmail{State: model.StateDisabled})
	assert.Error(t, err)
}

func TestCreate_RateLimited(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	srv.CreateError = "rateLimit"
	a := loggedInApp(t, srv)

	_, err := a.Create(context.Background(), model.NewMaskedEmail{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating masked email: rate limit reached")
}

func TestDisable(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	me := srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com"})
	a := loggedInApp(t, srv)
	ctx := context.Background()

	updated, err := a.Disable(ctx, "shop@fastmail.com")
	require.NoError(t, err)
	assert.Equal(t, model.StateDisabled, updated.State)

	call := srv.LastCall(t)
	assert.Equal(t, "MaskedEmail/set", call.Method)
	assert.Equal(t, map[string]interface{}{
		me.ID: map[string]interface{}{"state": "disabled"},
	}, call.Args["update"])
	assert.Equal(t, "disabled", srv.Find("shop@fastmail.com").State)

	cached, err := a.Store().GetMaskedEmailByAddress(ctx, "shop@fastmail.com")
	require.NoError(t, err)
	assert.Equal(t, model.StateDisabled, cached.State)

	// The cached copy resolves the next lookup without a get.
	_, err = a.Enable(ctx, "shop@fastmail.com")
	require.NoError(t, err)
	assert.Equal(t, "MaskedEmail/set", srv.LastCall(t).Method)
	assert.Equal(t, "enabled", srv.Find("shop@fastmail.com").State)
}

func TestDestroy(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com"})
	a := loggedInApp(t, srv)

	_, err := a.Destroy(context.Background(), "shop@fastmail.com")
	require.NoError(t, err)
	assert.Equal(t, "deleted", srv.Find("shop@fastmail.com").State)

	events, err := a.History(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.ActionDestroyed, events[0].Action)
}

func TestUpdate(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	srv.Add(testutil.FakeMaskedEmail{Email: "shop@fastmail.com", Description: "Shop"})
	a := loggedInApp(t, srv)
	ctx := context.Background()

	desc := "Groceries"
	domain := "grocer.example"
	me, err := a.Update(ctx, "shop@fastmail.com", model.MaskedEmailUpdate{
		Description: &desc,
		ForDomain:   &domain,
	})
	require.NoError(t, err)
	assert.Equal(t, "Groceries", me.Description)
	assert.Equal(t, "grocer.example", srv.Find("shop@fastmail.com").ForDomain)

	_, err = a.Update(ctx, "shop@fastmail.com", model.MaskedEmailUpdate{})
	assert.Error(t, err)
}

func TestFind_RefreshesOnCacheMiss(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	a := loggedInApp(t, srv)
	ctx := context.Background()

	_, err := a.List(ctx, ListOptions{})
	require.NoError(t, err)

	srv.Add(testutil.FakeMaskedEmail{Email: "late@fastmail.com"})

	me, err := a.Find(ctx, "late@fastmail.com")
	require.NoError(t, err)
	assert.Equal(t, "late@fastmail.com", me.Email)
}

func TestFind_NotFound(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	a := loggedInApp(t, srv)

	_, err := a.Disable(context.Background(), "nope@fastmail.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.EqualError(t, err, "masked email 'nope@fastmail.com' not found")
}

func TestLogout(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	srv.Add(testutil.FakeMaskedEmail{Email: "a@fastmail.com"})
	a := loggedInApp(t, srv)
	ctx := context.Background()

	_, err := a.List(ctx, ListOptions{})
	require.NoError(t, err)

	require.NoError(t, a.Logout(ctx))

	_, err = a.Token()
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	cached, err := a.ListCached(ctx, ListOptions{All: true})
	require.NoError(t, err)
	assert.Empty(t, cached)

	cfg, err := model.LoadConfig(a.ConfigPath)
	require.NoError(t, err)
	assert.Empty(t, cfg.AccountID)
	assert.False(t, cfg.LoggedIn())

	events, err := a.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionLogout, events[0].Action)

	// Logging out twice is fine.
	require.NoError(t, a.Logout(ctx))
}

func TestStatus_Check(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	a := loggedInApp(t, srv)

	st, err := a.Status(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, st.Checked)
	assert.NoError(t, st.CheckErr)
	assert.Equal(t, "user@fastmail.com", st.Username)

	require.NoError(t, credential.New(a.Config.Credential).Set(credential.TokenKey, "revoked"))
	b, err := New(Options{ConfigPath: a.ConfigPath, Stderr: io.Discard})
	require.NoError(t, err)
	defer b.Close()

	st, err = b.Status(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, fastmail.IsAuthError(st.CheckErr))
}

func TestCacheDisabled(t *testing.T) {
	srv := testutil.NewFakeJMAP(t, testToken)
	t.Setenv(EnvToken, testToken)

	dir := t.TempDir()
	cfg := model.DefaultAppConfig()
	cfg.SessionURL = srv.SessionURL()
	cfg.Cache.Enabled = false
	cfg.Credential = model.CredentialConfig{Backend: "file", FileDir: dir}
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, model.SaveConfig(path, cfg))

	a, err := New(Options{ConfigPath: path, Stderr: io.Discard})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Store())
	srv.Add(testutil.FakeMaskedEmail{Email: "a@fastmail.com"})

	_, err = a.Disable(context.Background(), "a@fastmail.com")
	require.NoError(t, err)

	_, err = a.ListCached(context.Background(), ListOptions{})
	assert.Error(t, err)
	assert.Empty(t, a.CachedAddresses(context.Background()))
}

func TestFilter(t *testing.T) {
	emails := []model.MaskedEmail{
		{Email: "a@fastmail.com", State: model.StateEnabled, Description: "Bank"},
		{Email: "b@fastmail.com", State: model.StateDisabled, ForDomain: "bank.example"},
		{Email: "c@fastmail.com", State: model.StateEnabled, ForDomain: "shop.example"},
	}

	assert.Len(t, Filter(emails, ListOptions{}), 2)
	assert.Len(t, Filter(emails, ListOptions{All: true}), 3)
	assert.Len(t, Filter(emails, ListOptions{All: true, Search: "bank"}), 2)
	assert.Len(t, Filter(emails, ListOptions{Search: "BANK"}), 1)
}
